package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	mailboxdomain "mailpilot-backend/internal/mailbox/domain"
	"mailpilot-backend/internal/rule/domain"
	"mailpilot-backend/pkg/ai"
	"mailpilot-backend/pkg/provider"
)

// fakeProvider implements provider.Provider with overridable behavior
// and a call log.
type fakeProvider struct {
	mu    sync.Mutex
	calls []string

	messages map[string]*provider.Message
	delta    *provider.Delta

	getMessageErr error
	archiveErr    error
	applyLabelErr error
	historyErr    error

	draftID string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		messages: map[string]*provider.Message{},
		draftID:  "draft-1",
	}
}

func (f *fakeProvider) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeProvider) called(call string) bool {
	return f.callCount(call) > 0
}

func (f *fakeProvider) callCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeProvider) Kind() provider.Kind { return provider.KindGmail }

func (f *fakeProvider) GetMessage(ctx context.Context, id string) (*provider.Message, error) {
	f.record("GetMessage:" + id)
	if f.getMessageErr != nil {
		return nil, f.getMessageErr
	}
	msg, ok := f.messages[id]
	if !ok {
		return nil, provider.NewError(provider.Permanent, "fake.GetMessage", fmt.Errorf("no message %s", id))
	}
	return msg, nil
}

func (f *fakeProvider) GetThread(ctx context.Context, id string) (*provider.Thread, error) {
	f.record("GetThread:" + id)
	return &provider.Thread{ID: id}, nil
}

func (f *fakeProvider) ApplyLabels(ctx context.Context, messageID string, add, remove []string) error {
	f.record("ApplyLabels:" + messageID)
	return f.applyLabelErr
}

func (f *fakeProvider) Archive(ctx context.Context, threadID string) error {
	f.record("Archive:" + threadID)
	return f.archiveErr
}

func (f *fakeProvider) MoveToFolder(ctx context.Context, messageID, folder string) error {
	f.record("MoveToFolder:" + messageID + ":" + folder)
	return nil
}

func (f *fakeProvider) MarkRead(ctx context.Context, messageID string) error {
	f.record("MarkRead:" + messageID)
	return nil
}

func (f *fakeProvider) MarkSpam(ctx context.Context, messageID string) error {
	f.record("MarkSpam:" + messageID)
	return nil
}

func (f *fakeProvider) Trash(ctx context.Context, messageID string) error {
	f.record("Trash:" + messageID)
	return nil
}

func (f *fakeProvider) CreateDraft(ctx context.Context, params provider.DraftParams) (string, error) {
	f.record("CreateDraft:" + params.To)
	return f.draftID, nil
}

func (f *fakeProvider) SendReply(ctx context.Context, params provider.DraftParams) error {
	f.record("SendReply:" + params.To)
	return nil
}

func (f *fakeProvider) Forward(ctx context.Context, params provider.ForwardParams) error {
	f.record("Forward:" + params.To)
	return nil
}

func (f *fakeProvider) SendEmail(ctx context.Context, params provider.DraftParams) error {
	f.record("SendEmail:" + params.To)
	return nil
}

func (f *fakeProvider) GetHistorySince(ctx context.Context, cursor string) (*provider.Delta, error) {
	f.record("GetHistorySince:" + cursor)
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	if f.delta != nil {
		return f.delta, nil
	}
	return &provider.Delta{}, nil
}

func (f *fakeProvider) Watch(ctx context.Context) (*provider.WatchInfo, error) {
	f.record("Watch")
	return &provider.WatchInfo{}, nil
}

func (f *fakeProvider) StopWatch(ctx context.Context) error {
	f.record("StopWatch")
	return nil
}

func (f *fakeProvider) IsDraftSent(ctx context.Context, draftID string) (bool, error) {
	f.record("IsDraftSent:" + draftID)
	return false, nil
}

// fakeMailboxRepo is an in-memory mailbox store.
type fakeMailboxRepo struct {
	mu        sync.Mutex
	mailboxes map[string]*mailboxdomain.Mailbox
}

func newFakeMailboxRepo(mbs ...*mailboxdomain.Mailbox) *fakeMailboxRepo {
	r := &fakeMailboxRepo{mailboxes: map[string]*mailboxdomain.Mailbox{}}
	for _, mb := range mbs {
		r.mailboxes[mb.ID] = mb
	}
	return r
}

func (r *fakeMailboxRepo) FindByID(id string) (*mailboxdomain.Mailbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mailboxes[id], nil
}

func (r *fakeMailboxRepo) FindByEmail(email string) (*mailboxdomain.Mailbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, mb := range r.mailboxes {
		if mb.Email == email {
			return mb, nil
		}
	}
	return nil, nil
}

func (r *fakeMailboxRepo) ListActive() ([]mailboxdomain.Mailbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []mailboxdomain.Mailbox
	for _, mb := range r.mailboxes {
		if mb.Status == mailboxdomain.StatusActive {
			out = append(out, *mb)
		}
	}
	return out, nil
}

func (r *fakeMailboxRepo) UpdateTokens(id, accessToken, refreshToken string) error {
	return nil
}

func (r *fakeMailboxRepo) SetStatus(id string, status mailboxdomain.MailboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mb, ok := r.mailboxes[id]; ok {
		mb.Status = status
	}
	return nil
}

// fakeRuleRepo serves a fixed rule set.
type fakeRuleRepo struct {
	rules []domain.Rule
}

func (r *fakeRuleRepo) ListEnabled(mailboxID string) ([]domain.Rule, error) {
	var out []domain.Rule
	for _, rule := range r.rules {
		if rule.MailboxID == mailboxID && rule.Enabled {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *fakeRuleRepo) FindByID(id string) (*domain.Rule, error) {
	for i := range r.rules {
		if r.rules[i].ID == id {
			return &r.rules[i], nil
		}
	}
	return nil, nil
}

// fakeExecutedRepo is an in-memory execution history.
type fakeExecutedRepo struct {
	mu      sync.Mutex
	records map[string]*domain.ExecutedRule
}

func newFakeExecutedRepo() *fakeExecutedRepo {
	return &fakeExecutedRepo{records: map[string]*domain.ExecutedRule{}}
}

func (r *fakeExecutedRepo) FindByMessage(mailboxID, messageID string) (*domain.ExecutedRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.MailboxID == mailboxID && rec.MessageID == messageID {
			return rec, nil
		}
	}
	return nil, nil
}

func (r *fakeExecutedRepo) HasThreadExecution(mailboxID, threadID, ruleID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.MailboxID == mailboxID && rec.ThreadID == threadID &&
			rec.RuleID == ruleID && rec.Status == domain.StatusApplied {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeExecutedRepo) Create(record *domain.ExecutedRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	r.records[record.ID] = record
	return nil
}

func (r *fakeExecutedRepo) Finalize(record *domain.ExecutedRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ID] = record
	return nil
}

func (r *fakeExecutedRepo) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	return nil
}

func (r *fakeExecutedRepo) ListByMailbox(mailboxID string, limit int) ([]domain.ExecutedRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ExecutedRule
	for _, rec := range r.records {
		if rec.MailboxID == mailboxID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *fakeExecutedRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// fakeTrackingRepo records tracking calls in memory.
type fakeTrackingRepo struct {
	mu       sync.Mutex
	drafts   []domain.SentDraft
	threads  []domain.TrackedThread
	digests  []domain.DigestEntry
}

func (r *fakeTrackingRepo) CreateSentDraft(mailboxID, threadID, draftID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drafts = append(r.drafts, domain.SentDraft{MailboxID: mailboxID, ThreadID: threadID, DraftID: draftID})
	return nil
}

func (r *fakeTrackingRepo) ListUnsentDrafts(mailboxID string) ([]domain.SentDraft, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SentDraft(nil), r.drafts...), nil
}

func (r *fakeTrackingRepo) MarkDraftSent(id string) error { return nil }

func (r *fakeTrackingRepo) TrackThread(mailboxID, threadID, ruleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads = append(r.threads, domain.TrackedThread{MailboxID: mailboxID, ThreadID: threadID, RuleID: ruleID})
	return nil
}

func (r *fakeTrackingRepo) IsThreadTracked(mailboxID, threadID string) (bool, error) {
	return false, nil
}

func (r *fakeTrackingRepo) AddDigestEntry(entry *domain.DigestEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.digests = append(r.digests, *entry)
	return nil
}

func (r *fakeTrackingRepo) PendingDigest(mailboxID string) ([]domain.DigestEntry, error) {
	return nil, nil
}

func (r *fakeTrackingRepo) MarkDigestDelivered(ids []string) error { return nil }

// fakeClassifier returns a fixed decision or error.
type fakeClassifier struct {
	decision *ai.Decision
	err      error
	inputs   []ai.ClassifyInput
	mu       sync.Mutex
}

func (c *fakeClassifier) Classify(ctx context.Context, input ai.ClassifyInput) (*ai.Decision, error) {
	c.mu.Lock()
	c.inputs = append(c.inputs, input)
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return c.decision, nil
}
