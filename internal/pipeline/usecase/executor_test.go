package usecase

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mailboxdomain "mailpilot-backend/internal/mailbox/domain"
	"mailpilot-backend/internal/rule/domain"
	"mailpilot-backend/pkg/ai"
	"mailpilot-backend/pkg/provider"
	"mailpilot-backend/pkg/webhook"
)

type executorFixture struct {
	executor  *Executor
	executed  *fakeExecutedRepo
	tracking  *fakeTrackingRepo
	mailboxes *fakeMailboxRepo
	mailbox   *mailboxdomain.Mailbox
	prov      *fakeProvider
	msg       *provider.Message
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	mb := &mailboxdomain.Mailbox{ID: "mb1", Email: "user@example.com", Status: mailboxdomain.StatusActive}
	f := &executorFixture{
		executed:  newFakeExecutedRepo(),
		tracking:  &fakeTrackingRepo{},
		mailboxes: newFakeMailboxRepo(mb),
		mailbox:   mb,
		prov:      newFakeProvider(),
		msg: &provider.Message{
			ID:           "m1",
			ThreadID:     "t1",
			From:         "alice@example.com",
			Subject:      "Question about pricing",
			Snippet:      "Hi, quick question...",
			RFCMessageID: "<abc@mail.example.com>",
		},
	}
	f.executor = NewExecutor(f.executed, f.tracking, f.mailboxes, webhook.NewSender(), 0.5)
	return f
}

func decision() *ai.Decision {
	return &ai.Decision{RuleID: "r1", Explanation: "matched", Confidence: 0.9, ActionArgs: map[string]string{}}
}

func TestExecuteActionOutcomesAreIndependent(t *testing.T) {
	f := newExecutorFixture(t)
	f.prov.applyLabelErr = provider.NewError(provider.Permanent, "fake.ApplyLabels", errors.New("400"))

	rule := &domain.Rule{
		ID: "r1",
		Actions: []domain.Action{
			{ID: "a1", Type: domain.ActionArchive, Position: 0},
			{ID: "a2", Type: domain.ActionLabel, Label: "Newsletters", Position: 1},
			{ID: "a3", Type: domain.ActionMarkRead, Position: 2},
		},
	}

	record, err := f.executor.Execute(context.Background(), f.prov, f.mailbox, f.msg, rule, decision())
	require.NoError(t, err)

	// The label failure neither rolls back the archive nor stops the
	// mark-read behind it.
	assert.Equal(t, domain.StatusApplied, record.Status)
	assert.Equal(t, domain.StatusApplied, record.Actions[0].Status)
	assert.Equal(t, domain.StatusError, record.Actions[1].Status)
	assert.NotEmpty(t, record.Actions[1].Error)
	assert.Equal(t, domain.StatusApplied, record.Actions[2].Status)
	assert.True(t, f.prov.called("MarkRead:m1"))
}

func TestExecutePrimaryFailureMeansError(t *testing.T) {
	f := newExecutorFixture(t)
	f.prov.archiveErr = provider.NewError(provider.Permanent, "fake.Archive", errors.New("400"))

	rule := &domain.Rule{
		ID: "r1",
		Actions: []domain.Action{
			{ID: "a1", Type: domain.ActionArchive, Position: 0},
			{ID: "a2", Type: domain.ActionMarkRead, Position: 1},
		},
	}

	record, err := f.executor.Execute(context.Background(), f.prov, f.mailbox, f.msg, rule, decision())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusError, record.Status)
	// The secondary action still ran and succeeded.
	assert.Equal(t, domain.StatusApplied, record.Actions[1].Status)
}

func TestExecuteAbortsRemainingOnRateLimit(t *testing.T) {
	f := newExecutorFixture(t)
	f.prov.archiveErr = provider.NewError(provider.RateLimited, "fake.Archive", errors.New("429"))

	rule := &domain.Rule{
		ID: "r1",
		Actions: []domain.Action{
			{ID: "a1", Type: domain.ActionArchive, Position: 0},
			{ID: "a2", Type: domain.ActionMarkRead, Position: 1},
		},
	}

	record, err := f.executor.Execute(context.Background(), f.prov, f.mailbox, f.msg, rule, decision())
	assert.True(t, provider.IsRateLimited(err))

	assert.Equal(t, domain.StatusError, record.Status)
	assert.Equal(t, domain.StatusSkipped, record.Actions[1].Status)
	assert.False(t, f.prov.called("MarkRead:m1"))
}

func TestExecuteAuthErrorFlagsMailbox(t *testing.T) {
	f := newExecutorFixture(t)
	f.prov.archiveErr = provider.NewError(provider.Auth, "fake.Archive", errors.New("401"))

	rule := &domain.Rule{ID: "r1", Actions: []domain.Action{{ID: "a1", Type: domain.ActionArchive}}}

	_, err := f.executor.Execute(context.Background(), f.prov, f.mailbox, f.msg, rule, decision())
	assert.True(t, provider.IsAuthError(err))

	mb, _ := f.mailboxes.FindByID("mb1")
	assert.Equal(t, mailboxdomain.StatusAuthError, mb.Status)
}

func TestExecuteDraftTracksForReplyDetection(t *testing.T) {
	f := newExecutorFixture(t)
	d := decision()
	d.ActionArgs["content"] = "Hi Alice,\n\nHappy to help with pricing."

	rule := &domain.Rule{ID: "r1", Actions: []domain.Action{{ID: "a1", Type: domain.ActionDraftEmail}}}

	record, err := f.executor.Execute(context.Background(), f.prov, f.mailbox, f.msg, rule, d)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusApplied, record.Status)
	assert.Equal(t, "draft-1", record.Actions[0].ProviderID)
	require.Len(t, f.tracking.drafts, 1)
	assert.Equal(t, "draft-1", f.tracking.drafts[0].DraftID)
	assert.Equal(t, "t1", f.tracking.drafts[0].ThreadID)
}

func TestExecuteLowConfidenceSkipsGeneratedContent(t *testing.T) {
	f := newExecutorFixture(t)
	d := decision()
	d.Confidence = 0.3

	rule := &domain.Rule{
		ID: "r1",
		Actions: []domain.Action{
			{ID: "a1", Type: domain.ActionDraftEmail, Position: 0},
			{ID: "a2", Type: domain.ActionMarkRead, Position: 1},
		},
	}

	record, err := f.executor.Execute(context.Background(), f.prov, f.mailbox, f.msg, rule, d)
	require.NoError(t, err)

	// The draft is held back, but actions that don't generate content
	// still run.
	assert.Equal(t, domain.StatusSkipped, record.Status)
	assert.Equal(t, domain.StatusSkipped, record.Actions[0].Status)
	assert.Contains(t, record.Actions[0].Error, "confidence 0.30 below draft minimum")
	assert.Equal(t, domain.StatusApplied, record.Actions[1].Status)
	assert.False(t, f.prov.called("CreateDraft:alice@example.com"))
	assert.Empty(t, f.tracking.drafts)
}

func TestExecuteRecordsRetryAttempts(t *testing.T) {
	f := newExecutorFixture(t)

	// Produce the error shape an exhausted retry policy hands back.
	policy := provider.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	f.prov.archiveErr = policy.Do(context.Background(), func() error {
		return provider.NewError(provider.Transient, "fake.Archive", errors.New("503"))
	})

	rule := &domain.Rule{ID: "r1", Actions: []domain.Action{
		{ID: "a1", Type: domain.ActionArchive, Position: 0},
		{ID: "a2", Type: domain.ActionMarkRead, Position: 1},
	}}

	record, err := f.executor.Execute(context.Background(), f.prov, f.mailbox, f.msg, rule, decision())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusError, record.Actions[0].Status)
	assert.Equal(t, 3, record.Actions[0].Attempts)
	assert.Equal(t, domain.StatusApplied, record.Actions[1].Status)
	assert.Equal(t, 1, record.Actions[1].Attempts)
}

func TestExecuteWebhookAction(t *testing.T) {
	f := newExecutorFixture(t)

	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		received <- buf
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rule := &domain.Rule{ID: "r1", Actions: []domain.Action{
		{ID: "a1", Type: domain.ActionCallWebhook, URL: srv.URL, Secret: "s3cret"},
	}}

	record, err := f.executor.Execute(context.Background(), f.prov, f.mailbox, f.msg, rule, decision())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApplied, record.Status)

	body := <-received
	assert.Contains(t, string(body), `"messageId":"m1"`)
	assert.Contains(t, string(body), `"ruleId":"r1"`)
}

func TestExecuteInternalActions(t *testing.T) {
	f := newExecutorFixture(t)

	rule := &domain.Rule{ID: "r1", Actions: []domain.Action{
		{ID: "a1", Type: domain.ActionTrackThread, Position: 0},
		{ID: "a2", Type: domain.ActionDigest, Position: 1},
	}}

	record, err := f.executor.Execute(context.Background(), f.prov, f.mailbox, f.msg, rule, decision())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusApplied, record.Status)
	require.Len(t, f.tracking.threads, 1)
	assert.Equal(t, "t1", f.tracking.threads[0].ThreadID)
	require.Len(t, f.tracking.digests, 1)
	assert.Equal(t, "m1", f.tracking.digests[0].MessageID)
}

func TestExecuteRendersTemplates(t *testing.T) {
	f := newExecutorFixture(t)

	rule := &domain.Rule{ID: "r1", Actions: []domain.Action{
		{ID: "a1", Type: domain.ActionSendEmail, To: "team@example.com",
			Subject: "FYI: {{subject}}", Content: "From {{sender}}"},
	}}

	record, err := f.executor.Execute(context.Background(), f.prov, f.mailbox, f.msg, rule, decision())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApplied, record.Status)
	assert.True(t, f.prov.called("SendEmail:team@example.com"))
}
