package usecase

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	mailboxdomain "mailpilot-backend/internal/mailbox/domain"
	mailboxrepo "mailpilot-backend/internal/mailbox/repository"
	"mailpilot-backend/internal/rule/domain"
	rulerepo "mailpilot-backend/internal/rule/repository"
	ruleusecase "mailpilot-backend/internal/rule/usecase"
	"mailpilot-backend/pkg/ai"
	"mailpilot-backend/pkg/cursor"
	"mailpilot-backend/pkg/htmltext"
	"mailpilot-backend/pkg/locks"
	"mailpilot-backend/pkg/provider"
	"mailpilot-backend/pkg/redis"
)

const maxDeferredBatch = 200

// ProviderFactory builds a mail provider client for a mailbox, wired
// with its OAuth tokens.
type ProviderFactory func(ctx context.Context, mb *mailboxdomain.Mailbox) (provider.Provider, error)

// Options tunes pipeline timing and concurrency.
type Options struct {
	ClassifyTimeout   time.Duration
	LockTTL           time.Duration
	RateLimitCooldown time.Duration
	// MailboxConcurrency caps concurrently processed messages per mailbox.
	MailboxConcurrency int
}

// Pipeline turns provider push notifications into rule executions. One
// notification names a mailbox; the pipeline drains that mailbox's delta
// under a single-writer lock, processes each new message exactly once,
// and commits the advanced cursor.
type Pipeline struct {
	opts       Options
	mailboxes  mailboxrepo.MailboxRepository
	rules      rulerepo.RuleRepository
	executed   rulerepo.ExecutedRuleRepository
	guard      *locks.Guard
	cursors    *cursor.Tracker
	classifier ai.Classifier
	executor   *Executor
	providers  ProviderFactory
	rdb        *goredis.Client

	workerID string
	seq      atomic.Uint64
}

func NewPipeline(
	opts Options,
	mailboxes mailboxrepo.MailboxRepository,
	rules rulerepo.RuleRepository,
	executed rulerepo.ExecutedRuleRepository,
	guard *locks.Guard,
	cursors *cursor.Tracker,
	classifier ai.Classifier,
	executor *Executor,
	providers ProviderFactory,
	rdb *goredis.Client,
	workerID string,
) *Pipeline {
	if opts.MailboxConcurrency <= 0 {
		opts.MailboxConcurrency = 4
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 45 * time.Second
	}
	return &Pipeline{
		opts:       opts,
		mailboxes:  mailboxes,
		rules:      rules,
		executed:   executed,
		guard:      guard,
		cursors:    cursors,
		classifier: classifier,
		executor:   executor,
		providers:  providers,
		rdb:        rdb,
		workerID:   workerID,
	}
}

// SyncMailbox handles one push notification for the given account: under
// the mailbox cursor lock it fetches the delta since the last committed
// cursor, processes every new message, and commits the new cursor. A
// lock already held by another worker makes this a no-op; the holder
// will pick up the same history.
func (p *Pipeline) SyncMailbox(ctx context.Context, email string) error {
	mb, err := p.mailboxes.FindByEmail(email)
	if err != nil {
		return fmt.Errorf("unable to look up mailbox %s: %w", email, err)
	}
	if mb == nil {
		log.Printf("[Pipeline] Notification for unknown mailbox %s, ignoring", email)
		return nil
	}
	if !mb.CanProcess() {
		log.Printf("[Pipeline] Mailbox %s is %s, skipping sync", mb.Email, mb.Status)
		return nil
	}

	if paused, err := p.guard.IsPaused(ctx, mb.ID); err != nil {
		return err
	} else if paused {
		log.Printf("[Pipeline] Mailbox %s is in rate-limit cooldown, deferring sync", mb.Email)
		return nil
	}

	return p.cursors.WithMailboxLock(ctx, mb.ID, p.opts.LockTTL, func(ctx context.Context) error {
		return p.drainDelta(ctx, mb)
	})
}

func (p *Pipeline) drainDelta(ctx context.Context, mb *mailboxdomain.Mailbox) error {
	prov, err := p.providers(ctx, mb)
	if err != nil {
		return fmt.Errorf("unable to build provider for mailbox %s: %w", mb.Email, err)
	}

	cur, err := p.cursors.Get(ctx, mb.ID)
	if err != nil {
		return err
	}

	delta, err := prov.GetHistorySince(ctx, cur)
	if err != nil {
		return p.handleMailboxError(ctx, mb, err, "history fetch")
	}

	if len(delta.NewMessageIDs) > 0 {
		log.Printf("[Pipeline] Mailbox %s: %d new messages since cursor %q", mb.Email, len(delta.NewMessageIDs), cur)
		p.processBatch(ctx, mb, prov, delta.NewMessageIDs, false)
	}

	committed, err := p.cursors.Commit(ctx, mb.ID, delta.NewCursor)
	if err != nil {
		return err
	}
	if !committed && delta.NewCursor != "" && delta.NewCursor != cur {
		log.Printf("[Pipeline] Mailbox %s: cursor commit %q rejected as regression", mb.Email, delta.NewCursor)
	}
	return nil
}

// processBatch runs messages with bounded per-mailbox concurrency. When
// one message hits a rate limit, the mailbox is paused and every message
// not yet started is pushed onto the deferred queue instead of the
// provider.
func (p *Pipeline) processBatch(ctx context.Context, mb *mailboxdomain.Mailbox, prov provider.Provider, messageIDs []string, rerun bool) {
	var paused atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.MailboxConcurrency)

	for _, id := range messageIDs {
		if paused.Load() {
			p.deferMessage(ctx, mb.ID, id)
			continue
		}
		messageID := id
		g.Go(func() error {
			err := p.ProcessMessage(gctx, mb, prov, messageID, rerun)
			if provider.IsRateLimited(err) {
				if paused.CompareAndSwap(false, true) {
					log.Printf("[Pipeline] Mailbox %s rate limited, pausing for %s", mb.Email, p.opts.RateLimitCooldown)
					if perr := p.guard.PauseMailbox(ctx, mb.ID, p.opts.RateLimitCooldown); perr != nil {
						log.Printf("[Pipeline] Failed to pause mailbox %s: %v", mb.ID, perr)
					}
				}
				p.deferMessage(ctx, mb.ID, messageID)
				return nil
			}
			if err != nil {
				log.Printf("[Pipeline] Message %s on mailbox %s failed: %v", messageID, mb.Email, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// ProcessMessage evaluates the rules of a mailbox against one message and
// executes at most one of them. The processing claim makes duplicate
// notifications and concurrent workers converge on a single execution.
func (p *Pipeline) ProcessMessage(ctx context.Context, mb *mailboxdomain.Mailbox, prov provider.Provider, messageID string, rerun bool) error {
	owner := fmt.Sprintf("%s-%d", p.workerID, p.seq.Add(1))

	claimed, err := p.guard.TryClaim(ctx, mb.ID, messageID, owner)
	if err != nil {
		return err
	}
	if !claimed {
		log.Printf("[Pipeline] Message %s already claimed, skipping duplicate", messageID)
		return nil
	}
	defer func() {
		if err := p.guard.Release(context.WithoutCancel(ctx), mb.ID, messageID, owner); err != nil {
			log.Printf("[Pipeline] Failed to release claim on message %s: %v", messageID, err)
		}
	}()

	existing, err := p.executed.FindByMessage(mb.ID, messageID)
	if err != nil {
		return err
	}
	if existing != nil {
		if !rerun {
			return nil
		}
		if err := p.executed.Delete(existing.ID); err != nil {
			return fmt.Errorf("unable to clear previous execution for rerun: %w", err)
		}
	}

	msg, err := prov.GetMessage(ctx, messageID)
	if err != nil {
		if provider.IsPermanent(err) {
			// Deleted between notification and fetch; nothing to do.
			log.Printf("[Pipeline] Message %s no longer exists, skipping", messageID)
			return nil
		}
		return p.handleMailboxError(ctx, mb, err, "message fetch")
	}

	rules, err := p.rules.ListEnabled(mb.ID)
	if err != nil {
		return err
	}
	candidates := ruleusecase.SelectCandidates(rules, msg)
	if len(candidates) == 0 {
		return p.recordSkip(mb, msg, "", "no candidate rules", 0)
	}

	decision, err := p.classify(ctx, mb, msg, candidates)
	if err != nil {
		if provider.IsRateLimited(err) {
			return err
		}
		log.Printf("[Pipeline] Classification failed for message %s: %v", messageID, err)
		return p.recordSkip(mb, msg, "", "classifier error: "+err.Error(), 0)
	}

	if decision.RuleID == "" {
		return p.recordSkip(mb, msg, "", skipReason(decision.Explanation, "no rule matched"), decision.Confidence)
	}

	rule := ruleusecase.FindRule(candidates, decision.RuleID)
	if rule == nil {
		// The model named a rule outside the candidate set; treat as
		// no-match rather than trusting it.
		log.Printf("[Pipeline] Classifier chose unknown rule %q for message %s", decision.RuleID, messageID)
		return p.recordSkip(mb, msg, "", "classifier selected a rule outside the candidate set", decision.Confidence)
	}

	if rule.RunOnThreads {
		done, err := p.executed.HasThreadExecution(mb.ID, msg.ThreadID, rule.ID)
		if err != nil {
			return err
		}
		if done {
			return p.recordSkip(mb, msg, rule.ID, "thread already handled by this rule", decision.Confidence)
		}
	}

	record, execErr := p.executor.Execute(ctx, prov, mb, msg, rule, decision)
	if record != nil {
		log.Printf("[Pipeline] Message %s: rule %q -> %s", messageID, rule.Name, record.Status)
	}
	if execErr != nil && provider.IsRateLimited(execErr) {
		return execErr
	}
	return nil
}

func (p *Pipeline) classify(ctx context.Context, mb *mailboxdomain.Mailbox, msg *provider.Message, candidates []domain.Rule) (*ai.Decision, error) {
	body := msg.TextBody
	if body == "" && msg.HTMLBody != "" {
		body = htmltext.Convert(msg.HTMLBody)
	}
	if body == "" {
		body = msg.Snippet
	}

	// Classification is the slow step; refresh the claim so it can't
	// expire under a healthy worker.
	if err := p.guard.Extend(ctx, mb.ID, msg.ID); err != nil {
		log.Printf("[Pipeline] Failed to extend claim on message %s: %v", msg.ID, err)
	}

	cctx := ctx
	if p.opts.ClassifyTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, p.opts.ClassifyTimeout)
		defer cancel()
	}

	return p.classifier.Classify(cctx, ai.ClassifyInput{
		From:      msg.From,
		Subject:   msg.Subject,
		Body:      body,
		UserAbout: mb.AboutContext,
		Rules:     ruleusecase.ToCandidateRules(candidates),
	})
}

func (p *Pipeline) recordSkip(mb *mailboxdomain.Mailbox, msg *provider.Message, ruleID, reason string, confidence float64) error {
	return p.executed.Create(&domain.ExecutedRule{
		MailboxID:  mb.ID,
		MessageID:  msg.ID,
		ThreadID:   msg.ThreadID,
		RuleID:     ruleID,
		Status:     domain.StatusSkipped,
		Reason:     reason,
		Confidence: confidence,
	})
}

// handleMailboxError translates a provider failure on a mailbox-wide
// operation into mailbox state: auth errors stop the mailbox, rate
// limits pause it.
func (p *Pipeline) handleMailboxError(ctx context.Context, mb *mailboxdomain.Mailbox, err error, op string) error {
	switch {
	case provider.IsAuthError(err):
		log.Printf("[Pipeline] Mailbox %s hit an auth error during %s, disabling: %v", mb.Email, op, err)
		if serr := p.mailboxes.SetStatus(mb.ID, mailboxdomain.StatusAuthError); serr != nil {
			log.Printf("[Pipeline] Failed to flag mailbox %s: %v", mb.ID, serr)
		}
	case provider.IsRateLimited(err):
		log.Printf("[Pipeline] Mailbox %s rate limited during %s, cooling down", mb.Email, op)
		if perr := p.guard.PauseMailbox(ctx, mb.ID, p.opts.RateLimitCooldown); perr != nil {
			log.Printf("[Pipeline] Failed to pause mailbox %s: %v", mb.ID, perr)
		}
	}
	return fmt.Errorf("%s for mailbox %s: %w", op, mb.Email, err)
}

// deferMessage queues a message id for reprocessing after a rate-limit
// cooldown. The cursor still advances; deferred ids are the record that
// these messages were seen but not yet handled.
func (p *Pipeline) deferMessage(ctx context.Context, mailboxID, messageID string) {
	key := redis.Keys.MailboxDeferred(mailboxID)
	if err := p.rdb.RPush(ctx, key, messageID).Err(); err != nil {
		log.Printf("[Pipeline] Failed to defer message %s: %v", messageID, err)
	}
}

// DrainDeferred reprocesses deferred messages for every active mailbox
// whose cooldown has lapsed. Called periodically by the dispatcher.
func (p *Pipeline) DrainDeferred(ctx context.Context) {
	mailboxes, err := p.mailboxes.ListActive()
	if err != nil {
		log.Printf("[Pipeline] Failed to list mailboxes for deferred drain: %v", err)
		return
	}

	for i := range mailboxes {
		mb := &mailboxes[i]
		if paused, err := p.guard.IsPaused(ctx, mb.ID); err != nil || paused {
			continue
		}

		key := redis.Keys.MailboxDeferred(mb.ID)
		ids, err := p.rdb.LPopCount(ctx, key, maxDeferredBatch).Result()
		if err == goredis.Nil || len(ids) == 0 {
			continue
		}
		if err != nil {
			log.Printf("[Pipeline] Failed to pop deferred messages for mailbox %s: %v", mb.ID, err)
			continue
		}

		prov, err := p.providers(ctx, mb)
		if err != nil {
			log.Printf("[Pipeline] Failed to build provider for deferred drain of %s: %v", mb.Email, err)
			continue
		}
		log.Printf("[Pipeline] Draining %d deferred messages for mailbox %s", len(ids), mb.Email)
		p.processBatch(ctx, mb, prov, ids, false)
	}
}

// Rerun forces re-evaluation of one already-processed message, replacing
// its execution record.
func (p *Pipeline) Rerun(ctx context.Context, mailboxID, messageID string) error {
	mb, err := p.mailboxes.FindByID(mailboxID)
	if err != nil {
		return err
	}
	if mb == nil {
		return fmt.Errorf("mailbox %s not found", mailboxID)
	}
	if !mb.CanProcess() {
		return fmt.Errorf("mailbox %s is %s", mb.Email, mb.Status)
	}
	prov, err := p.providers(ctx, mb)
	if err != nil {
		return err
	}
	return p.ProcessMessage(ctx, mb, prov, messageID, true)
}

func skipReason(explanation, fallback string) string {
	if explanation != "" {
		return explanation
	}
	return fallback
}
