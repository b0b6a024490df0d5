package watch

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	mailboxdomain "mailpilot-backend/internal/mailbox/domain"
	mailboxrepo "mailpilot-backend/internal/mailbox/repository"
	pipelineusecase "mailpilot-backend/internal/pipeline/usecase"
	rulerepo "mailpilot-backend/internal/rule/repository"
	"mailpilot-backend/pkg/cursor"
	"mailpilot-backend/pkg/provider"
	"mailpilot-backend/pkg/redis"
)

// renewWindow is how long before subscription expiry a renewal runs.
// Gmail watches last 7 days, Graph subscriptions about 3; renewing a day
// early tolerates a scheduler outage.
const renewWindow = 24 * time.Hour

// digestGate is the minimum spacing between digest emails per mailbox.
const digestGate = 6 * time.Hour

// Scheduler runs the periodic maintenance passes: renewing provider
// push subscriptions before they lapse, detecting drafts the user sent,
// and delivering queued digest summaries.
type Scheduler struct {
	mailboxes mailboxrepo.MailboxRepository
	tracking  rulerepo.TrackingRepository
	cursors   *cursor.Tracker
	providers pipelineusecase.ProviderFactory
	rdb       *goredis.Client
	interval  time.Duration
	stopChan  chan struct{}
}

func NewScheduler(
	mailboxes mailboxrepo.MailboxRepository,
	tracking rulerepo.TrackingRepository,
	cursors *cursor.Tracker,
	providers pipelineusecase.ProviderFactory,
	rdb *goredis.Client,
) *Scheduler {
	return &Scheduler{
		mailboxes: mailboxes,
		tracking:  tracking,
		cursors:   cursors,
		providers: providers,
		rdb:       rdb,
		interval:  10 * time.Minute,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the scheduler loop
func (s *Scheduler) Start(ctx context.Context) {
	log.Printf("[WatchScheduler] Starting maintenance scheduler (interval: %s)", s.interval)

	go func() {
		// Run immediately on start
		s.runOnce(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runOnce(ctx)
			case <-s.stopChan:
				log.Println("[WatchScheduler] Scheduler stopped")
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

func (s *Scheduler) runOnce(ctx context.Context) {
	mailboxes, err := s.mailboxes.ListActive()
	if err != nil {
		log.Printf("[WatchScheduler] Error listing mailboxes: %v", err)
		return
	}

	for i := range mailboxes {
		mb := &mailboxes[i]
		prov, err := s.providers(ctx, mb)
		if err != nil {
			log.Printf("[WatchScheduler] Failed to build provider for %s: %v", mb.Email, err)
			continue
		}

		s.renewWatch(ctx, mb.ID, mb.Email, prov)
		s.checkSentDrafts(ctx, mb.ID, mb.Email, prov)
		s.deliverDigest(ctx, mb.ID, mb.Email, prov)
	}
}

// renewWatch re-registers the push subscription when it is close to
// expiry. An auth failure here flags the mailbox like any other auth
// failure would.
func (s *Scheduler) renewWatch(ctx context.Context, mailboxID, email string, prov provider.Provider) {
	expiry, err := s.cursors.WatchExpiry(ctx, mailboxID)
	if err != nil {
		log.Printf("[WatchScheduler] Error reading watch expiry for %s: %v", email, err)
		return
	}
	if !expiry.IsZero() && time.Until(expiry) > renewWindow {
		return
	}

	info, err := prov.Watch(ctx)
	if err != nil {
		if provider.IsAuthError(err) {
			log.Printf("[WatchScheduler] Auth error renewing watch for %s, disabling mailbox: %v", email, err)
			if serr := s.mailboxes.SetStatus(mailboxID, mailboxdomain.StatusAuthError); serr != nil {
				log.Printf("[WatchScheduler] Failed to flag mailbox %s: %v", mailboxID, serr)
			}
			return
		}
		log.Printf("[WatchScheduler] Failed to renew watch for %s: %v", email, err)
		return
	}

	if err := s.cursors.SetWatchExpiry(ctx, mailboxID, info.Expires); err != nil {
		log.Printf("[WatchScheduler] Failed to store watch expiry for %s: %v", email, err)
	}

	// A fresh watch also returns a baseline cursor; commit it only when
	// no cursor exists yet so an established checkpoint is never moved.
	existing, err := s.cursors.Get(ctx, mailboxID)
	if err == nil && existing == "" && info.Cursor != "" {
		if _, err := s.cursors.Commit(ctx, mailboxID, info.Cursor); err != nil {
			log.Printf("[WatchScheduler] Failed to commit baseline cursor for %s: %v", email, err)
		}
	}

	log.Printf("[WatchScheduler] Renewed watch for %s (expires %s)", email, info.Expires.Format(time.RFC3339))
}

// checkSentDrafts marks AI-created drafts the user has since sent or
// discarded, closing the reply-tracking loop.
func (s *Scheduler) checkSentDrafts(ctx context.Context, mailboxID, email string, prov provider.Provider) {
	drafts, err := s.tracking.ListUnsentDrafts(mailboxID)
	if err != nil {
		log.Printf("[WatchScheduler] Error listing drafts for %s: %v", email, err)
		return
	}

	for _, d := range drafts {
		sent, err := prov.IsDraftSent(ctx, d.DraftID)
		if err != nil {
			log.Printf("[WatchScheduler] Error checking draft %s for %s: %v", d.DraftID, email, err)
			continue
		}
		if !sent {
			continue
		}
		if err := s.tracking.MarkDraftSent(d.ID); err != nil {
			log.Printf("[WatchScheduler] Error marking draft %s sent: %v", d.ID, err)
			continue
		}
		log.Printf("[WatchScheduler] Draft %s on mailbox %s was sent by the user", d.DraftID, email)
	}
}

// deliverDigest emails the user a summary of messages queued by DIGEST
// actions. The Redis gate key spaces digests at least digestGate apart.
func (s *Scheduler) deliverDigest(ctx context.Context, mailboxID, email string, prov provider.Provider) {
	entries, err := s.tracking.PendingDigest(mailboxID)
	if err != nil {
		log.Printf("[WatchScheduler] Error listing digest entries for %s: %v", email, err)
		return
	}
	if len(entries) == 0 {
		return
	}

	ok, err := s.rdb.SetNX(ctx, redis.Keys.MailboxDigest(mailboxID), "1", digestGate).Result()
	if err != nil || !ok {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You have %d messages in your digest:\n\n", len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s: %s\n  %s\n", e.From, e.Subject, e.Snippet)
		ids = append(ids, e.ID)
	}

	err = prov.SendEmail(ctx, provider.DraftParams{
		To:      email,
		Subject: fmt.Sprintf("Your mail digest (%d messages)", len(entries)),
		Body:    b.String(),
	})
	if err != nil {
		log.Printf("[WatchScheduler] Failed to send digest for %s: %v", email, err)
		return
	}

	if err := s.tracking.MarkDigestDelivered(ids); err != nil {
		log.Printf("[WatchScheduler] Failed to mark digest delivered for %s: %v", email, err)
	}
	log.Printf("[WatchScheduler] Delivered digest of %d messages to %s", len(ids), email)
}
