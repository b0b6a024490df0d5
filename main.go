package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"

	"golang.org/x/oauth2"

	api "mailpilot-backend/cmd/api"
	mailboxdomain "mailpilot-backend/internal/mailbox/domain"
	mailboxRepo "mailpilot-backend/internal/mailbox/repository"
	"mailpilot-backend/internal/notification"
	pipelineUsecase "mailpilot-backend/internal/pipeline/usecase"
	ruledomain "mailpilot-backend/internal/rule/domain"
	ruleRepo "mailpilot-backend/internal/rule/repository"
	"mailpilot-backend/internal/watch"
	"mailpilot-backend/pkg/ai"
	"mailpilot-backend/pkg/config"
	"mailpilot-backend/pkg/cursor"
	"mailpilot-backend/pkg/database"
	"mailpilot-backend/pkg/gmail"
	"mailpilot-backend/pkg/locks"
	"mailpilot-backend/pkg/outlook"
	"mailpilot-backend/pkg/provider"
	redispkg "mailpilot-backend/pkg/redis"
	"mailpilot-backend/pkg/webhook"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database schemas
	if err := db.AutoMigrate(
		&mailboxdomain.Mailbox{},
		&ruledomain.Rule{},
		&ruledomain.Action{},
		&ruledomain.ExecutedRule{},
		&ruledomain.ExecutedAction{},
		&ruledomain.SentDraft{},
		&ruledomain.TrackedThread{},
		&ruledomain.DigestEntry{},
	); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize Redis (locks, cursors, deferred queues)
	rdb, err := redispkg.NewClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}

	// Initialize repositories (dependency injection)
	mailboxRepository := mailboxRepo.NewMailboxRepository(db)
	ruleRepository := ruleRepo.NewRuleRepository(db)
	executedRepository := ruleRepo.NewExecutedRuleRepository(db)
	trackingRepository := ruleRepo.NewTrackingRepository(db)

	// Initialize AI classifier
	classifier, err := ai.NewClassifier(ai.Config{
		Provider:          ai.ProviderType(cfg.AIProvider),
		GeminiAPIKey:      cfg.GeminiApiKey,
		OllamaBaseURL:     cfg.OllamaBaseURL,
		OllamaModel:       cfg.OllamaModel,
		ClassifyPerSecond: cfg.ClassifyPerSecond,
	})
	if err != nil {
		log.Fatal("Failed to initialize AI classifier:", err)
	}
	log.Printf("AI classifier initialized with provider: %s", cfg.AIProvider)

	// Coordination primitives
	guard := locks.NewGuard(rdb, cfg.LockTTL)
	cursors := cursor.NewTracker(rdb)

	providers := buildProviderFactory(cfg, mailboxRepository)

	// Pipeline wiring
	executor := pipelineUsecase.NewExecutor(executedRepository, trackingRepository, mailboxRepository, webhook.NewSender(), cfg.DraftConfidenceMin)

	hostname, _ := os.Hostname()
	pipeline := pipelineUsecase.NewPipeline(
		pipelineUsecase.Options{
			ClassifyTimeout:    cfg.ClassifyTimeout,
			LockTTL:            cfg.LockTTL,
			RateLimitCooldown:  cfg.RateLimitCooldown,
			MailboxConcurrency: cfg.MailboxConcurrency,
		},
		mailboxRepository,
		ruleRepository,
		executedRepository,
		guard,
		cursors,
		classifier,
		executor,
		providers,
		rdb,
		hostname,
	)

	ctx := context.Background()

	dispatcher := pipelineUsecase.NewDispatcher(pipeline, cfg.MailboxConcurrency*2)
	dispatcher.Start(ctx)

	// Initialize Notification Service (Pub/Sub pull)
	// Only start if project ID is configured
	if cfg.GoogleProjectID != "" {
		topicName := cfg.GooglePubSubTopic
		if parts := strings.Split(topicName, "/"); len(parts) > 1 {
			topicName = parts[len(parts)-1]
		}

		notifService, err := notification.NewService(cfg.GoogleProjectID, topicName, cfg.GoogleCredentials, dispatcher)
		if err != nil {
			log.Printf("[ERROR] Failed to initialize notification service: %v", err)
		} else {
			go notifService.Start(ctx)
		}
	} else {
		log.Printf("[WARN] GoogleProjectID not configured, Pub/Sub pull disabled")
	}

	// Watch renewal, draft tracking and digest delivery
	scheduler := watch.NewScheduler(mailboxRepository, trackingRepository, cursors, providers, rdb)
	scheduler.Start(ctx)

	// Initialize HTTP handler
	handler := api.NewHandler(cfg, dispatcher, pipeline, ruleRepository, executedRepository)

	log.Printf("Server starting on port %s", cfg.Port)
	if err := handler.Start(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

// buildProviderFactory returns the per-mailbox provider constructor.
// Token refreshes are persisted back through the mailbox repository so
// the next client starts from the fresh grant.
func buildProviderFactory(cfg *config.Config, mailboxes mailboxRepo.MailboxRepository) pipelineUsecase.ProviderFactory {
	gmailTopic := cfg.GooglePubSubTopic
	if !strings.HasPrefix(gmailTopic, "projects/") && cfg.GoogleProjectID != "" {
		gmailTopic = fmt.Sprintf("projects/%s/topics/%s", cfg.GoogleProjectID, gmailTopic)
	}

	return func(ctx context.Context, mb *mailboxdomain.Mailbox) (provider.Provider, error) {
		mailboxID := mb.ID
		onRefresh := func(token *oauth2.Token) error {
			return mailboxes.UpdateTokens(mailboxID, token.AccessToken, token.RefreshToken)
		}

		switch provider.Kind(mb.Provider) {
		case provider.KindOutlook:
			return outlook.NewClient(ctx, outlook.Config{
				ClientID:     cfg.MicrosoftClientID,
				ClientSecret: cfg.MicrosoftClientSecret,
				TenantID:     cfg.MicrosoftTenantID,
				ClientState:  cfg.OutlookClientState,
				NotificationURL: cfg.WebhookBaseURL +
					"/api/webhooks/outlook?mailbox=" + url.QueryEscape(mb.Email),
			}, mb.Email, mb.AccessToken, mb.RefreshToken, onRefresh)

		case provider.KindGmail:
			return gmail.NewClient(ctx, gmail.Config{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				TopicName:    gmailTopic,
			}, mb.Email, mb.AccessToken, mb.RefreshToken, onRefresh)
		}
		return nil, fmt.Errorf("unknown provider %q for mailbox %s", mb.Provider, mb.Email)
	}
}
