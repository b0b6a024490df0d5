package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string
	RedisAddr   string
	RedisPass   string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleProjectID    string
	GooglePubSubTopic  string
	GoogleCredentials  string
	// Shared token appended to the Pub/Sub push endpoint URL
	// (?token=...), compared on every delivery.
	GmailPushToken string

	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftTenantID     string
	// clientState secret echoed back in every Graph change notification.
	OutlookClientState string
	// Public base URL used when creating Graph subscriptions.
	WebhookBaseURL string

	AIProvider    string
	GeminiApiKey  string
	OllamaBaseURL string
	OllamaModel   string

	// Minimum classifier confidence required before DRAFT_EMAIL /
	// REPLY actions generate content.
	DraftConfidenceMin float64

	// Process-wide cap on classifier calls per second so a webhook
	// burst can't exhaust the model quota. Zero disables the limiter.
	ClassifyPerSecond float64

	ClassifyTimeout   time.Duration
	ProviderTimeout   time.Duration
	LockTTL           time.Duration
	RateLimitCooldown time.Duration

	// Max concurrently processed messages per mailbox.
	MailboxConcurrency int
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=mailpilot port=5432 sslmode=disable"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:   getEnv("REDIS_PASSWORD", ""),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleProjectID:    getEnv("GOOGLE_PROJECT_ID", ""),
		GooglePubSubTopic:  getEnv("GOOGLE_PUBSUB_TOPIC", "gmail-updates"),
		GoogleCredentials:  getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		GmailPushToken:     getEnv("GMAIL_PUSH_TOKEN", ""),

		MicrosoftClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
		MicrosoftTenantID:     getEnv("MICROSOFT_TENANT_ID", "common"),
		OutlookClientState:    getEnv("OUTLOOK_CLIENT_STATE", ""),
		WebhookBaseURL:        getEnv("WEBHOOK_BASE_URL", "http://localhost:8080"),

		AIProvider:    getEnv("AI_PROVIDER", "auto"),
		GeminiApiKey:  getEnv("GEMINI_API_KEY", ""),
		OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:   getEnv("OLLAMA_MODEL", "llama3"),

		DraftConfidenceMin: getEnvFloat("DRAFT_CONFIDENCE_MIN", 0.5),
		ClassifyPerSecond:  getEnvFloat("CLASSIFY_PER_SECOND", 5),

		ClassifyTimeout:   getEnvDuration("CLASSIFY_TIMEOUT", 30*time.Second),
		ProviderTimeout:   getEnvDuration("PROVIDER_TIMEOUT", 8*time.Second),
		LockTTL:           getEnvDuration("PROCESSING_LOCK_TTL", 45*time.Second),
		RateLimitCooldown: getEnvDuration("RATE_LIMIT_COOLDOWN", 60*time.Second),

		MailboxConcurrency: getEnvInt("MAILBOX_CONCURRENCY", 4),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
