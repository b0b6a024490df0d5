package ai

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Config holds AI provider configuration
type Config struct {
	Provider ProviderType // "gemini", "ollama" or "auto"

	// Gemini config
	GeminiAPIKey string

	// Ollama config
	OllamaBaseURL string // e.g., "http://localhost:11434"
	OllamaModel   string // e.g., "llama3", "mistral"

	// ClassifyPerSecond limits classification calls process-wide so a
	// burst of webhooks can't exhaust the model quota. Zero disables.
	ClassifyPerSecond float64
}

// NewClassifier creates a Classifier based on the config.
// This is the factory function - switch AI provider by changing config.Provider
func NewClassifier(cfg Config) (Classifier, error) {
	var classifier Classifier

	switch cfg.Provider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini provider")
		}
		classifier = NewGeminiService(cfg.GeminiAPIKey)

	case ProviderOllama:
		classifier = NewOllamaService(cfg.OllamaBaseURL, cfg.OllamaModel)

	default:
		// Auto: prefer Gemini with Ollama fallback when both configured.
		if cfg.GeminiAPIKey != "" {
			classifier = NewFallbackService(
				NewGeminiService(cfg.GeminiAPIKey),
				NewOllamaService(cfg.OllamaBaseURL, cfg.OllamaModel),
			)
		} else {
			classifier = NewOllamaService(cfg.OllamaBaseURL, cfg.OllamaModel)
		}
	}

	if cfg.ClassifyPerSecond > 0 {
		classifier = &rateLimitedClassifier{
			inner:   classifier,
			limiter: rate.NewLimiter(rate.Limit(cfg.ClassifyPerSecond), 1),
		}
	}
	return classifier, nil
}

type rateLimitedClassifier struct {
	inner   Classifier
	limiter *rate.Limiter
}

func (r *rateLimitedClassifier) Classify(ctx context.Context, input ClassifyInput) (*Decision, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Classify(ctx, input)
}
