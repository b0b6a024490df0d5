package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
)

// FallbackService routes classification across providers: Gemini first
// (better at instruction-following), Ollama when Gemini is unreachable
// or out of quota. A schema-invalid decision is NOT failed over -- the
// input is the problem, and retrying a different model on ambiguous
// input rarely helps.
type FallbackService struct {
	gemini Classifier
	ollama Classifier
}

func NewFallbackService(gemini, ollama Classifier) *FallbackService {
	return &FallbackService{gemini: gemini, ollama: ollama}
}

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(net.Error); ok {
		return true
	}

	errStr := strings.ToLower(err.Error())
	connectionIndicators := []string{
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"timeout",
		"dial tcp",
	}
	for _, indicator := range connectionIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// isQuotaError checks if the error indicates API quota exhaustion (429)
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	quotaIndicators := []string{
		"429",
		"quota",
		"rate limit",
		"too many requests",
		"resource exhausted",
	}
	for _, indicator := range quotaIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

func (f *FallbackService) Classify(ctx context.Context, input ClassifyInput) (*Decision, error) {
	if f.gemini != nil {
		decision, err := f.gemini.Classify(ctx, input)
		if err == nil {
			return decision, nil
		}
		if errors.Is(err, ErrInvalidDecision) || !shouldFallback(err) {
			return nil, err
		}
		log.Printf("[AI] Gemini classification failed: %v, falling back to Ollama", err)
	}

	if f.ollama != nil {
		decision, err := f.ollama.Classify(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("ollama classification failed: %w", err)
		}
		return decision, nil
	}

	return nil, fmt.Errorf("no AI provider available for classification")
}

func shouldFallback(err error) bool {
	return isConnectionError(err) || isQuotaError(err)
}
