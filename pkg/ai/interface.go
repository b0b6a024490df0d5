package ai

import (
	"context"
	"errors"
)

// CandidateRule is one rule offered to the model, in deterministic
// tie-break order.
type CandidateRule struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Instructions string   `json:"instructions"`
	ActionTypes  []string `json:"actionTypes"`
}

// ClassifyInput carries everything the model sees for one message.
type ClassifyInput struct {
	From    string
	Subject string
	// Body is plain text; HTML must be down-converted before calling.
	Body string
	// UserAbout is the user's "about me" context.
	UserAbout string
	// Rules are the candidate rules in evaluation order. When the model
	// is indifferent it must pick the earliest.
	Rules []CandidateRule
}

// Decision is the model's structured verdict.
type Decision struct {
	// RuleID is empty when no rule matches.
	RuleID string `json:"ruleId"`
	// ActionArgs fill AI-templated action parameters (draft content,
	// reply content, label names with placeholders).
	ActionArgs  map[string]string `json:"actionArgs"`
	Explanation string            `json:"explanation"`
	Confidence  float64           `json:"confidence"`
}

// ErrInvalidDecision marks an unparseable or schema-invalid model
// response. Callers treat it as "no rule matched" rather than failing
// the message.
var ErrInvalidDecision = errors.New("model returned an invalid decision")

// Classifier picks at most one rule for a message.
// Implement this interface to add new AI providers (Gemini, Ollama, ...).
type Classifier interface {
	Classify(ctx context.Context, input ClassifyInput) (*Decision, error)
}

// ProviderType represents the AI provider type
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOllama ProviderType = "ollama"
	ProviderAuto   ProviderType = "auto"
)
