package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body,
// computed with the rule's shared secret.
const SignatureHeader = "X-Mailpilot-Signature"

// EmailPayload is the subset of the message sent to user endpoints.
type EmailPayload struct {
	MessageID string `json:"messageId"`
	ThreadID  string `json:"threadId"`
	From      string `json:"from"`
	Subject   string `json:"subject"`
	Snippet   string `json:"snippet"`
}

// RulePayload identifies the rule that fired and why.
type RulePayload struct {
	RuleID string `json:"ruleId"`
	Reason string `json:"reason"`
}

// Payload is the body POSTed to a CALL_WEBHOOK target.
type Payload struct {
	Email        EmailPayload `json:"email"`
	ExecutedRule RulePayload  `json:"executedRule"`
}

// Sender delivers outbound webhook calls. Deliveries are best-effort: a
// slow or failing endpoint must never stall the rest of the pipeline, so
// the client timeout is short and errors are returned for recording only.
type Sender struct {
	client *http.Client
}

func NewSender() *Sender {
	return &Sender{
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Send signs and POSTs the payload to url. The secret is per-rule,
// configured by the user alongside the action.
func (s *Sender) Send(ctx context.Context, url, secret string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("unable to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(secret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of body under secret. Receivers
// recompute this to verify authenticity.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
