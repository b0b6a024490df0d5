package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies provider failures so callers can decide between
// retrying, pausing the mailbox, or giving up.
type ErrorKind int

const (
	// Transient covers timeouts and 5xx responses; retryable.
	Transient ErrorKind = iota
	// Permanent covers 4xx responses like a deleted message; not retryable.
	Permanent
	// RateLimited means the provider is throttling this mailbox; the
	// whole mailbox should pause rather than retry the one call.
	RateLimited
	// Auth means the grant is expired or revoked; fatal for the mailbox
	// until the user re-consents.
	Auth
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case RateLimited:
		return "rate_limited"
	case Auth:
		return "auth"
	}
	return "unknown"
}

// Error is a provider failure tagged with its kind.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and the operation that produced it.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindFromStatus maps an HTTP status code to an ErrorKind. Both adapters
// funnel their API responses through this.
func KindFromStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Auth
	case status >= 500:
		return Transient
	default:
		return Permanent
	}
}

func kindOf(err error) (ErrorKind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	k, ok := kindOf(err)
	return ok && k == Transient
}

// IsRateLimited reports whether the provider asked us to back off.
func IsRateLimited(err error) bool {
	k, ok := kindOf(err)
	return ok && k == RateLimited
}

// IsAuthError reports whether the mailbox grant is dead.
func IsAuthError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == Auth
}

// IsPermanent reports whether retrying can never help.
func IsPermanent(err error) bool {
	k, ok := kindOf(err)
	return ok && k == Permanent
}
