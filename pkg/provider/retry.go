package provider

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy is an explicit, injectable retry configuration so retry
// behavior can be tested without real network calls.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether an error deserves another attempt.
	// Defaults to IsRetryable (transient errors only).
	Retryable func(error) bool
}

// DefaultRetryPolicy keeps provider mutations inside a few seconds:
// 3 attempts with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

// Do runs fn, retrying per the policy. The last error is returned when
// attempts are exhausted. Rate-limit and auth errors stop retrying
// immediately so the caller can pause or disable the mailbox.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	delay := p.BaseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !retryable(err) {
			return withAttempts(err, attempt)
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return withAttempts(err, attempts)
}

// attemptsError annotates a failure with how many attempts produced it,
// so execution records can report exhausted retries.
type attemptsError struct {
	err      error
	attempts int
}

func (e *attemptsError) Error() string { return e.err.Error() }
func (e *attemptsError) Unwrap() error { return e.err }

func withAttempts(err error, attempts int) error {
	if err == nil || attempts <= 1 {
		return err
	}
	return &attemptsError{err: err, attempts: attempts}
}

// Attempts reports how many attempts produced err. Errors that never
// went through a retry policy count as one.
func Attempts(err error) int {
	var ae *attemptsError
	if errors.As(err, &ae) {
		return ae.attempts
	}
	return 1
}
