package notifications

import (
	"errors"
	"time"
)

// OutcomeKind classifies the result of a dispatch attempt.
type OutcomeKind int

// Outcome kinds.
const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRateLimited
	OutcomeRetryable
	OutcomeNonRetryable
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeNonRetryable:
		return "non_retryable"
	default:
		return "unknown"
	}
}

// Outcome is what a handler returns for a queue item.
type Outcome struct {
	Kind       OutcomeKind
	MessageID  string
	RetryAfter time.Duration
	Err        error
}

// Success builds a successful outcome.
func Success(messageID string) Outcome {
	return Outcome{Kind: OutcomeSuccess, MessageID: messageID}
}

// RateLimited builds a rate-limited outcome.
func RateLimited(retryAfter time.Duration, err error) Outcome {
	return Outcome{Kind: OutcomeRateLimited, RetryAfter: retryAfter, Err: err}
}

// Retryable builds a retryable failure.
func Retryable(err error) Outcome {
	return Outcome{Kind: OutcomeRetryable, Err: err}
}

// NonRetryable builds a failure that goes straight to the dead letter state.
func NonRetryable(err error) Outcome {
	return Outcome{Kind: OutcomeNonRetryable, Err: err}
}

// Reason returns the human-readable failure cause.
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// OutcomeFromError maps a dispatch result to an outcome.
// Errors exposing RetryDelay() are rate limits, errors exposing IsRetryable()
// decide for themselves, and unknown errors are retried.
func OutcomeFromError(messageID string, err error) Outcome {
	if err == nil {
		return Success(messageID)
	}

	var limited interface{ RetryDelay() time.Duration }
	if errors.As(err, &limited) {
		return RateLimited(limited.RetryDelay(), err)
	}

	if errors.Is(err, ErrEntityNotFound) || errors.Is(err, ErrCooldownActive) || errors.Is(err, ErrNotEligible) {
		return NonRetryable(err)
	}

	if !isRetryable(err) {
		return NonRetryable(err)
	}
	return Retryable(err)
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	// Default: retry unknown errors
	return true
}

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}
