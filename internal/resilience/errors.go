package resilience

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Error kinds recorded on stage results.
const (
	KindProvider    = "provider_error"
	KindRateLimit   = "rate_limit"
	KindBudget      = "budget_exceeded"
	KindValidation  = "validation"
	KindTimeout     = "timeout"
	KindCircuitOpen = "circuit_open"
	KindCanceled    = "canceled"
)

// ProviderError is a failed provider call. Permanent errors (a 404, a
// malformed response) stop retries after the attempt that produced them.
type ProviderError struct {
	Provider   string
	Message    string
	StatusCode int
	Permanent  bool
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError wraps err as a retryable provider failure.
func NewProviderError(provider, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Message: message, Err: err}
}

// HTTPError builds a ProviderError from a non-2xx response. Statuses that
// are not transient are marked permanent.
func HTTPError(provider string, status int, body string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Message:    fmt.Sprintf("unexpected status %d: %s", status, body),
		StatusCode: status,
		Permanent:  !IsTransientHTTPStatus(status),
	}
}

// RateLimitError signals the provider asked us to back off.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider %s: rate limited (retry after %s)", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("provider %s: rate limited", e.Provider)
}

// BudgetExceededError means a stage cost more than the entity had left.
type BudgetExceededError struct {
	Provider  string
	Requested int
	Available int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s skipped: insufficient budget (%d¢ < %d¢)", e.Provider, e.Available, e.Requested)
}

// ValidationError is malformed input. It is never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return "validation: " + e.Message }

// TimeoutError is a provider call that exceeded its per-call deadline. It
// is retried like any other provider error.
type TimeoutError struct {
	Provider string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %s: call timed out after %s", e.Provider, e.Timeout)
}

// Kind classifies err for audit records. Unknown errors are provider errors.
func Kind(err error) string {
	var (
		rl *RateLimitError
		be *BudgetExceededError
		ve *ValidationError
		te *TimeoutError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &be):
		return KindBudget
	case errors.As(err, &rl):
		return KindRateLimit
	case errors.As(err, &te):
		return KindTimeout
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindProvider
	}
}

// IsRetryable reports whether another attempt could succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch Kind(err) {
	case KindValidation, KindBudget, KindCircuitOpen, KindCanceled:
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Permanent {
		return false
	}
	return true
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}

// ParseRetryAfter reads a Retry-After header value in seconds or HTTP-date
// form. Unparseable values yield zero.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
