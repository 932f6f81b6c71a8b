package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sells-group/entity-enrich/internal/resilience"
	"github.com/sells-group/entity-enrich/pkg/apierr"
)

// classify maps a client error onto the waterfall's error taxonomy so the
// retrier can decide what to do with it. Context errors pass through.
func classify(name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if se, ok := apierr.As(err); ok {
		if se.StatusCode == http.StatusTooManyRequests {
			return &resilience.RateLimitError{
				Provider:   name,
				RetryAfter: resilience.ParseRetryAfter(se.RetryAfter, time.Now()),
			}
		}
		return resilience.HTTPError(name, se.StatusCode, se.Body)
	}
	var pe *resilience.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return resilience.NewProviderError(name, "request failed", err)
}

// malformed marks a response that will not parse on retry either.
func malformed(name, what string, err error) error {
	return &resilience.ProviderError{Provider: name, Message: "malformed " + what, Permanent: true, Err: err}
}
