package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Clock abstracts time for the retry loop.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// RandomSource supplies jitter in [0,1).
type RandomSource interface {
	Float64() float64
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}

// RetryConfig controls retry behavior with exponential backoff and jitter.
type RetryConfig struct {
	// MaxAttempts is the number of counted attempts, including the first.
	// Default: 3.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. It is also the
	// rate-limit delay when the provider gives no Retry-After. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the computed backoff. Default: 30s.
	MaxBackoff time.Duration

	// Multiplier scales the backoff after each attempt. Default: 2.0.
	Multiplier float64

	// JitterFraction adds ±fraction of the delay at random. Default: 0.25.
	JitterFraction float64

	// CallTimeout bounds each individual call. Zero disables it.
	CallTimeout time.Duration

	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the retry policy used for provider calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
		CallTimeout:    30 * time.Second,
	}
}

// Retrier runs provider calls under a RetryConfig.
type Retrier struct {
	cfg   RetryConfig
	clock Clock
	rand  RandomSource
}

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithClock injects the clock used for sleeps.
func WithClock(c Clock) RetrierOption {
	return func(r *Retrier) { r.clock = c }
}

// WithRandom injects the jitter source.
func WithRandom(src RandomSource) RetrierOption {
	return func(r *Retrier) { r.rand = src }
}

// NewRetrier creates a Retrier. Zero config values take defaults.
func NewRetrier(cfg RetryConfig, opts ...RetrierOption) *Retrier {
	r := &Retrier{cfg: applyDefaults(cfg), clock: SystemClock, rand: globalRand{}}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Config returns the effective configuration.
func (r *Retrier) Config() RetryConfig { return r.cfg }

// Do runs fn until it succeeds, fails with a non-retryable error, or
// exhausts MaxAttempts. The first RateLimitError sleeps for its RetryAfter
// and retries without consuming an attempt. It returns the total number of
// invocations alongside the last error.
func (r *Retrier) Do(ctx context.Context, provider string, fn func(ctx context.Context) error) (int, error) {
	_, attempts, err := DoVal(ctx, r, provider, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return attempts, err
}

// DoVal is Do for calls that return a value.
func DoVal[T any](ctx context.Context, r *Retrier, provider string, fn func(ctx context.Context) (T, error)) (T, int, error) {
	var zero T
	calls := 0
	counted := 0
	rateLimitRetried := false

	for {
		calls++
		val, err := callWithTimeout(ctx, r.cfg.CallTimeout, provider, fn)
		if err == nil {
			return val, calls, nil
		}

		// Parent cancellation ends the loop regardless of error type.
		if ctx.Err() != nil {
			return zero, calls, err
		}
		if !IsRetryable(err) {
			return zero, calls, err
		}

		var rl *RateLimitError
		if errors.As(err, &rl) && !rateLimitRetried {
			rateLimitRetried = true
			delay := rl.RetryAfter
			if delay <= 0 {
				delay = r.cfg.InitialBackoff
			}
			if r.cfg.OnRetry != nil {
				r.cfg.OnRetry(calls, err)
			}
			if serr := r.clock.Sleep(ctx, delay); serr != nil {
				return zero, calls, err
			}
			continue
		}

		counted++
		if counted >= r.cfg.MaxAttempts {
			return zero, calls, err
		}

		if r.cfg.OnRetry != nil {
			r.cfg.OnRetry(calls, err)
		}
		if serr := r.clock.Sleep(ctx, r.backoff(counted-1)); serr != nil {
			return zero, calls, err
		}
	}
}

// callWithTimeout invokes fn under the per-call timeout, mapping an
// expired call deadline to TimeoutError.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, provider string, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	val, err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return val, &TimeoutError{Provider: provider, Timeout: timeout}
	}
	return val, err
}

func (r *Retrier) backoff(attempt int) time.Duration {
	cfg := r.cfg
	delay := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if delay > float64(cfg.MaxBackoff) {
		delay = float64(cfg.MaxBackoff)
	}

	if cfg.JitterFraction > 0 {
		jitterRange := delay * cfg.JitterFraction
		delay += (r.rand.Float64()*2 - 1) * jitterRange
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	if cfg.CallTimeout < 0 {
		cfg.CallTimeout = 0
	}
	return cfg
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.String("kind", Kind(err)),
			zap.Error(err),
		)
	}
}
