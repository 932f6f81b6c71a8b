package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock records sleeps without blocking.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

func newTestRetrier(cfg RetryConfig) (*Retrier, *fakeClock) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	// 0.5 maps to zero jitter.
	return NewRetrier(cfg, WithClock(clock), WithRandom(fixedRand(0.5))), clock
}

func TestRetrier_SuccessOnFirstAttempt(t *testing.T) {
	r, clock := newTestRetrier(DefaultRetryConfig())

	attempts, err := r.Do(context.Background(), "p", func(_ context.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("expected no sleeps, got %v", clock.sleeps)
	}
}

func TestRetrier_SucceedsOnThirdAttempt(t *testing.T) {
	r, clock := newTestRetrier(RetryConfig{MaxAttempts: 3, InitialBackoff: 100 * time.Millisecond, Multiplier: 2})

	var calls int
	val, attempts, err := DoVal(context.Background(), r, "p", func(_ context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewProviderError("p", "flaky", nil)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "ok" {
		t.Errorf("expected ok, got %q", val)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(clock.sleeps) != len(want) || clock.sleeps[0] != want[0] || clock.sleeps[1] != want[1] {
		t.Errorf("expected sleeps %v, got %v", want, clock.sleeps)
	}
}

func TestRetrier_ExhaustsAttempts(t *testing.T) {
	r, _ := newTestRetrier(RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond})

	var calls int
	attempts, err := r.Do(context.Background(), "p", func(_ context.Context) error {
		calls++
		return NewProviderError("p", "down", nil)
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 || attempts != 3 {
		t.Errorf("expected 3 calls, got calls=%d attempts=%d", calls, attempts)
	}
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Errorf("expected last ProviderError, got %T", err)
	}
}

func TestRetrier_NonRetryableStopsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"validation", &ValidationError{Message: "bad identifier"}},
		{"budget", &BudgetExceededError{Provider: "p", Requested: 10, Available: 5}},
		{"permanent http", HTTPError("p", 404, "not found")},
		{"circuit open", ErrCircuitOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRetrier(DefaultRetryConfig())
			var calls int
			_, err := r.Do(context.Background(), "p", func(_ context.Context) error {
				calls++
				return tt.err
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if calls != 1 {
				t.Errorf("expected 1 call, got %d", calls)
			}
		})
	}
}

func TestRetrier_RateLimitRetryIsFree(t *testing.T) {
	r, clock := newTestRetrier(RetryConfig{MaxAttempts: 2, InitialBackoff: 10 * time.Millisecond})

	var calls int
	attempts, err := r.Do(context.Background(), "p", func(_ context.Context) error {
		calls++
		switch calls {
		case 1:
			return &RateLimitError{Provider: "p", RetryAfter: 7 * time.Second}
		case 2:
			return NewProviderError("p", "flaky", nil)
		default:
			return nil
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 invocations with 2 counted, got %d", attempts)
	}
	if len(clock.sleeps) != 2 || clock.sleeps[0] != 7*time.Second {
		t.Errorf("expected first sleep to honor Retry-After, got %v", clock.sleeps)
	}
}

func TestRetrier_SecondRateLimitCounts(t *testing.T) {
	r, clock := newTestRetrier(RetryConfig{MaxAttempts: 1, InitialBackoff: 10 * time.Millisecond})

	var calls int
	_, err := r.Do(context.Background(), "p", func(_ context.Context) error {
		calls++
		return &RateLimitError{Provider: "p"}
	})
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected one free retry then stop, got %d calls", calls)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 10*time.Millisecond {
		t.Errorf("expected base delay when Retry-After missing, got %v", clock.sleeps)
	}
}

func TestRetrier_CallTimeoutBecomesTimeoutError(t *testing.T) {
	r, _ := newTestRetrier(RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, CallTimeout: 5 * time.Millisecond})

	var calls int
	attempts, err := r.Do(context.Background(), "slow", func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if te.Provider != "slow" {
		t.Errorf("expected provider slow, got %q", te.Provider)
	}
	if attempts != 2 {
		t.Errorf("expected timeouts to be retried, got %d attempts", attempts)
	}
}

func TestRetrier_ParentCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r, _ := newTestRetrier(RetryConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond})

	var calls int
	_, err := r.Do(ctx, "p", func(_ context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return NewProviderError("p", "fail", nil)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("expected stop after cancel, got %d calls", calls)
	}
}

func TestRetrier_OnRetryCallback(t *testing.T) {
	var retried []int
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		OnRetry:        func(attempt int, _ error) { retried = append(retried, attempt) },
	}
	r, _ := newTestRetrier(cfg)

	_, _ = r.Do(context.Background(), "p", func(_ context.Context) error {
		return NewProviderError("p", "fail", nil)
	})
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("expected OnRetry for attempts [1 2], got %v", retried)
	}
}

func TestBackoff_CapAndJitter(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 3 * time.Second, Multiplier: 2, JitterFraction: 0.5}

	low := NewRetrier(cfg, WithRandom(fixedRand(0)))
	high := NewRetrier(cfg, WithRandom(fixedRand(0.999999)))

	if got := low.backoff(0); got != 500*time.Millisecond {
		t.Errorf("expected 500ms with max negative jitter, got %v", got)
	}
	if got := high.backoff(0); got < 1499*time.Millisecond || got > 1500*time.Millisecond {
		t.Errorf("expected ~1.5s with max positive jitter, got %v", got)
	}
	if got := low.backoff(5); got != 1500*time.Millisecond {
		t.Errorf("expected cap of 3s minus jitter, got %v", got)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := applyDefaults(RetryConfig{JitterFraction: -1, CallTimeout: -1})
	if cfg.MaxAttempts != 3 {
		t.Errorf("expected 3, got %d", cfg.MaxAttempts)
	}
	if cfg.InitialBackoff != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", cfg.InitialBackoff)
	}
	if cfg.Multiplier != 2.0 {
		t.Errorf("expected 2.0, got %v", cfg.Multiplier)
	}
	if cfg.JitterFraction != 0 || cfg.CallTimeout != 0 {
		t.Errorf("expected negatives clamped, got %+v", cfg)
	}
}

func TestRealClock_SleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SystemClock.Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
