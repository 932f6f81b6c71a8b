package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestBreaker(threshold int, reset time.Duration) (*Breaker, *time.Time) {
	now := time.Unix(1000, 0)
	b := NewBreaker("p", CircuitBreakerConfig{FailureThreshold: threshold, ResetTimeout: reset})
	b.nowFunc = func() time.Time { return now }
	return b, &now
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("attempt %d: unexpected %v", i, err)
		}
		b.Record(errors.New("fail"))
	}

	if b.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)

	b.Record(errors.New("fail"))
	b.Record(nil)
	b.Record(errors.New("fail"))

	if b.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_IgnoresNonHealthErrors(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)

	b.Record(&ValidationError{Message: "x"})
	b.Record(&BudgetExceededError{})

	if b.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, now := newTestBreaker(1, 10*time.Second)

	b.Record(errors.New("fail"))
	if b.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	*now = now.Add(11 * time.Second)
	if b.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe to be allowed, got %v", err)
	}
	b.Record(nil)
	if b.State() != CircuitClosed {
		t.Errorf("expected closed after probe, got %s", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(1, 10*time.Second)

	b.Record(errors.New("fail"))
	*now = now.Add(11 * time.Second)
	_ = b.Allow()
	b.Record(errors.New("still down"))

	if b.State() != CircuitOpen {
		t.Errorf("expected open, got %s", b.State())
	}
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	b := NewBreaker("search", CircuitBreakerConfig{
		FailureThreshold: 1,
		OnStateChange: func(provider string, from, to CircuitState) {
			transitions = append(transitions, provider+":"+from.String()+"->"+to.String())
		},
	})

	b.Record(errors.New("fail"))
	b.Reset()

	want := []string{"search:closed->open", "search:open->closed"}
	if len(transitions) != 2 || transitions[0] != want[0] || transitions[1] != want[1] {
		t.Errorf("got %v, want %v", transitions, want)
	}
}

func TestBreakers_GetIsStableAndConcurrent(t *testing.T) {
	bs := NewBreakers(DefaultCircuitBreakerConfig())

	var wg sync.WaitGroup
	got := make([]*Breaker, 20)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = bs.Get("linkedin")
		}(i)
	}
	wg.Wait()

	for _, b := range got {
		if b != got[0] {
			t.Fatal("expected the same breaker instance for one provider")
		}
	}
	states := bs.States()
	if states["linkedin"] != "closed" {
		t.Errorf("expected closed, got %q", states["linkedin"])
	}
}

func TestCircuitState_String(t *testing.T) {
	if CircuitState(99).String() != "unknown" {
		t.Error("expected unknown for out-of-range state")
	}
}
