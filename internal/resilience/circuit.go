// Package resilience provides retry, timeout and circuit breaking for
// provider calls, plus the error taxonomy the waterfall records.
package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the reset timeout elapses.
	CircuitOpen
	// CircuitHalfOpen lets probe calls through to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a provider is short-circuited.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failed stages before
	// the circuit opens. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMaxProbes is the number of successful probes needed to close
	// the circuit again. Default: 1.
	HalfOpenMaxProbes int

	// OnStateChange is called with the provider name on every transition.
	OnStateChange func(provider string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// Breaker tracks the health of one provider across entities.
type Breaker struct {
	name  string
	cfg   CircuitBreakerConfig
	mu    sync.Mutex
	state CircuitState

	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenSuccesses   int

	nowFunc func() time.Time
}

// NewBreaker creates a breaker for the named provider.
func NewBreaker(name string, cfg CircuitBreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = 1
	}
	return &Breaker{
		name:    name,
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// Allow returns ErrCircuitOpen when the provider should not be called.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitOpen {
		if b.nowFunc().Sub(b.lastFailureTime) < b.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		b.transition(CircuitHalfOpen)
	}
	return nil
}

// Record feeds the outcome of a provider stage into the breaker. Errors
// that say nothing about provider health (validation, budget,
// cancellation) are ignored.
func (b *Breaker) Record(err error) {
	if err != nil {
		switch Kind(err) {
		case KindValidation, KindBudget, KindCanceled, KindCircuitOpen:
			return
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		switch b.state {
		case CircuitHalfOpen:
			b.halfOpenSuccesses++
			if b.halfOpenSuccesses >= b.cfg.HalfOpenMaxProbes {
				b.transition(CircuitClosed)
				b.consecutiveFailures = 0
				b.halfOpenSuccesses = 0
			}
		case CircuitClosed:
			b.consecutiveFailures = 0
		}
		return
	}

	b.consecutiveFailures++
	b.lastFailureTime = b.nowFunc()

	switch b.state {
	case CircuitClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		b.transition(CircuitOpen)
		b.halfOpenSuccesses = 0
	}
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitOpen && b.nowFunc().Sub(b.lastFailureTime) >= b.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return b.state
}

// Reset forces the circuit closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != CircuitClosed {
		b.transition(CircuitClosed)
	}
	b.consecutiveFailures = 0
	b.halfOpenSuccesses = 0
}

func (b *Breaker) transition(to CircuitState) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// Breakers holds one breaker per provider.
type Breakers struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      CircuitBreakerConfig
}

// NewBreakers creates an empty per-provider registry.
func NewBreakers(cfg CircuitBreakerConfig) *Breakers {
	return &Breakers{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for provider, creating it if needed.
func (bs *Breakers) Get(provider string) *Breaker {
	bs.mu.RLock()
	b, ok := bs.breakers[provider]
	bs.mu.RUnlock()
	if ok {
		return b
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if b, ok = bs.breakers[provider]; ok {
		return b
	}
	b = NewBreaker(provider, bs.cfg)
	bs.breakers[provider] = b
	return b
}

// States returns a snapshot of all breaker states keyed by provider.
func (bs *Breakers) States() map[string]string {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	states := make(map[string]string, len(bs.breakers))
	for name, b := range bs.breakers {
		states[name] = b.State().String()
	}
	return states
}
