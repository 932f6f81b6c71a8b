package resilience

import "time"

// override returns v when it is set, else def.
func override[T int | float64 | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

// FromRetryConfig builds a RetryConfig from raw settings. Zero values keep
// the defaults; a negative jitter keeps the default jitter, zero disables it.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int, multiplier, jitterFraction float64, callTimeoutSecs int) RetryConfig {
	def := DefaultRetryConfig()
	cfg := RetryConfig{
		MaxAttempts:    override(maxAttempts, def.MaxAttempts),
		InitialBackoff: override(time.Duration(initialBackoffMs)*time.Millisecond, def.InitialBackoff),
		MaxBackoff:     override(time.Duration(maxBackoffMs)*time.Millisecond, def.MaxBackoff),
		Multiplier:     override(multiplier, def.Multiplier),
		JitterFraction: def.JitterFraction,
		CallTimeout:    override(time.Duration(callTimeoutSecs)*time.Second, def.CallTimeout),
	}
	if jitterFraction >= 0 {
		cfg.JitterFraction = jitterFraction
	}
	return cfg
}

// FromCircuitConfig builds a CircuitBreakerConfig from raw settings. Zero
// values keep the defaults.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = override(failureThreshold, cfg.FailureThreshold)
	cfg.ResetTimeout = override(time.Duration(resetTimeoutSecs)*time.Second, cfg.ResetTimeout)
	return cfg
}
