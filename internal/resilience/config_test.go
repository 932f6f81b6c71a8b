package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromRetryConfig(t *testing.T) {
	cfg := FromRetryConfig(4, 250, 5000, 3, 0.1, 12)
	assert.Equal(t, 4, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 5*time.Second, cfg.MaxBackoff)
	assert.InDelta(t, 3.0, cfg.Multiplier, 1e-9)
	assert.InDelta(t, 0.1, cfg.JitterFraction, 1e-9)
	assert.Equal(t, 12*time.Second, cfg.CallTimeout)
	assert.Nil(t, cfg.OnRetry)
}

func TestFromRetryConfig_Defaults(t *testing.T) {
	def := DefaultRetryConfig()

	cfg := FromRetryConfig(0, 0, 0, 0, -1, 0)
	assert.Equal(t, def, cfg)

	noJitter := FromRetryConfig(0, 0, 0, 0, 0, 0)
	assert.Zero(t, noJitter.JitterFraction)
	assert.Equal(t, def.MaxAttempts, noJitter.MaxAttempts)
}

func TestFromCircuitConfig(t *testing.T) {
	cfg := FromCircuitConfig(2, 60)
	assert.Equal(t, 2, cfg.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.ResetTimeout)
	assert.Equal(t, 1, cfg.HalfOpenMaxProbes)

	assert.Equal(t, DefaultCircuitBreakerConfig().FailureThreshold, FromCircuitConfig(0, -3).FailureThreshold)
	assert.Equal(t, 30*time.Second, FromCircuitConfig(0, 0).ResetTimeout)
}
