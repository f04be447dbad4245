package resilience

import (
	"time"
)

// FromRetryConfig builds a RetryConfig from configuration values. Zero
// values keep the defaults.
func FromRetryConfig(maxAttempts int, initialBackoff, maxBackoff time.Duration, multiplier, jitterFraction float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoff > 0 {
		cfg.InitialBackoff = initialBackoff
	}
	if maxBackoff > 0 {
		cfg.MaxBackoff = maxBackoff
	}
	if multiplier > 0 {
		cfg.Multiplier = multiplier
	}
	if jitterFraction >= 0 {
		cfg.JitterFraction = jitterFraction
	}
	return cfg
}

// FromBreakerConfig builds a BreakerConfig. A zero threshold disables the
// breaker.
func FromBreakerConfig(failureThreshold int, resetTimeout time.Duration) BreakerConfig {
	cfg := BreakerConfig{FailureThreshold: failureThreshold, ResetTimeout: 30 * time.Second, HalfOpenMaxProbes: 1}
	if resetTimeout > 0 {
		cfg.ResetTimeout = resetTimeout
	}
	return cfg
}
