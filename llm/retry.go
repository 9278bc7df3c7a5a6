package llm

import "time"

// RetryConfig tunes the exponential backoff applied to transient provider
// failures. Fatal errors never retry.
type RetryConfig struct {
	// MaxAttempts bounds the total attempts per generation, first try
	// included.
	MaxAttempts int

	// BackoffBase is the wait before the first retry.
	BackoffBase time.Duration

	// BackoffMultiplier scales the wait after every failed retry.
	BackoffMultiplier float64

	// MaxBackoff caps the wait regardless of the multiplier.
	MaxBackoff time.Duration
}

// DefaultRetryConfig is tuned for rate-limited provider APIs: three
// attempts, doubling from two seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}
