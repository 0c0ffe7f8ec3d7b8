package rews

import (
	"math"
	"math/rand"
	"time"

	"github.com/cozy/realtime.go/pkg/constants"
)

// Retryer decides whether and when a lost connection is dialed again.
type Retryer interface {
	// NextDelay returns the delay before the next attempt.
	// attempt is the number of consecutive failures so far, starting at 1.
	// Returns false once the connection must be given up.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)
}

// RetryPolicy retries Limit times with a fixed Delay.
// A Limit of 0 gives up on the first failure.
type RetryPolicy struct {
	Delay time.Duration
	Limit int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Delay: constants.DefaultRetryDelay,
		Limit: constants.DefaultRetryLimit,
	}
}

// NextDelay implements Retryer
func (p RetryPolicy) NextDelay(attempt int, lastErr error) (time.Duration, bool) {
	if attempt > p.Limit {
		return 0, false
	}
	return p.Delay, true
}

// ExponentialBackoffRetryer implements exponential backoff with jitter
type ExponentialBackoffRetryer struct {
	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay is the maximum retry delay
	MaxDelay time.Duration

	// Multiplier is the exponential backoff multiplier
	Multiplier float64

	// MaxRetries is the maximum number of retry attempts (negative for infinite)
	MaxRetries int

	// JitterFactor is the maximum jitter as a fraction of the delay (0.0 to 1.0)
	JitterFactor float64
}

// NewExponentialBackoffRetryer creates a new exponential backoff retryer with defaults
func NewExponentialBackoffRetryer() *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   constants.DefaultRetryLimit,
		JitterFactor: 0.3,
	}
}

// NextDelay implements Retryer
func (r *ExponentialBackoffRetryer) NextDelay(attempt int, lastErr error) (time.Duration, bool) {
	if r.MaxRetries >= 0 && attempt > r.MaxRetries {
		return 0, false
	}

	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt-1))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.JitterFactor > 0 {
		//nolint:gosec // math/rand is fine for jitter, not security-critical
		jitter := delay * r.JitterFactor * (2*rand.Float64() - 1) // -jitterFactor to +jitterFactor
		delay += jitter
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}

	return time.Duration(delay), true
}
