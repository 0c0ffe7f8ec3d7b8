package rews

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{Delay: 50 * time.Millisecond, Limit: 2}
	lastErr := errors.New("lost")

	for attempt := 1; attempt <= 2; attempt++ {
		delay, ok := p.NextDelay(attempt, lastErr)
		assert.True(t, ok, "attempt %d", attempt)
		assert.Equal(t, 50*time.Millisecond, delay)
	}

	_, ok := p.NextDelay(3, lastErr)
	assert.False(t, ok)
}

func TestRetryPolicy_ZeroLimit(t *testing.T) {
	_, ok := RetryPolicy{Delay: time.Second}.NextDelay(1, nil)
	assert.False(t, ok)
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 10*time.Second, p.Delay)
	assert.Equal(t, 60, p.Limit)
}

func TestExponentialBackoffRetryer(t *testing.T) {
	r := &ExponentialBackoffRetryer{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
		MaxRetries:   4,
	}

	expected := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		50 * time.Millisecond,
	}
	for i, want := range expected {
		delay, ok := r.NextDelay(i+1, nil)
		assert.True(t, ok)
		assert.Equal(t, want, delay, "attempt %d", i+1)
	}

	_, ok := r.NextDelay(5, nil)
	assert.False(t, ok)
}

func TestExponentialBackoffRetryer_Jitter(t *testing.T) {
	r := NewExponentialBackoffRetryer()
	r.MaxRetries = -1

	for i := 0; i < 20; i++ {
		delay, ok := r.NextDelay(100, nil)
		assert.True(t, ok)
		assert.GreaterOrEqual(t, delay, time.Duration(float64(r.MaxDelay)*(1-r.JitterFactor)))
		assert.LessOrEqual(t, delay, time.Duration(float64(r.MaxDelay)*(1+r.JitterFactor)))
	}
}
