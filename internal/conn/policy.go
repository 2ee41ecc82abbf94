package conn

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds reconnection: exponential delays capped at MaxInterval,
// at most MaxRetries consecutive retries after a failure.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the randomization factor in [0, 1).
	Jitter float64
	// MaxRetries of zero selects the default budget; a negative value disables retries.
	MaxRetries int
	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration
}

// DefaultRetryPolicy returns the policy used when the caller leaves fields zero.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
		Jitter:          0.2,
		MaxRetries:      6,
		DialTimeout:     10 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = def.MaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = def.Jitter
	}
	switch {
	case p.MaxRetries == 0:
		p.MaxRetries = def.MaxRetries
	case p.MaxRetries < 0:
		// negative disables retries entirely
		p.MaxRetries = 0
	}
	if p.DialTimeout <= 0 {
		p.DialTimeout = def.DialTimeout
	}
	return p
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.Reset()
	return b
}
