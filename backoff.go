package registrar

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default retry policy for transient failures.
const (
	DefaultInitialInterval = 1 * time.Second
	DefaultMultiplier      = 2.0
	DefaultMaxInterval     = 60 * time.Second
	DefaultMaxAttempts     = 6
)

// RetryPolicy describes the exponential backoff between attempts.
type RetryPolicy struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	// MaxAttempts counts every network attempt, including the first.
	MaxAttempts int
	// Jitter is the backoff randomization factor (0 disables it).
	Jitter float64
}

// DefaultRetryPolicy returns 1s, x2, capped at 60s, 6 attempts, no jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: DefaultInitialInterval,
		Multiplier:      DefaultMultiplier,
		MaxInterval:     DefaultMaxInterval,
		MaxAttempts:     DefaultMaxAttempts,
	}
}

// MaxDelay is the worst-case total sleep across all retries. Every sleep,
// jittered or not, is at most MaxInterval.
func (p RetryPolicy) MaxDelay() time.Duration {
	p = p.normalized()
	var total time.Duration
	interval := float64(p.InitialInterval)
	for i := 1; i < p.MaxAttempts; i++ {
		d := time.Duration(interval * (1 + p.Jitter))
		if d > p.MaxInterval {
			d = p.MaxInterval
		}
		total += d
		interval *= p.Multiplier
	}
	return total
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = def.MaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0
	}
	return p
}

// newBackOff builds the backoff for one submission. The attempt cap, not
// elapsed time, bounds the loop; ctx cancellation stops it early.
func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	p = p.normalized()
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.InitialInterval),
		backoff.WithMultiplier(p.Multiplier),
		backoff.WithMaxInterval(p.MaxInterval),
		backoff.WithRandomizationFactor(p.Jitter),
		backoff.WithMaxElapsedTime(0),
	)
	capped := &cappedBackOff{BackOff: exp, max: p.MaxInterval}
	return backoff.WithContext(backoff.WithMaxRetries(capped, uint64(p.MaxAttempts-1)), ctx)
}

// cappedBackOff clamps every interval to max. ExponentialBackOff caps the
// interval before randomizing it, so a jittered sleep can otherwise exceed
// MaxInterval.
type cappedBackOff struct {
	backoff.BackOff
	max time.Duration
}

func (b *cappedBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next != backoff.Stop && next > b.max {
		return b.max
	}
	return next
}
