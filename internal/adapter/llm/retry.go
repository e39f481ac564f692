package llm

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Default retry settings.
const (
	DefaultMaxRetries = 4
	DefaultBaseDelay  = 200 * time.Millisecond
	DefaultFactor     = 2.0
	DefaultMaxDelay   = 30 * time.Second
	DefaultJitter     = 0.1
)

// RetryPolicy controls the attempt loop of Client.Stream. A request is tried
// at most MaxRetries+1 times.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Factor     float64
	MaxDelay   time.Duration
	// Jitter is the relative spread applied to each delay: 0.1 draws the
	// multiplier uniformly from [0.9, 1.1].
	Jitter float64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		Factor:     DefaultFactor,
		MaxDelay:   DefaultMaxDelay,
		Jitter:     DefaultJitter,
	}
}

// normalized fills unset fields with defaults. MaxRetries is kept as given,
// so zero means a single attempt.
func (p RetryPolicy) normalized() RetryPolicy {
	p.MaxRetries = max(p.MaxRetries, 0)
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.Factor < 1 {
		p.Factor = DefaultFactor
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	p.Jitter = min(max(p.Jitter, 0), 1)
	return p
}

// Backoff returns the un-jittered delay after the given failed attempt
// (1-based): BaseDelay * Factor^(attempt-1), capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	attempt = max(attempt, 1)
	d := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt-1))
	if math.IsInf(d, 0) || d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// jittered spreads d by ±Jitter using r, a source of uniform values in [0,1).
func (p RetryPolicy) jittered(d time.Duration, r func() float64) time.Duration {
	if p.Jitter == 0 || d <= 0 {
		return d
	}
	mult := 1 - p.Jitter + 2*p.Jitter*r()
	return time.Duration(float64(d) * mult)
}

// Delay returns the jittered wait before the next attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.jittered(p.Backoff(attempt), rand.Float64)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
