package sdk

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls how token refresh calls are retried after transport failures.
// Server answers (any status) are never retried: a rejected refresh ends the session.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func defaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 2,
		BaseBackoff: 200 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
	}
}

func (r RetryConfig) normalized() RetryConfig {
	cfg := r
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 2 * time.Second
	}
	return cfg
}

func (r RetryConfig) backoffDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	exp := attempt - 2
	base := float64(r.BaseBackoff) * math.Pow(2, float64(exp))
	cap := float64(r.MaxBackoff)
	if base > cap {
		base = cap
	}
	// jitter 0.5x..1.5x
	jitter := 0.5 + rand.Float64()
	d := time.Duration(base * jitter)
	if d > r.MaxBackoff {
		d = r.MaxBackoff
	}
	return d
}

// wait sleeps for the attempt's backoff or until ctx is done.
func (r RetryConfig) wait(ctx context.Context, attempt int) error {
	d := r.backoffDelay(attempt)
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
