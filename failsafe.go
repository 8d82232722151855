package sdk

import (
	"context"
	"time"
)

// Failsafe races an operation against a deadline. When the deadline wins, a fallback runs right
// away and the operation is abandoned (its context is cancelled, its result ignored).
type Failsafe struct {
	timeout time.Duration
}

// NewFailsafe returns a Failsafe with the given deadline; non-positive values use
// DefaultLogoutTimeout.
func NewFailsafe(timeout time.Duration) *Failsafe {
	if timeout <= 0 {
		timeout = DefaultLogoutTimeout
	}
	return &Failsafe{timeout: timeout}
}

// Timeout returns the configured deadline.
func (f *Failsafe) Timeout() time.Duration {
	return f.timeout
}

// Run executes op under the deadline.
//
// If op settles first its error is returned and the timer is stopped. If the timer fires first,
// or ctx is done, fallback runs on a context that is never cancelled and Run returns
// *FailsafeTimeoutError (or ctx.Err()) without waiting for op.
func (f *Failsafe) Run(ctx context.Context, op func(context.Context) error, fallback func(context.Context)) error {
	opCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- op(opCtx)
	}()

	timer := time.NewTimer(f.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		cancel()
		return err
	case <-timer.C:
		cancel()
		fallback(context.WithoutCancel(ctx))
		return &FailsafeTimeoutError{Timeout: f.timeout}
	case <-ctx.Done():
		cancel()
		fallback(context.WithoutCancel(ctx))
		return ctx.Err()
	}
}
