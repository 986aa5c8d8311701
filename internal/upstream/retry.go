package upstream

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds the retries of one upstream call.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Backoff is the wait between attempts (initial wait when Exponential).
	Backoff time.Duration
	// MaxBackoff caps the wait when Exponential is set.
	MaxBackoff time.Duration
	// Exponential doubles the wait after each attempt instead of keeping it fixed.
	Exponential bool
	// AttemptTimeout bounds every single attempt. Zero means no per-attempt timeout.
	AttemptTimeout time.Duration
	// OnRetry is called before each retry with the error that caused it.
	OnRetry func(err error, wait time.Duration)
}

// Retry runs fn until it succeeds, fails with a non-transient error,
// MaxRetries is exhausted or ctx is done. The last error is returned.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var b backoff.BackOff
	if p.Exponential {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.Backoff
		if p.MaxBackoff > 0 {
			eb.MaxInterval = p.MaxBackoff
		}
		eb.MaxElapsedTime = 0
		b = eb
	} else {
		b = backoff.NewConstantBackOff(p.Backoff)
	}

	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)

	op := func() error {
		attemptCtx := ctx
		if p.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
			defer cancel()
		}

		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = backoff.Notify(p.OnRetry)
	}
	return backoff.RetryNotify(op, b, notify)
}
