// Package wait provides the polling primitives used to smooth over the
// asynchrony of a live desktop: windows and widgets appear after an
// unpredictable delay and accessibility queries can fail until they do.
package wait

import (
	"context"
	"errors"
	"time"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
)

// Default polling budget.
const (
	DefaultTimeout = 30 * time.Second
	DefaultPeriod  = 250 * time.Millisecond
)

// Options configures a polling loop. Zero fields fall back to the defaults.
type Options struct {
	Timeout time.Duration
	Period  time.Duration
}

func (o *Options) resolve() (time.Duration, time.Duration) {
	timeout, period := DefaultTimeout, DefaultPeriod
	if o != nil {
		if o.Timeout > 0 {
			timeout = o.Timeout
		}
		if o.Period > 0 {
			period = o.Period
		}
	}
	return timeout, period
}

// Until calls pred(subject) until it reports true or the timeout elapses.
//
// An error from pred is treated as transient and the call is retried. When the
// deadline is reached, Until returns false together with the error of the last
// attempt, so a persistent failure is reported instead of a silent timeout. If
// the last attempt returned no error, Until returns false, nil.
func Until[T any](ctx context.Context, pred func(T) (bool, error), subject T, opts *Options) (bool, error) {
	timeout, period := opts.resolve()
	deadline := time.Now().Add(timeout)

	for {
		ok, err := pred(subject)
		if err == nil && ok {
			return true, nil
		}
		lastErr := err

		if !time.Now().Before(deadline) {
			return false, lastErr
		}

		timer := time.NewTimer(period)
		select {
		case <-ctx.Done():
			timer.Stop()
			if lastErr != nil {
				return false, errors.Join(ctx.Err(), lastErr)
			}
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

// Poll repeatedly calls fn until it returns nil. On timeout it returns
// core.ErrWaitTimeout wrapping the last error fn returned.
func Poll(ctx context.Context, fn func(context.Context) error, opts *Options) error {
	var last error
	ok, err := Until(ctx, func(ctx context.Context) (bool, error) {
		last = fn(ctx)
		return last == nil, nil
	}, ctx, opts)
	if ok {
		return nil
	}
	if err != nil {
		return err
	}
	timeout, _ := opts.resolve()
	return core.ErrWaitTimeout.
		WithMessagef("condition not met within %v", timeout).
		WithCause(last)
}
