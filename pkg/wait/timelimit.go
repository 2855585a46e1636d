package wait

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
)

// DefaultTimeLimitMessage is strerror(ETIME).
var DefaultTimeLimitMessage = unix.ETIME.Error()

// TimeLimitError is returned when a call exceeds its wall-clock budget.
type TimeLimitError struct {
	Limit   time.Duration
	Message string
}

func (e *TimeLimitError) Error() string {
	return fmt.Sprintf("%s (limit %v)", e.Message, e.Limit)
}

// Is lets errors.Is(err, core.ErrTimeLimitExceeded) match.
func (e *TimeLimitError) Is(target error) bool {
	return target == core.ErrTimeLimitExceeded
}

// Func is a call that can be bounded by LimitExecutionTime.
type Func func(ctx context.Context) error

// LimitExecutionTime returns a decorator that aborts the wrapped call with a
// *TimeLimitError once limit has elapsed. An empty message selects
// DefaultTimeLimitMessage.
func LimitExecutionTime(limit time.Duration, message string) func(Func) Func {
	return func(fn Func) Func {
		return func(ctx context.Context) error {
			_, err := RunWithin(ctx, limit, message, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, fn(ctx)
			})
			return err
		}
	}
}

type outcome[T any] struct {
	val   T
	err   error
	panic interface{}
}

// RunWithin runs fn on a worker goroutine with a context that is cancelled
// after limit, and waits for it no longer than limit. fn is expected to honour
// its context; if it does not, its result is discarded when it eventually
// returns. The derived context is released on every exit path, so a limit
// armed for one call can never fire into another.
func RunWithin[T any](ctx context.Context, limit time.Duration, message string, fn func(context.Context) (T, error)) (T, error) {
	if message == "" {
		message = DefaultTimeLimitMessage
	}

	limited, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		var o outcome[T]
		defer func() {
			if r := recover(); r != nil {
				o.panic = r
			}
			done <- o
		}()
		o.val, o.err = fn(limited)
	}()

	select {
	case o := <-done:
		if o.panic != nil {
			panic(o.panic)
		}
		// A worker that returned because the limit cancelled it still
		// reports the limit.
		if limited.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			var zero T
			return zero, &TimeLimitError{Limit: limit, Message: message}
		}
		return o.val, o.err
	case <-limited.Done():
		var zero T
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &TimeLimitError{Limit: limit, Message: message}
	}
}
