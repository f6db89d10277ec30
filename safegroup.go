package pulsekeeper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
)

// SafeGroup is an errgroup.Group with safer defaults for long-running workers:
// GoSafe restarts a worker on panic with backoff, and WaitOrInterrupt returns
// early when the parent context is cancelled.
type SafeGroup struct {
	*errgroup.Group
	// ctx is the errgroup-derived context, cancelled on parent cancellation or
	// the first non-nil worker error.
	ctx context.Context
	// parent is the caller's context (typically signal-bound). WaitOrInterrupt
	// watches it so a worker error is not normalized into context.Canceled.
	parent context.Context
}

// NewSafeGroup creates a SafeGroup backed by errgroup.WithContext.
func NewSafeGroup(ctx context.Context) *SafeGroup {
	if ctx == nil {
		ctx = context.Background()
	}
	group, groupCtx := errgroup.WithContext(ctx)
	return &SafeGroup{Group: group, ctx: groupCtx, parent: ctx}
}

// GoSafe runs fn in a group goroutine. A panic does not cancel sibling
// goroutines; the worker is restarted with exponential backoff instead. A
// returned error keeps errgroup semantics and cancels the derived context.
//
// Panics are reported on stderr rather than through the structured logger,
// since the logger itself may be what panicked.
func (sg *SafeGroup) GoSafe(name string, fn func(context.Context) error) {
	if sg == nil || sg.Group == nil || fn == nil {
		return
	}
	sg.Group.Go(func() (err error) {
		backoff := 200 * time.Millisecond
		const maxBackoff = 30 * time.Second
		for {
			select {
			case <-sg.ctx.Done():
				return nil
			default:
			}

			panicked := false
			var recovered any
			func() {
				defer func() {
					if r := recover(); r != nil {
						panicked = true
						recovered = r
					}
				}()
				err = fn(sg.ctx)
			}()

			if !panicked {
				return err
			}

			_, _ = fmt.Fprintf(os.Stderr, "WARN: %s panicked: %v\n%s\n", name, recovered, debug.Stack())

			jitter := time.Duration(0)
			if jitterMax := backoff / 2; jitterMax > 0 {
				jitter = time.Duration(time.Now().UnixNano() % int64(jitterMax))
			}
			time.Sleep(backoff + jitter)

			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	})
}

// WaitOrInterrupt waits for the group's goroutines, returning early with the
// parent context's error once the parent is done and gracePeriod has elapsed
// without the workers finishing.
func (sg *SafeGroup) WaitOrInterrupt(gracePeriod time.Duration) error {
	if sg == nil || sg.Group == nil {
		return nil
	}

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- sg.Group.Wait()
	}()

	select {
	case err := <-waitCh:
		return normalizeInterruptError(sg.parent, err)
	case <-sg.parent.Done():
		if gracePeriod <= 0 {
			return sg.parent.Err()
		}
		select {
		case err := <-waitCh:
			return normalizeInterruptError(sg.parent, err)
		case <-time.After(gracePeriod):
			return sg.parent.Err()
		}
	}
}

// normalizeInterruptError maps context cancellation errors to ctx.Err().
func normalizeInterruptError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return ctx.Err()
	}
	return err
}
