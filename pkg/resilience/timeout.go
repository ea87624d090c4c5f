package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeoutError names the guarded call that ran past its limit. It matches
// context.DeadlineExceeded under errors.Is.
type TimeoutError struct {
	Name  string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Name, e.Limit)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// WithTimeout runs fn under its own deadline and returns as soon as either
// fn finishes or the deadline passes. A function that ignores its context is
// left to finish in the background. A non-positive limit only inherits ctx.
func WithTimeout(ctx context.Context, limit time.Duration, name string, fn func(ctx context.Context) error) error {
	if limit <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(callCtx) }()

	var err error
	select {
	case err = <-done:
	case <-callCtx.Done():
		err = callCtx.Err()
	}
	if err == nil || (!errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled)) {
		return err
	}
	if parentErr := ctx.Err(); parentErr != nil {
		return fmt.Errorf("%s: %w", name, parentErr)
	}
	if callCtx.Err() != nil {
		return &TimeoutError{Name: name, Limit: limit}
	}
	return err
}
