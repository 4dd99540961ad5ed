package services

import (
	"context"
	"time"
)

// withRead runs fn under timeout and retries it once if that timeout, and not
// the caller's context, expired.
func withRead(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	err := runWithTimeout(ctx, timeout, fn)
	if err == nil || !isTimeout(err) || ctx.Err() != nil {
		return err
	}
	return runWithTimeout(ctx, timeout, fn)
}

// withWrite runs fn under timeout without retrying. A timed-out write may or
// may not have committed, so it is reported as needing manual intervention.
func withWrite(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context) error) error {
	err := runWithTimeout(ctx, timeout, fn)
	if err != nil && isTimeout(err) {
		return &UpstreamError{Op: op, Err: err, ManualIntervention: true}
	}
	return err
}

func runWithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
