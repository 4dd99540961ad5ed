package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "validation", err: &ValidationError{Field: "email"}, want: CodeValidation},
		{name: "not found", err: &NotFoundError{Resource: "claim"}, want: CodeNotFound},
		{name: "already claimed", err: &AlreadyClaimedError{}, want: CodeAlreadyClaimed},
		{name: "expired", err: &ExpiredError{ExpiresAt: time.Now()}, want: CodeExpired},
		{name: "duplicate", err: &DuplicateClaimError{OrderID: "1"}, want: CodeDuplicateClaim},
		{name: "auth", err: &AuthError{}, want: CodeUnauthorized},
		{name: "delivery", err: &DeliveryError{}, want: CodeDelivery},
		{name: "wrapped", err: fmt.Errorf("outer: %w", &NotFoundError{Resource: "order"}), want: CodeNotFound},
		{name: "untyped", err: errors.New("boom"), want: CodeUpstream},
	}

	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("%s: ErrorCode() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestUpstreamKeepsTypedErrors(t *testing.T) {
	t.Parallel()

	typed := &ExpiredError{}
	if got := upstream("load", typed); got != typed {
		t.Fatalf("typed error should pass through, got %v", got)
	}

	var upstreamErr *UpstreamError
	if !errors.As(upstream("load", errors.New("reset")), &upstreamErr) || upstreamErr.Op != "load" {
		t.Fatalf("plain error should be wrapped")
	}
}

func TestWithWriteDoesNotRetry(t *testing.T) {
	t.Parallel()

	calls := 0
	err := withWrite(context.Background(), "insert", 0, func(context.Context) error {
		calls++
		return context.DeadlineExceeded
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) || !upstreamErr.ManualIntervention {
		t.Fatalf("expected manual intervention error, got %v", err)
	}
}

func TestWithReadStopsWhenCallerCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_ = withRead(ctx, time.Second, func(ctx context.Context) error {
		calls++
		return context.DeadlineExceeded
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
