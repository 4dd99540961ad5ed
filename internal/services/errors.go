package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stable machine-readable codes returned to API callers.
const (
	CodeValidation     = "validation_error"
	CodeNotFound       = "not_found"
	CodeAlreadyClaimed = "already_claimed"
	CodeExpired        = "expired"
	CodeDuplicateClaim = "duplicate_claim"
	CodeUnauthorized   = "unauthorized"
	CodeDelivery       = "delivery_failed"
	CodeUpstream       = "upstream_error"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Code() string { return CodeValidation }

// NotFoundError is also returned when a claim exists but the email does not
// match, so callers cannot probe which tokens are live.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found"
}

func (e *NotFoundError) Code() string { return CodeNotFound }

type AlreadyClaimedError struct {
	ClaimID uuid.UUID
}

func (e *AlreadyClaimedError) Error() string {
	return "claim has already been redeemed"
}

func (e *AlreadyClaimedError) Code() string { return CodeAlreadyClaimed }

type ExpiredError struct {
	ExpiresAt time.Time
}

func (e *ExpiredError) Error() string {
	return "claim expired at " + e.ExpiresAt.UTC().Format(time.RFC3339)
}

func (e *ExpiredError) Code() string { return CodeExpired }

type DuplicateClaimError struct {
	OrderID string
}

func (e *DuplicateClaimError) Error() string {
	return fmt.Sprintf("order %s already has an open or completed claim", e.OrderID)
}

func (e *DuplicateClaimError) Code() string { return CodeDuplicateClaim }

type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "unauthorized"
	}
	return "authentication failed: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Code() string { return CodeUnauthorized }

type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return "email delivery failed: " + errString(e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Code() string { return CodeDelivery }

// UpstreamError wraps database and mint relayer failures. ManualIntervention
// marks writes whose outcome is unknown and must not be blindly retried.
type UpstreamError struct {
	Op                 string
	Err                error
	ManualIntervention bool
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, errString(e.Err))
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Code() string { return CodeUpstream }

type codedError interface {
	error
	Code() string
}

// ErrorCode returns the stable code of the first typed error in err's chain.
func ErrorCode(err error) string {
	var coded codedError
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return CodeUpstream
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
