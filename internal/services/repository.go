package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/certmint/certmint/internal/db"
	"github.com/certmint/certmint/internal/models"
)

type OrderRepository interface {
	Upsert(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, orderID string) (*models.Order, error)
	Count(ctx context.Context) (int, error)
}

type ClaimRepository interface {
	CreateForOrder(ctx context.Context, claim *models.Claim) error
	GetByToken(ctx context.Context, token string) (*models.Claim, error)
	GetByID(ctx context.Context, claimID uuid.UUID) (*models.Claim, error)
	AttachWallet(ctx context.Context, claimID uuid.UUID, attachment db.WalletAttachment) (*models.Claim, error)
	Complete(ctx context.Context, claimID uuid.UUID, record db.MintRecord, completedAt time.Time) (*models.Claim, error)
	RecordError(ctx context.Context, claimID uuid.UUID, message string) error
	CountByStatus(ctx context.Context, now time.Time) (models.ClaimStatusCounts, error)
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, msg *models.OutboxMessage) error
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*models.OutboxMessage, error)
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
	Reschedule(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string) error
	CountByStatus(ctx context.Context) (map[string]int, error)
}

var (
	_ OrderRepository  = (*db.OrderStore)(nil)
	_ ClaimRepository  = (*db.ClaimStore)(nil)
	_ OutboxRepository = (*db.OutboxStore)(nil)
)
