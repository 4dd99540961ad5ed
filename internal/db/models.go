package db

import "github.com/certmint/certmint/internal/models"

type Order = models.Order
type Claim = models.Claim
type ClaimStatus = models.ClaimStatus
type ClaimStatusCounts = models.ClaimStatusCounts
type OutboxMessage = models.OutboxMessage
type OutboxKind = models.OutboxKind
type OutboxStatus = models.OutboxStatus

const (
	ClaimStatusPending   = models.ClaimStatusPending
	ClaimStatusCompleted = models.ClaimStatusCompleted

	OutboxStatusPending = models.OutboxStatusPending
	OutboxStatusSent    = models.OutboxStatusSent
	OutboxStatusFailed  = models.OutboxStatusFailed
)
