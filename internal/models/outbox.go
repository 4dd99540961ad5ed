package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxKind string

const (
	OutboxKindClaimEmail   OutboxKind = "claim_email"
	OutboxKindWelcomeEmail OutboxKind = "welcome_email"
)

type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

type OutboxMessage struct {
	ID            uuid.UUID       `json:"id"`
	Kind          OutboxKind      `json:"kind"`
	Recipient     string          `json:"recipient"`
	Payload       json.RawMessage `json:"payload"`
	Status        OutboxStatus    `json:"status"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	SentAt        time.Time       `json:"sent_at"`
}
