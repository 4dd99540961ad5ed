package models

import (
	"time"

	"github.com/google/uuid"
)

type ClaimStatus string

// Expiry is not a stored status; see Claim.IsExpired.
const (
	ClaimStatusPending   ClaimStatus = "pending"
	ClaimStatusCompleted ClaimStatus = "completed"
)

type Claim struct {
	ID                  uuid.UUID   `json:"id"`
	OrderID             string      `json:"order_id"`
	Token               string      `json:"-"`
	Email               string      `json:"email"`
	Status              ClaimStatus `json:"status"`
	ExpiresAt           time.Time   `json:"expires_at"`
	CreatedAt           time.Time   `json:"created_at"`
	WalletAddress       string      `json:"wallet_address,omitempty"`
	EncryptedPrivateKey string      `json:"-"`
	EncryptedMnemonic   string      `json:"-"`
	CertificateID       string      `json:"certificate_id,omitempty"`
	CertificateURL      string      `json:"certificate_url,omitempty"`
	TokenID             string      `json:"token_id,omitempty"`
	TransactionHash     string      `json:"transaction_hash,omitempty"`
	MintQueueID         string      `json:"mint_queue_id,omitempty"`
	LastError           string      `json:"last_error,omitempty"`
	CompletedAt         time.Time   `json:"completed_at"`
}

// IsExpired reports whether a pending claim is past its expiry at now.
func (c *Claim) IsExpired(now time.Time) bool {
	return c != nil && c.Status == ClaimStatusPending && !now.Before(c.ExpiresAt)
}

// RedemptionExpired reports whether the claim can no longer be redeemed at now.
// A redemption that attached its wallet before expiry may still finish, since
// the mint for that wallet may already be on chain.
func (c *Claim) RedemptionExpired(now time.Time) bool {
	return c.IsExpired(now) && !c.HasWallet()
}

func (c *Claim) IsCompleted() bool {
	return c != nil && c.Status == ClaimStatusCompleted
}

func (c *Claim) HasWallet() bool {
	return c != nil && c.WalletAddress != ""
}

// ClaimStatusCounts is an aggregate used by the admin status view.
type ClaimStatusCounts struct {
	Pending   int `json:"pending"`
	Expired   int `json:"expired"`
	Completed int `json:"completed"`
}
