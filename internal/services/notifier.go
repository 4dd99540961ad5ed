package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/certmint/certmint/internal/email"
	"github.com/certmint/certmint/internal/logging"
	"github.com/certmint/certmint/internal/models"
)

type OutboxEnqueuer interface {
	Enqueue(ctx context.Context, msg *models.OutboxMessage) error
}

type claimEmailPayload struct {
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
	Order     email.OrderSummary `json:"order"`
}

type welcomeEmailPayload struct {
	Wallet email.WalletSummary `json:"wallet"`
	Mint   email.MintSummary   `json:"mint"`
	Order  email.OrderSummary  `json:"order"`
}

// Notifier records outgoing customer emails in the outbox. Delivery happens
// in OutboxDispatcher so a provider outage never fails the caller's request.
type Notifier struct {
	outbox OutboxEnqueuer
	logger *slog.Logger
}

func NewNotifier(outbox OutboxEnqueuer, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{outbox: outbox, logger: logger.With("component", "notifier")}
}

func (n *Notifier) EnqueueClaimEmail(ctx context.Context, claim *models.Claim, order *models.Order) error {
	return n.enqueue(ctx, models.OutboxKindClaimEmail, claim.Email, claimEmailPayload{
		Token:     claim.Token,
		ExpiresAt: claim.ExpiresAt,
		Order:     orderSummary(order, claim),
	})
}

func (n *Notifier) EnqueueWelcomeEmail(ctx context.Context, claim *models.Claim, order *models.Order, nft NFTInfo) error {
	return n.enqueue(ctx, models.OutboxKindWelcomeEmail, claim.Email, welcomeEmailPayload{
		Wallet: email.WalletSummary{Address: claim.WalletAddress},
		Mint: email.MintSummary{
			TokenID:         nft.TokenID,
			TransactionHash: nft.TransactionHash,
			ContractAddress: nft.ContractAddress,
			Chain:           nft.Chain,
			CertificateID:   claim.CertificateID,
			CertificateURL:  claim.CertificateURL,
		},
		Order: orderSummary(order, claim),
	})
}

func (n *Notifier) enqueue(ctx context.Context, kind models.OutboxKind, recipient string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	msg := &models.OutboxMessage{
		Kind:      kind,
		Recipient: recipient,
		Payload:   body,
	}
	if err := n.outbox.Enqueue(ctx, msg); err != nil {
		return &DeliveryError{Err: err}
	}
	logging.FromContext(ctx, n.logger).Info("email queued", "kind", kind, "outbox_id", msg.ID)
	return nil
}

func orderSummary(order *models.Order, claim *models.Claim) email.OrderSummary {
	if order == nil {
		return email.OrderSummary{OrderNumber: "#" + claim.OrderID}
	}
	return email.OrderSummary{
		OrderNumber:  order.DisplayNumber(),
		CustomerName: order.CustomerName,
		ProductName:  order.ProductName,
		SKU:          order.SKU,
	}
}
