package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/certmint/certmint/internal/db"
	"github.com/certmint/certmint/internal/logging"
	"github.com/certmint/certmint/internal/models"
	"github.com/certmint/certmint/internal/observability"
)

const (
	DefaultClaimExpiry = 90 * 24 * time.Hour
	claimTokenBytes    = 32
)

type ClaimServiceConfig struct {
	Expiry       time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ClaimService owns the claim lifecycle: creation on eligible orders,
// verification at redemption, and the single pending to completed transition.
type ClaimService struct {
	claims  ClaimRepository
	orders  OrderRepository
	config  ClaimServiceConfig
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewClaimService(claims ClaimRepository, orders OrderRepository, config ClaimServiceConfig, metrics *observability.Metrics, logger *slog.Logger) *ClaimService {
	if config.Expiry <= 0 {
		config.Expiry = DefaultClaimExpiry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ClaimService{
		claims:  claims,
		orders:  orders,
		config:  config,
		metrics: metrics,
		logger:  logger.With("component", "claim_service"),
		now:     time.Now,
	}
}

func (s *ClaimService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// CreateClaim issues a pending claim with a fresh random token for the order.
func (s *ClaimService) CreateClaim(ctx context.Context, orderID, email string) (*models.Claim, error) {
	span := sentry.StartSpan(
		ctx,
		"service.claim.create_claim",
		sentry.WithOpName("service.claim"),
		sentry.WithDescription("CreateClaim"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	orderID = strings.TrimSpace(orderID)
	email = strings.TrimSpace(email)
	if orderID == "" {
		return nil, &ValidationError{Field: "orderId", Message: "is required"}
	}
	if email == "" {
		return nil, &ValidationError{Field: "email", Message: "is required"}
	}

	token, err := generateClaimToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate claim token: %w", err)
	}

	now := s.now().UTC()
	claim := &models.Claim{
		ID:        uuid.New(),
		OrderID:   orderID,
		Token:     token,
		Email:     email,
		Status:    models.ClaimStatusPending,
		ExpiresAt: now.Add(s.config.Expiry),
		CreatedAt: now,
	}

	err = withWrite(ctx, "create claim", s.config.WriteTimeout, func(ctx context.Context) error {
		return s.claims.CreateForOrder(ctx, claim)
	})
	if err != nil {
		if errors.Is(err, db.ErrClaimExists) {
			s.metrics.Claim("duplicate")
			return nil, &DuplicateClaimError{OrderID: orderID}
		}
		return nil, upstream("create claim", err)
	}

	s.metrics.Claim("created")
	observability.MeterFromContext(ctx).Count("claim.created", 1)
	s.loggerFromContext(ctx).Info("claim created", "claim_id", claim.ID, "order_id", orderID, "expires_at", claim.ExpiresAt)
	return claim, nil
}

// VerifyClaim checks a redemption attempt without changing any state.
func (s *ClaimService) VerifyClaim(ctx context.Context, email, token string) (*models.Claim, error) {
	email = strings.TrimSpace(email)
	token = strings.TrimSpace(token)
	if email == "" || token == "" {
		return nil, &ValidationError{Message: "email and claimToken are required"}
	}

	claim, err := s.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if claim.IsCompleted() {
		return nil, &AlreadyClaimedError{ClaimID: claim.ID}
	}
	if claim.Email != email {
		s.loggerFromContext(ctx).Warn("claim email mismatch", "claim_id", claim.ID)
		return nil, &NotFoundError{Resource: "claim"}
	}
	if claim.RedemptionExpired(s.now()) {
		return nil, &ExpiredError{ExpiresAt: claim.ExpiresAt}
	}
	return claim, nil
}

// AttachWallet binds the wallet and certificate to a pending claim. If another
// request attached first, the already stored values are returned.
func (s *ClaimService) AttachWallet(ctx context.Context, claimID uuid.UUID, attachment db.WalletAttachment) (*models.Claim, error) {
	var claim *models.Claim
	err := withWrite(ctx, "attach wallet", s.config.WriteTimeout, func(ctx context.Context) error {
		var err error
		claim, err = s.claims.AttachWallet(ctx, claimID, attachment)
		return err
	})
	if err != nil {
		if errors.Is(err, db.ErrInvalidStatusTransition) {
			return nil, &AlreadyClaimedError{ClaimID: claimID}
		}
		if errors.Is(err, db.ErrNotFound) {
			return nil, &NotFoundError{Resource: "claim"}
		}
		return nil, upstream("attach wallet", err)
	}
	return claim, nil
}

// CompleteClaim performs the one allowed pending to completed transition.
// Losing a concurrent race yields AlreadyClaimedError.
func (s *ClaimService) CompleteClaim(ctx context.Context, claimID uuid.UUID, record db.MintRecord) (*models.Claim, error) {
	span := sentry.StartSpan(
		ctx,
		"service.claim.complete_claim",
		sentry.WithOpName("service.claim"),
		sentry.WithDescription("CompleteClaim"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	var claim *models.Claim
	err := withWrite(ctx, "complete claim", s.config.WriteTimeout, func(ctx context.Context) error {
		var err error
		claim, err = s.claims.Complete(ctx, claimID, record, s.now().UTC())
		return err
	})
	if err != nil {
		if errors.Is(err, db.ErrInvalidStatusTransition) {
			s.metrics.Claim("complete_conflict")
			return nil, &AlreadyClaimedError{ClaimID: claimID}
		}
		return nil, upstream("complete claim", err)
	}

	s.metrics.Claim("completed")
	observability.MeterFromContext(ctx).Count("claim.completed", 1)
	s.loggerFromContext(ctx).Info("claim completed", "claim_id", claimID, "token_id", record.TokenID)
	return claim, nil
}

// RecordMintError stores the latest failure on a pending claim for support.
func (s *ClaimService) RecordMintError(ctx context.Context, claimID uuid.UUID, cause error) {
	message := errString(cause)
	if len(message) > 1000 {
		message = message[:1000]
	}
	err := withWrite(ctx, "record mint error", s.config.WriteTimeout, func(ctx context.Context) error {
		return s.claims.RecordError(ctx, claimID, message)
	})
	if err != nil {
		s.loggerFromContext(ctx).Warn("failed to record mint error on claim", "claim_id", claimID, "error", err)
	}
}

type ClaimStatusView struct {
	Status      string     `json:"status"`
	Product     string     `json:"product,omitempty"`
	OrderNumber string     `json:"orderNumber,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	Expired     bool       `json:"expired"`
	NFT         *NFTInfo   `json:"nft,omitempty"`
	ClaimedAt   *time.Time `json:"claimedAt,omitempty"`
}

type NFTInfo struct {
	TokenID         string `json:"tokenId"`
	TransactionHash string `json:"transactionHash"`
	ContractAddress string `json:"contractAddress,omitempty"`
	Chain           string `json:"chain,omitempty"`
}

// GetClaimStatus returns the public status of a claim. It never exposes the
// email, wallet secrets or the token itself.
func (s *ClaimService) GetClaimStatus(ctx context.Context, token string) (*ClaimStatusView, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, &ValidationError{Field: "token", Message: "is required"}
	}
	claim, err := s.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.now()
	view := &ClaimStatusView{
		Status:    string(claim.Status),
		CreatedAt: claim.CreatedAt,
		ExpiresAt: claim.ExpiresAt,
		Expired:   claim.RedemptionExpired(now),
	}
	if view.Expired {
		view.Status = "expired"
	}
	if claim.IsCompleted() {
		completedAt := claim.CompletedAt
		view.ClaimedAt = &completedAt
		view.NFT = &NFTInfo{TokenID: claim.TokenID, TransactionHash: claim.TransactionHash}
	}

	if s.orders != nil {
		order, err := s.loadOrder(ctx, claim.OrderID)
		if err != nil {
			s.loggerFromContext(ctx).Warn("order lookup failed for claim status", "claim_id", claim.ID, "error", err)
		} else if order != nil {
			view.Product = order.ProductName
			view.OrderNumber = order.DisplayNumber()
		}
	}
	return view, nil
}

// GetByToken loads a claim by its token, retrying once on a read timeout.
func (s *ClaimService) GetByToken(ctx context.Context, token string) (*models.Claim, error) {
	var claim *models.Claim
	err := withRead(ctx, s.config.ReadTimeout, func(ctx context.Context) error {
		var err error
		claim, err = s.claims.GetByToken(ctx, token)
		return err
	})
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, &NotFoundError{Resource: "claim"}
		}
		return nil, upstream("load claim", err)
	}
	return claim, nil
}

// OrderForClaim returns the order behind a claim, or nil when it is missing or
// cannot be read.
func (s *ClaimService) OrderForClaim(ctx context.Context, claim *models.Claim) *models.Order {
	if s.orders == nil || claim == nil {
		return nil
	}
	order, err := s.loadOrder(ctx, claim.OrderID)
	if err != nil {
		s.loggerFromContext(ctx).Warn("order lookup failed", "claim_id", claim.ID, "error", err)
		return nil
	}
	return order
}

// loadOrder returns nil without error when the order row is missing.
func (s *ClaimService) loadOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order *models.Order
	err := withRead(ctx, s.config.ReadTimeout, func(ctx context.Context) error {
		var err error
		order, err = s.orders.GetByID(ctx, orderID)
		return err
	})
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil
		}
		return nil, upstream("load order", err)
	}
	return order, nil
}

// upstream wraps err as an UpstreamError unless it already is a typed error.
func upstream(op string, err error) error {
	var coded codedError
	if errors.As(err, &coded) {
		return err
	}
	return &UpstreamError{Op: op, Err: err}
}

func generateClaimToken() (string, error) {
	buf := make([]byte, claimTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
