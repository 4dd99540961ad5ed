package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"

	"github.com/certmint/certmint/internal/certificate"
	"github.com/certmint/certmint/internal/crypto"
	"github.com/certmint/certmint/internal/db"
	"github.com/certmint/certmint/internal/logging"
	"github.com/certmint/certmint/internal/mint"
	"github.com/certmint/certmint/internal/models"
	"github.com/certmint/certmint/internal/observability"
	"github.com/certmint/certmint/internal/wallet"
)

const defaultMintTimeout = 60 * time.Second

type claimLifecycle interface {
	VerifyClaim(ctx context.Context, email, token string) (*models.Claim, error)
	AttachWallet(ctx context.Context, claimID uuid.UUID, attachment db.WalletAttachment) (*models.Claim, error)
	CompleteClaim(ctx context.Context, claimID uuid.UUID, record db.MintRecord) (*models.Claim, error)
	RecordMintError(ctx context.Context, claimID uuid.UUID, cause error)
}

type WalletIssuer interface {
	Generate() (*wallet.Wallet, error)
}

type CertificateBuilder interface {
	BuildURL(fields certificate.Fields) string
}

type Minter interface {
	MintTo(ctx context.Context, req mint.Request) (*mint.Result, error)
	ContractAddress() string
	Chain() string
}

type WelcomeNotifier interface {
	EnqueueWelcomeEmail(ctx context.Context, claim *models.Claim, order *models.Order, nft NFTInfo) error
}

type MintServiceConfig struct {
	BrandName    string
	PortalURL    string
	MintTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// WalletDisclosure is the custodial hand-off returned once to the customer.
type WalletDisclosure struct {
	Address    string `json:"address"`
	Mnemonic   string `json:"mnemonic"`
	PrivateKey string `json:"privateKey"`
}

type CertificateInfo struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type MintResult struct {
	Claim       *models.Claim    `json:"-"`
	Status      string           `json:"status"`
	NFT         NFTInfo          `json:"nft"`
	Wallet      WalletDisclosure `json:"wallet"`
	Certificate CertificateInfo  `json:"coa"`
}

// MintService redeems a verified claim: it binds a custodial wallet and a
// certificate to the claim, mints the NFT, then completes the claim.
type MintService struct {
	claims       claimLifecycle
	orders       OrderRepository
	wallets      WalletIssuer
	sealer       crypto.Sealer
	certificates CertificateBuilder
	minter       Minter
	notifier     WelcomeNotifier
	config       MintServiceConfig
	metrics      *observability.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

type MintServiceDeps struct {
	Claims       claimLifecycle
	Orders       OrderRepository
	Wallets      WalletIssuer
	Sealer       crypto.Sealer
	Certificates CertificateBuilder
	Minter       Minter
	Notifier     WelcomeNotifier
	Metrics      *observability.Metrics
	Logger       *slog.Logger
}

func NewMintService(deps MintServiceDeps, config MintServiceConfig) (*MintService, error) {
	switch {
	case deps.Claims == nil:
		return nil, fmt.Errorf("claim service is required")
	case deps.Wallets == nil:
		return nil, fmt.Errorf("wallet issuer is required")
	case deps.Sealer == nil:
		return nil, fmt.Errorf("sealer is required")
	case deps.Certificates == nil:
		return nil, fmt.Errorf("certificate builder is required")
	case deps.Minter == nil:
		return nil, fmt.Errorf("minter is required")
	}
	if config.MintTimeout <= 0 {
		config.MintTimeout = defaultMintTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MintService{
		claims:       deps.Claims,
		orders:       deps.Orders,
		wallets:      deps.Wallets,
		sealer:       deps.Sealer,
		certificates: deps.Certificates,
		minter:       deps.Minter,
		notifier:     deps.Notifier,
		config:       config,
		metrics:      deps.Metrics,
		logger:       logger.With("component", "mint_service"),
		now:          time.Now,
	}, nil
}

// ProcessClaim is safe to call again after any failure: the wallet and
// certificate are persisted before minting and the mint is keyed by claim id,
// so a retry reuses both and never mints twice.
func (s *MintService) ProcessClaim(ctx context.Context, email, token string) (*MintResult, error) {
	span := sentry.StartSpan(
		ctx,
		"service.mint.process_claim",
		sentry.WithOpName("service.mint"),
		sentry.WithDescription("ProcessClaim"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	meter := observability.MeterFromContext(ctx)
	recordFailed := func(reason string) {
		meter.Count("claim.process.failed", 1, sentry.WithAttributes(
			attribute.String("reason", reason),
		))
	}

	claim, err := s.claims.VerifyClaim(ctx, email, token)
	if err != nil {
		recordFailed("verify")
		return nil, err
	}
	ctx, logger := logging.Attach(ctx, s.logger, "claim_id", claim.ID, "order_id", claim.OrderID)

	order := s.loadOrder(ctx, logger, claim)

	claim, err = s.ensureWallet(ctx, claim, order)
	if err != nil {
		recordFailed("wallet")
		return nil, err
	}
	disclosure, err := s.disclose(claim)
	if err != nil {
		recordFailed("disclose")
		return nil, err
	}

	minted, err := s.mint(ctx, claim, order)
	if err != nil {
		recordFailed("mint")
		s.claims.RecordMintError(context.WithoutCancel(ctx), claim.ID, err)
		logger.Error("mint failed, claim left pending for retry", "error", err)
		return nil, err
	}

	completed, err := s.claims.CompleteClaim(ctx, claim.ID, db.MintRecord{
		TokenID:         minted.TokenID,
		TransactionHash: minted.TransactionHash,
		MintQueueID:     minted.QueueID,
	})
	if err != nil {
		recordFailed("complete")
		s.claims.RecordMintError(context.WithoutCancel(ctx), claim.ID, err)
		var upstreamErr *UpstreamError
		if errors.As(err, &upstreamErr) {
			logger.Error("mint succeeded but claim completion failed", "error", err,
				"transaction_hash", minted.TransactionHash, "manual_intervention", upstreamErr.ManualIntervention)
		}
		return nil, err
	}

	nft := NFTInfo{
		TokenID:         minted.TokenID,
		TransactionHash: minted.TransactionHash,
		ContractAddress: minted.ContractAddress,
		Chain:           minted.Chain,
	}
	if s.notifier != nil {
		if err := s.notifier.EnqueueWelcomeEmail(ctx, completed, order, nft); err != nil {
			logger.Error("failed to queue welcome email", "error", err)
		}
	}

	meter.Count("claim.process.completed", 1)
	logger.Info("claim redeemed", "token_id", nft.TokenID, "wallet", completed.WalletAddress)
	return &MintResult{
		Claim:       completed,
		Status:      string(completed.Status),
		NFT:         nft,
		Wallet:      disclosure,
		Certificate: CertificateInfo{ID: completed.CertificateID, URL: completed.CertificateURL},
	}, nil
}

// loadOrder falls back to nil when the order row is missing or unreadable;
// the certificate then carries claim-only data.
func (s *MintService) loadOrder(ctx context.Context, logger *slog.Logger, claim *models.Claim) *models.Order {
	if s.orders == nil {
		return nil
	}
	var order *models.Order
	err := withRead(ctx, s.config.ReadTimeout, func(ctx context.Context) error {
		var err error
		order, err = s.orders.GetByID(ctx, claim.OrderID)
		return err
	})
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			logger.Warn("order lookup failed, using claim data", "error", err)
		}
		return nil
	}
	return order
}

func (s *MintService) ensureWallet(ctx context.Context, claim *models.Claim, order *models.Order) (*models.Claim, error) {
	if claim.HasWallet() {
		return claim, nil
	}

	w, err := s.wallets.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate wallet: %w", err)
	}
	binding := claim.ID.String()
	sealedKey, err := s.sealer.Seal(w.PrivateKey, binding)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt private key: %w", err)
	}
	sealedMnemonic, err := s.sealer.Seal(w.Mnemonic, binding)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt mnemonic: %w", err)
	}

	certificateID := certificate.NewAuthenticityID()
	certificateURL := s.certificates.BuildURL(certificateFields(order, claim, certificateID, s.now()))

	return s.claims.AttachWallet(ctx, claim.ID, db.WalletAttachment{
		WalletAddress:       w.Address,
		EncryptedPrivateKey: sealedKey,
		EncryptedMnemonic:   sealedMnemonic,
		CertificateID:       certificateID,
		CertificateURL:      certificateURL,
	})
}

func (s *MintService) disclose(claim *models.Claim) (WalletDisclosure, error) {
	binding := claim.ID.String()
	privateKey, err := s.sealer.Open(claim.EncryptedPrivateKey, binding)
	if err != nil {
		return WalletDisclosure{}, fmt.Errorf("failed to decrypt private key: %w", err)
	}
	mnemonic, err := s.sealer.Open(claim.EncryptedMnemonic, binding)
	if err != nil {
		return WalletDisclosure{}, fmt.Errorf("failed to decrypt mnemonic: %w", err)
	}
	return WalletDisclosure{Address: claim.WalletAddress, Mnemonic: mnemonic, PrivateKey: privateKey}, nil
}

func (s *MintService) mint(ctx context.Context, claim *models.Claim, order *models.Order) (*mint.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.MintTimeout)
	defer cancel()

	started := s.now()
	result, err := s.minter.MintTo(ctx, mint.Request{
		IdempotencyKey: MintIdempotencyKey(claim.ID),
		Recipient:      claim.WalletAddress,
		Metadata:       s.metadata(claim, order),
	})
	if err != nil {
		s.metrics.Mint("failed", s.now().Sub(started))
		return nil, &UpstreamError{Op: "mint", Err: err}
	}
	s.metrics.Mint("success", s.now().Sub(started))
	return result, nil
}

// MintIdempotencyKey is stable per claim so relayer retries collapse into one mint.
func MintIdempotencyKey(claimID uuid.UUID) string {
	return "claim-" + claimID.String()
}

func (s *MintService) metadata(claim *models.Claim, order *models.Order) mint.Metadata {
	product, sku, orderNumber := claimProduct(order, claim)
	purchased := claim.CreatedAt
	if order != nil && !order.CreatedAt.IsZero() {
		purchased = order.CreatedAt
	}

	brand := s.config.BrandName
	if brand == "" {
		brand = "Certmint"
	}
	attributes := []mint.Attribute{
		{TraitType: "Product", Value: product},
		{TraitType: "SKU", Value: sku},
		{TraitType: "Order", Value: orderNumber},
		{TraitType: "Certificate ID", Value: claim.CertificateID},
		{TraitType: "Purchase Date", Value: purchased.UTC().Format("2006-01-02")},
	}
	return mint.Metadata{
		Name:        fmt.Sprintf("%s Certificate of Authenticity: %s", brand, product),
		Description: fmt.Sprintf("Certificate of authenticity %s for %s (%s), order %s.", claim.CertificateID, product, sku, orderNumber),
		Image:       claim.CertificateURL,
		ExternalURL: strings.TrimRight(s.config.PortalURL, "/"),
		Attributes:  attributes,
	}
}

func certificateFields(order *models.Order, claim *models.Claim, certificateID string, issuedAt time.Time) certificate.Fields {
	product, sku, orderNumber := claimProduct(order, claim)
	fields := certificate.Fields{
		ProductName:   product,
		SKU:           sku,
		OrderNumber:   orderNumber,
		CertificateID: certificateID,
		IssuedAt:      issuedAt,
	}
	if order != nil {
		fields.Owner = order.CustomerName
	}
	return fields
}

func claimProduct(order *models.Order, claim *models.Claim) (product, sku, orderNumber string) {
	product = "Certificate of Authenticity"
	orderNumber = "#" + claim.OrderID
	if order == nil {
		return product, "", orderNumber
	}
	if order.ProductName != "" {
		product = order.ProductName
	}
	return product, order.SKU, order.DisplayNumber()
}
