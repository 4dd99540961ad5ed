package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/certmint/certmint/internal/models"
)

var walletAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

func TestRedemptionEndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.intake.HandleOrderWebhook(ctx, WebhookInput{
		Topic:   "orders/paid",
		Payload: []byte(eligibleOrderPayload),
	}); err != nil {
		t.Fatalf("HandleOrderWebhook() error = %v", err)
	}

	stats, err := h.dispatch.DispatchOnce(ctx)
	if err != nil {
		t.Fatalf("DispatchOnce() error = %v", err)
	}
	if stats.Sent != 1 || len(h.sender.sent) != 1 || h.sender.sent[0].kind != "claim" {
		t.Fatalf("expected one claim email, stats=%+v sent=%+v", stats, h.sender.sent)
	}
	claimEmail := h.sender.sent[0]
	if claimEmail.to != "a@b.com" || claimEmail.order.OrderNumber != "#1001" {
		t.Fatalf("unexpected claim email: %+v", claimEmail)
	}
	token := claimEmail.token

	if _, err := h.claimSvc.VerifyClaim(ctx, "a@b.com", token); err != nil {
		t.Fatalf("VerifyClaim() error = %v", err)
	}

	result, err := h.mint.ProcessClaim(ctx, "a@b.com", token)
	if err != nil {
		t.Fatalf("ProcessClaim() error = %v", err)
	}
	if result.Status != string(models.ClaimStatusCompleted) {
		t.Fatalf("status = %q, want completed", result.Status)
	}
	if !walletAddressPattern.MatchString(result.Wallet.Address) {
		t.Fatalf("wallet address %q is not an EVM address", result.Wallet.Address)
	}
	if words := strings.Fields(result.Wallet.Mnemonic); len(words) != 12 {
		t.Fatalf("mnemonic has %d words, want 12", len(words))
	}
	if result.Wallet.PrivateKey == "" {
		t.Fatalf("private key not disclosed")
	}
	if !strings.HasPrefix(result.Certificate.ID, "COA-") {
		t.Fatalf("certificate id = %q", result.Certificate.ID)
	}
	if !strings.Contains(result.Certificate.URL, "SKU1") || !strings.Contains(result.Certificate.URL, result.Certificate.ID) {
		t.Fatalf("certificate url %q missing sku or id", result.Certificate.URL)
	}
	if result.NFT.TokenID == "" || result.NFT.Chain != "polygon" {
		t.Fatalf("unexpected nft: %+v", result.NFT)
	}

	stored := h.claims.onlyClaim()
	if stored.EncryptedPrivateKey == "" || strings.Contains(stored.EncryptedPrivateKey, result.Wallet.PrivateKey) {
		t.Fatalf("private key must be stored sealed")
	}
	if strings.Contains(stored.EncryptedMnemonic, result.Wallet.Mnemonic) {
		t.Fatalf("mnemonic must be stored sealed")
	}

	_, err = h.mint.ProcessClaim(ctx, "a@b.com", token)
	var already *AlreadyClaimedError
	if !errors.As(err, &already) {
		t.Fatalf("second ProcessClaim() expected AlreadyClaimedError, got %v", err)
	}

	if _, err := h.dispatch.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce() error = %v", err)
	}
	if len(h.sender.sent) != 2 || h.sender.sent[1].kind != "welcome" {
		t.Fatalf("expected welcome email, sent=%+v", h.sender.sent)
	}
	if h.sender.sent[1].mint.TokenID != result.NFT.TokenID || h.sender.sent[1].mint.CertificateURL != result.Certificate.URL {
		t.Fatalf("welcome email carries wrong mint details: %+v", h.sender.sent[1].mint)
	}

	view, err := h.claimSvc.GetClaimStatus(ctx, token)
	if err != nil {
		t.Fatalf("GetClaimStatus() error = %v", err)
	}
	if view.Status != "completed" || view.NFT == nil || view.NFT.TokenID != result.NFT.TokenID {
		t.Fatalf("unexpected status view: %+v", view)
	}
}

func TestProcessClaimRetryReusesWalletAndIdempotencyKey(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	claim := h.seedClaim(t, "1001", "a@b.com")
	h.minter.failures = 1

	_, err := h.mint.ProcessClaim(context.Background(), "a@b.com", claim.Token)
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) || upstreamErr.Op != "mint" {
		t.Fatalf("expected mint UpstreamError, got %v", err)
	}

	pending := h.claims.onlyClaim()
	if pending.Status != models.ClaimStatusPending {
		t.Fatalf("claim should stay pending after mint failure")
	}
	if pending.WalletAddress == "" || pending.CertificateID == "" {
		t.Fatalf("wallet and certificate should be attached before minting: %+v", pending)
	}
	if !strings.Contains(pending.LastError, "relayer unavailable") {
		t.Fatalf("last error = %q", pending.LastError)
	}

	result, err := h.mint.ProcessClaim(context.Background(), "a@b.com", claim.Token)
	if err != nil {
		t.Fatalf("retry ProcessClaim() error = %v", err)
	}
	if result.Wallet.Address != pending.WalletAddress {
		t.Fatalf("retry issued a new wallet: %q != %q", result.Wallet.Address, pending.WalletAddress)
	}
	if result.Certificate.ID != pending.CertificateID {
		t.Fatalf("retry issued a new certificate id")
	}

	if len(h.minter.requests) != 2 {
		t.Fatalf("mint requests = %d, want 2", len(h.minter.requests))
	}
	want := MintIdempotencyKey(claim.ID)
	for _, req := range h.minter.requests {
		if req.IdempotencyKey != want {
			t.Fatalf("idempotency key = %q, want %q", req.IdempotencyKey, want)
		}
		if req.Recipient != pending.WalletAddress {
			t.Fatalf("recipient = %q, want %q", req.Recipient, pending.WalletAddress)
		}
	}
	if h.claims.onlyClaim().LastError != "" {
		t.Fatalf("last error should clear on completion")
	}
}

func TestProcessClaimConcurrentRedemptionMintsOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	claim := h.seedClaim(t, "1001", "a@b.com")

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		addresses = map[string]bool{}
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.mint.ProcessClaim(context.Background(), "a@b.com", claim.Token)
			mu.Lock()
			defer mu.Unlock()
			var already *AlreadyClaimedError
			switch {
			case err == nil:
				succeeded++
				addresses[result.Wallet.Address] = true
			case errors.As(err, &already):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("successful redemptions = %d, want 1", succeeded)
	}
	if h.minter.mintCount() != 1 {
		t.Fatalf("distinct mints = %d, want 1", h.minter.mintCount())
	}
	if n := len(h.outbox.byKind(models.OutboxKindWelcomeEmail)); n != 1 {
		t.Fatalf("welcome emails = %d, want 1", n)
	}
	if stored := h.claims.onlyClaim(); !addresses[stored.WalletAddress] {
		t.Fatalf("disclosed wallet differs from stored wallet %q", stored.WalletAddress)
	}
}

func TestProcessClaimRejectsWrongEmailWithoutSideEffects(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	claim := h.seedClaim(t, "1001", "a@b.com")

	_, err := h.mint.ProcessClaim(context.Background(), "x@y.com", claim.Token)
	if ErrorCode(err) != CodeNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
	if len(h.minter.requests) != 0 || h.claims.onlyClaim().HasWallet() {
		t.Fatalf("rejected redemption must not generate a wallet or mint")
	}
}

func TestProcessClaimWithoutOrderUsesClaimData(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	claim, err := h.claimSvc.CreateClaim(context.Background(), "3003", "a@b.com")
	if err != nil {
		t.Fatalf("CreateClaim() error = %v", err)
	}

	result, err := h.mint.ProcessClaim(context.Background(), "a@b.com", claim.Token)
	if err != nil {
		t.Fatalf("ProcessClaim() error = %v", err)
	}
	meta := h.minter.requests[0].Metadata
	if !strings.Contains(meta.Name, "Certificate of Authenticity") {
		t.Fatalf("metadata name = %q", meta.Name)
	}
	if meta.Image != result.Certificate.URL {
		t.Fatalf("metadata image should be the certificate url")
	}
	if !strings.Contains(result.Certificate.URL, "%233003") {
		t.Fatalf("certificate url %q should carry the fallback order number", result.Certificate.URL)
	}
}

func TestMintIdempotencyKey(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("6f1c1a52-8a43-4c35-a3a5-0d8f3b1f2e11")
	if got := MintIdempotencyKey(id); got != "claim-6f1c1a52-8a43-4c35-a3a5-0d8f3b1f2e11" {
		t.Fatalf("MintIdempotencyKey() = %q", got)
	}
}

func TestNewMintServiceRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewMintService(MintServiceDeps{}, MintServiceConfig{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}

func TestProcessClaimCompletesAfterExpiryOnceWalletAttached(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	claim := h.seedClaim(t, "1001", "a@b.com")
	h.claims.completeErr = errors.New("connection reset by peer")

	if _, err := h.mint.ProcessClaim(context.Background(), "a@b.com", claim.Token); err == nil {
		t.Fatal("expected completion failure")
	}
	pending := h.claims.onlyClaim()
	if !strings.Contains(pending.LastError, "connection reset") {
		t.Fatalf("last error = %q, want completion failure recorded", pending.LastError)
	}

	h.claims.completeErr = nil
	h.clock.Set(claim.ExpiresAt.Add(24 * time.Hour))

	_, err := h.claimSvc.CreateClaim(context.Background(), "1001", "a@b.com")
	var dup *DuplicateClaimError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateClaimError while a redemption is in flight, got %v", err)
	}

	result, err := h.mint.ProcessClaim(context.Background(), "a@b.com", claim.Token)
	if err != nil {
		t.Fatalf("retry after expiry error = %v", err)
	}
	if result.Wallet.Address != pending.WalletAddress {
		t.Fatalf("retry issued a new wallet")
	}
	for _, req := range h.minter.requests {
		if req.IdempotencyKey != MintIdempotencyKey(claim.ID) {
			t.Fatalf("idempotency key = %q", req.IdempotencyKey)
		}
	}
}

func TestProcessClaimExpiredWithoutWalletIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	claim := h.seedClaim(t, "1001", "a@b.com")
	h.clock.Set(claim.ExpiresAt)

	_, err := h.mint.ProcessClaim(context.Background(), "a@b.com", claim.Token)
	var expired *ExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("expected ExpiredError, got %v", err)
	}
	if len(h.minter.requests) != 0 || h.claims.onlyClaim().HasWallet() {
		t.Fatal("expired claim must not attach a wallet or mint")
	}
}
