package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/certmint/certmint/internal/cache"
	"github.com/certmint/certmint/internal/certificate"
	"github.com/certmint/certmint/internal/crypto"
	"github.com/certmint/certmint/internal/db"
	"github.com/certmint/certmint/internal/email"
	"github.com/certmint/certmint/internal/mint"
	"github.com/certmint/certmint/internal/models"
	"github.com/certmint/certmint/internal/shopify"
	"github.com/certmint/certmint/internal/wallet"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeClaimRepo struct {
	mu      sync.Mutex
	claims  map[uuid.UUID]*models.Claim
	byToken map[string]uuid.UUID

	getErrs     []error
	getCalls    int
	completeErr error
	createErr   error
}

func newFakeClaimRepo() *fakeClaimRepo {
	return &fakeClaimRepo{
		claims:  map[uuid.UUID]*models.Claim{},
		byToken: map[string]uuid.UUID{},
	}
}

func (r *fakeClaimRepo) CreateForOrder(_ context.Context, claim *models.Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.claims {
		if existing.OrderID != claim.OrderID {
			continue
		}
		if existing.Status == models.ClaimStatusCompleted || existing.ExpiresAt.After(claim.CreatedAt) || existing.HasWallet() {
			return db.ErrClaimExists
		}
	}
	stored := *claim
	stored.Status = models.ClaimStatusPending
	r.claims[claim.ID] = &stored
	r.byToken[claim.Token] = claim.ID
	claim.Status = models.ClaimStatusPending
	return nil
}

func (r *fakeClaimRepo) GetByToken(_ context.Context, token string) (*models.Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	if len(r.getErrs) > 0 {
		err := r.getErrs[0]
		r.getErrs = r.getErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	id, ok := r.byToken[token]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *r.claims[id]
	return &copied, nil
}

func (r *fakeClaimRepo) GetByID(_ context.Context, claimID uuid.UUID) (*models.Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	claim, ok := r.claims[claimID]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *claim
	return &copied, nil
}

func (r *fakeClaimRepo) AttachWallet(_ context.Context, claimID uuid.UUID, attachment db.WalletAttachment) (*models.Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	claim, ok := r.claims[claimID]
	if !ok {
		return nil, db.ErrNotFound
	}
	if claim.Status != models.ClaimStatusPending {
		return nil, db.ErrInvalidStatusTransition
	}
	if claim.WalletAddress == "" {
		claim.WalletAddress = attachment.WalletAddress
		claim.EncryptedPrivateKey = attachment.EncryptedPrivateKey
		claim.EncryptedMnemonic = attachment.EncryptedMnemonic
		claim.CertificateID = attachment.CertificateID
		claim.CertificateURL = attachment.CertificateURL
	}
	copied := *claim
	return &copied, nil
}

func (r *fakeClaimRepo) Complete(_ context.Context, claimID uuid.UUID, record db.MintRecord, completedAt time.Time) (*models.Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completeErr != nil {
		return nil, r.completeErr
	}
	claim, ok := r.claims[claimID]
	if !ok || claim.Status != models.ClaimStatusPending {
		return nil, db.ErrInvalidStatusTransition
	}
	claim.Status = models.ClaimStatusCompleted
	claim.TokenID = record.TokenID
	claim.TransactionHash = record.TransactionHash
	claim.MintQueueID = record.MintQueueID
	claim.CompletedAt = completedAt
	claim.LastError = ""
	copied := *claim
	return &copied, nil
}

func (r *fakeClaimRepo) RecordError(_ context.Context, claimID uuid.UUID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	claim, ok := r.claims[claimID]
	if !ok || claim.Status != models.ClaimStatusPending {
		return db.ErrInvalidStatusTransition
	}
	claim.LastError = message
	return nil
}

func (r *fakeClaimRepo) CountByStatus(_ context.Context, now time.Time) (models.ClaimStatusCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var counts models.ClaimStatusCounts
	for _, claim := range r.claims {
		switch {
		case claim.Status == models.ClaimStatusCompleted:
			counts.Completed++
		case claim.RedemptionExpired(now):
			counts.Expired++
		default:
			counts.Pending++
		}
	}
	return counts, nil
}

func (r *fakeClaimRepo) onlyClaim() *models.Claim {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, claim := range r.claims {
		copied := *claim
		return &copied
	}
	return nil
}

func (r *fakeClaimRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.claims)
}

type fakeOrderRepo struct {
	mu        sync.Mutex
	orders    map[string]*models.Order
	upsertErr error
	countErr  error
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: map[string]*models.Order{}}
}

func (r *fakeOrderRepo) Upsert(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return r.upsertErr
	}
	if existing, ok := r.orders[order.ID]; ok {
		for k, v := range order.Metadata {
			existing.Metadata[k] = v
		}
		order.CreatedAt = existing.CreatedAt
		return nil
	}
	copied := *order
	copied.CreatedAt = time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	if copied.Metadata == nil {
		copied.Metadata = map[string]any{}
	}
	r.orders[order.ID] = &copied
	order.CreatedAt = copied.CreatedAt
	return nil
}

func (r *fakeOrderRepo) GetByID(_ context.Context, orderID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *order
	return &copied, nil
}

func (r *fakeOrderRepo) Count(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.countErr != nil {
		return 0, r.countErr
	}
	return len(r.orders), nil
}

type fakeOutbox struct {
	mu         sync.Mutex
	messages   map[uuid.UUID]*models.OutboxMessage
	enqueueErr error
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{messages: map[uuid.UUID]*models.OutboxMessage{}}
}

func (o *fakeOutbox) Enqueue(_ context.Context, msg *models.OutboxMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.enqueueErr != nil {
		return o.enqueueErr
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	copied := *msg
	copied.Status = models.OutboxStatusPending
	o.messages[msg.ID] = &copied
	return nil
}

func (o *fakeOutbox) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]*models.OutboxMessage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var due []*models.OutboxMessage
	for _, msg := range o.messages {
		if msg.Status == models.OutboxStatusPending && !msg.NextAttemptAt.After(now) {
			msg.NextAttemptAt = now.Add(lease)
			copied := *msg
			due = append(due, &copied)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Kind < due[j].Kind })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (o *fakeOutbox) MarkSent(_ context.Context, id uuid.UUID, sentAt time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	msg := o.messages[id]
	msg.Status = models.OutboxStatusSent
	msg.Attempts++
	msg.SentAt = sentAt
	return nil
}

func (o *fakeOutbox) Reschedule(_ context.Context, id uuid.UUID, attempts int, next time.Time, lastError string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	msg := o.messages[id]
	msg.Attempts = attempts
	msg.NextAttemptAt = next
	msg.LastError = lastError
	return nil
}

func (o *fakeOutbox) MarkFailed(_ context.Context, id uuid.UUID, attempts int, lastError string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	msg := o.messages[id]
	msg.Status = models.OutboxStatusFailed
	msg.Attempts = attempts
	msg.LastError = lastError
	return nil
}

func (o *fakeOutbox) CountByStatus(context.Context) (map[string]int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	counts := map[string]int{}
	for _, msg := range o.messages {
		counts[string(msg.Status)]++
	}
	return counts, nil
}

func (o *fakeOutbox) byKind(kind models.OutboxKind) []*models.OutboxMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*models.OutboxMessage
	for _, msg := range o.messages {
		if msg.Kind == kind {
			copied := *msg
			out = append(out, &copied)
		}
	}
	return out
}

type sentEmail struct {
	kind  string
	to    string
	token string
	order email.OrderSummary
	mint  email.MintSummary
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentEmail
	fails int
	err   error
	// onSend runs at the start of every send, e.g. to move a fake clock.
	onSend       func()
	withDeadline int
}

func (s *fakeSender) fail() error {
	if s.onSend != nil {
		s.onSend()
	}
	if s.fails > 0 {
		s.fails--
		return s.err
	}
	return nil
}

func (s *fakeSender) SendClaimEmail(ctx context.Context, to, token string, _ time.Time, order email.OrderSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := ctx.Deadline(); ok {
		s.withDeadline++
	}
	if err := s.fail(); err != nil {
		return err
	}
	s.sent = append(s.sent, sentEmail{kind: "claim", to: to, token: token, order: order})
	return nil
}

func (s *fakeSender) SendWelcomeEmail(_ context.Context, to string, _ email.WalletSummary, mint email.MintSummary, order email.OrderSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	s.sent = append(s.sent, sentEmail{kind: "welcome", to: to, order: order, mint: mint})
	return nil
}

func (s *fakeSender) SendTestEmail(_ context.Context, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	s.sent = append(s.sent, sentEmail{kind: "test", to: to})
	return nil
}

// fakeMinter honours idempotency keys the way the relayer does.
type fakeMinter struct {
	mu       sync.Mutex
	byKey    map[string]*mint.Result
	requests []mint.Request
	failures int
	next     int
}

func newFakeMinter() *fakeMinter {
	return &fakeMinter{byKey: map[string]*mint.Result{}}
}

func (m *fakeMinter) MintTo(_ context.Context, req mint.Request) (*mint.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.failures > 0 {
		m.failures--
		return nil, errors.New("relayer unavailable")
	}
	if result, ok := m.byKey[req.IdempotencyKey]; ok {
		copied := *result
		return &copied, nil
	}
	m.next++
	result := &mint.Result{
		QueueID:         "queue-" + req.IdempotencyKey,
		TransactionHash: "0xtx" + req.IdempotencyKey,
		TokenID:         strconv.Itoa(m.next),
		ContractAddress: m.ContractAddress(),
		Chain:           m.Chain(),
	}
	m.byKey[req.IdempotencyKey] = result
	copied := *result
	return &copied, nil
}

func (m *fakeMinter) ContractAddress() string { return "0x2222222222222222222222222222222222222222" }

func (m *fakeMinter) Chain() string { return "polygon" }

func (m *fakeMinter) mintCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byKey)
}

type harness struct {
	clock    *fakeClock
	claims   *fakeClaimRepo
	orders   *fakeOrderRepo
	outbox   *fakeOutbox
	sender   *fakeSender
	minter   *fakeMinter
	claimSvc *ClaimService
	intake   *IntakeService
	mint     *MintService
	dispatch *OutboxDispatcher
}

func newHarness(t testing.TB) *harness {
	t.Helper()

	h := &harness{
		clock:  newFakeClock(),
		claims: newFakeClaimRepo(),
		orders: newFakeOrderRepo(),
		outbox: newFakeOutbox(),
		sender: &fakeSender{},
		minter: newFakeMinter(),
	}
	logger := testLogger()

	h.claimSvc = NewClaimService(h.claims, h.orders, ClaimServiceConfig{}, nil, logger)
	h.claimSvc.now = h.clock.Now

	dedupe, err := cache.NewMemoryProvider()
	if err != nil {
		t.Fatalf("memory cache: %v", err)
	}
	notifier := NewNotifier(h.outbox, logger)
	h.intake = NewIntakeService(h.orders, h.claimSvc, notifier, dedupe, IntakeServiceConfig{
		Eligibility: shopify.Eligibility{Tag: "nft-eligible"},
	}, nil, logger)

	sealer, err := crypto.NewSealer(strings.Repeat("k", 32))
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	h.mint, err = NewMintService(MintServiceDeps{
		Claims:       h.claimSvc,
		Orders:       h.orders,
		Wallets:      wallet.NewIssuer(),
		Sealer:       sealer,
		Certificates: certificate.NewRenderer("https://res.cloudinary.com/demo/image/upload", "", certificate.DefaultLayout()),
		Minter:       h.minter,
		Notifier:     notifier,
		Logger:       logger,
	}, MintServiceConfig{BrandName: "Certmint", PortalURL: "https://claim.example.com"})
	if err != nil {
		t.Fatalf("mint service: %v", err)
	}
	h.mint.now = h.clock.Now

	h.dispatch = NewOutboxDispatcher(h.outbox, h.sender, OutboxDispatcherConfig{MaxAttempts: 3}, nil, logger)
	h.dispatch.now = h.clock.Now
	return h
}

// seedClaim stores an order and a pending claim for it.
func (h *harness) seedClaim(t testing.TB, orderID, email string) *models.Claim {
	t.Helper()
	order := &models.Order{
		ID:            orderID,
		OrderNumber:   "#" + orderID,
		CustomerEmail: email,
		CustomerName:  "Ada Lovelace",
		ProductName:   "Walnut Chair",
		SKU:           "SKU1",
		NFTEligible:   true,
	}
	if err := h.orders.Upsert(context.Background(), order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	claim, err := h.claimSvc.CreateClaim(context.Background(), orderID, email)
	if err != nil {
		t.Fatalf("seed claim: %v", err)
	}
	return claim
}

var (
	_ ClaimRepository  = (*fakeClaimRepo)(nil)
	_ OrderRepository  = (*fakeOrderRepo)(nil)
	_ OutboxRepository = (*fakeOutbox)(nil)
	_ EmailSender      = (*fakeSender)(nil)
	_ Minter           = (*fakeMinter)(nil)
)
