package email

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type recordingProvider struct {
	sent []*Email
	err  error
}

func (p *recordingProvider) SendEmail(_ context.Context, email *Email) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, email)
	return nil
}

func (p *recordingProvider) ValidateAPIKey(context.Context) error { return nil }

func (p *recordingProvider) Name() string { return "recording" }

func newTestSender(t *testing.T, provider Provider) *Sender {
	t.Helper()
	sender, err := NewSender(provider, "Certmint", "https://claim.example.com/", nil)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	return sender
}

func TestSendClaimEmail(t *testing.T) {
	t.Parallel()

	provider := &recordingProvider{}
	sender := newTestSender(t, provider)

	expires := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	err := sender.SendClaimEmail(context.Background(), "a@b.com", "tok+en/1", expires, OrderSummary{
		OrderNumber:  "#1001",
		CustomerName: "Ada",
		ProductName:  "Chronograph <Limited>",
		SKU:          "SKU1",
	})
	if err != nil {
		t.Fatalf("SendClaimEmail: %v", err)
	}
	if len(provider.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(provider.sent))
	}

	msg := provider.sent[0]
	if msg.To != "a@b.com" {
		t.Fatalf("unexpected recipient %q", msg.To)
	}
	if msg.Subject != "Claim your digital certificate for #1001" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.Text, "https://claim.example.com/claim?token=tok%2Ben%2F1") {
		t.Fatalf("expected escaped claim URL in text body:\n%s", msg.Text)
	}
	if !strings.Contains(msg.Text, "April 1, 2026") {
		t.Fatalf("expected expiry date in text body:\n%s", msg.Text)
	}
	if strings.Contains(msg.HTML, "<Limited>") {
		t.Fatal("expected product name to be HTML escaped")
	}
}

func TestSendWelcomeEmail(t *testing.T) {
	t.Parallel()

	provider := &recordingProvider{}
	sender := newTestSender(t, provider)

	err := sender.SendWelcomeEmail(context.Background(), "a@b.com",
		WalletSummary{Address: "0xabc"},
		MintSummary{TokenID: "42", TransactionHash: "0xtx", ContractAddress: "0xcontract", Chain: "polygon", CertificateID: "COA-ABCDEF123456"},
		OrderSummary{OrderNumber: "#1001", ProductName: "Watch"},
	)
	if err != nil {
		t.Fatalf("SendWelcomeEmail: %v", err)
	}
	msg := provider.sent[0]
	for _, want := range []string{"0xabc", "Token ID: 42", "COA-ABCDEF123456", "polygon"} {
		if !strings.Contains(msg.Text, want) {
			t.Fatalf("expected %q in text body:\n%s", want, msg.Text)
		}
	}
}

func TestSendTestEmailNamesProvider(t *testing.T) {
	t.Parallel()

	provider := &recordingProvider{}
	sender := newTestSender(t, provider)

	if err := sender.SendTestEmail(context.Background(), "ops@example.com"); err != nil {
		t.Fatalf("SendTestEmail: %v", err)
	}
	if got := provider.sent[0].Subject; got != "Test email from Certmint via recording" {
		t.Fatalf("unexpected subject %q", got)
	}
}

func TestSendWrapsProviderErrors(t *testing.T) {
	t.Parallel()

	provider := &recordingProvider{err: ErrDelivery}
	sender := newTestSender(t, provider)

	err := sender.SendTestEmail(context.Background(), "ops@example.com")
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}

	err = sender.SendTestEmail(context.Background(), " ")
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery for blank recipient, got %v", err)
	}
}

func TestNewProviderRejectsUnknown(t *testing.T) {
	t.Parallel()

	if _, err := NewProvider(Config{Provider: "postmark"}); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
	provider, err := NewProvider(Config{Provider: "resend", ResendAPIKey: "re_123", From: "a@b.com"})
	if err != nil {
		t.Fatalf("NewProvider(resend): %v", err)
	}
	if provider.Name() != "resend" {
		t.Fatalf("unexpected provider %q", provider.Name())
	}
}
