package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Sender composes templated messages and hands them to a Provider.
type Sender struct {
	provider  Provider
	renderer  *Renderer
	brandName string
	portalURL string
	logger    *slog.Logger
	now       func() time.Time
}

func NewSender(provider Provider, brandName, portalURL string, logger *slog.Logger) (*Sender, error) {
	if provider == nil {
		return nil, fmt.Errorf("email provider is required")
	}
	renderer, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		provider:  provider,
		renderer:  renderer,
		brandName: brandName,
		portalURL: strings.TrimRight(portalURL, "/"),
		logger:    logger.With("component", "email_sender", "provider", provider.Name()),
		now:       time.Now,
	}, nil
}

func (s *Sender) Provider() Provider {
	return s.provider
}

// ClaimURL is the link customers follow to redeem a claim token.
func (s *Sender) ClaimURL(token string) string {
	return s.portalURL + "/claim?token=" + url.QueryEscape(token)
}

func (s *Sender) SendClaimEmail(ctx context.Context, to, token string, expiresAt time.Time, order OrderSummary) error {
	msg, err := s.renderer.RenderClaim(to, ClaimEmailData{
		BrandName: s.brandName,
		ClaimURL:  s.ClaimURL(token),
		ExpiresAt: expiresAt,
		Order:     order,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, "claim", msg)
}

func (s *Sender) SendWelcomeEmail(ctx context.Context, to string, wallet WalletSummary, mint MintSummary, order OrderSummary) error {
	msg, err := s.renderer.RenderWelcome(to, WelcomeEmailData{
		BrandName: s.brandName,
		PortalURL: s.portalURL,
		Wallet:    wallet,
		Mint:      mint,
		Order:     order,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, "welcome", msg)
}

func (s *Sender) SendTestEmail(ctx context.Context, to string) error {
	msg, err := s.renderer.RenderTest(to, TestEmailData{
		BrandName: s.brandName,
		Provider:  s.provider.Name(),
		SentAt:    s.now(),
	})
	if err != nil {
		return err
	}
	return s.send(ctx, "test", msg)
}

func (s *Sender) send(ctx context.Context, kind string, msg *Email) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("%w: recipient is required", ErrDelivery)
	}
	msg.Kind = kind
	if err := s.provider.SendEmail(ctx, msg); err != nil {
		return fmt.Errorf("failed to send %s email: %w", kind, err)
	}
	s.logger.Info("email sent", "kind", kind)
	return nil
}
