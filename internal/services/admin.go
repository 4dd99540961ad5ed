package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/certmint/certmint/internal/email"
	"github.com/certmint/certmint/internal/logging"
	"github.com/certmint/certmint/internal/models"
	"github.com/certmint/certmint/internal/session"
)

var (
	ErrAdminInvalidCredentials = errors.New("invalid admin credentials")
	ErrAdminGraphUnavailable   = errors.New("graph email provider is not configured")
)

type claimCounter interface {
	CountByStatus(ctx context.Context, now time.Time) (models.ClaimStatusCounts, error)
}

type orderCounter interface {
	Count(ctx context.Context) (int, error)
}

type outboxCounter interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type GraphTokenSource interface {
	AccessToken(ctx context.Context) (*email.AccessToken, error)
}

type outboxRunner interface {
	DispatchOnce(ctx context.Context) (DispatchStats, error)
}

type testEmailSender interface {
	SendTestEmail(ctx context.Context, to string) error
}

type AdminServiceDeps struct {
	Claims       claimCounter
	Orders       orderCounter
	Outbox       outboxCounter
	Sessions     *session.Manager
	Sender       testEmailSender
	GraphTokens  GraphTokenSource
	Dispatcher   outboxRunner
	ProviderName string
	Environment  map[string]any
	Logger       *slog.Logger
}

type AdminServiceConfig struct {
	AccessToken      string
	DefaultRecipient string
	ReadTimeout      time.Duration
}

// AdminService backs the operator endpoints: bearer login, status counters
// and email diagnostics.
type AdminService struct {
	deps      AdminServiceDeps
	config    AdminServiceConfig
	logger    *slog.Logger
	startedAt time.Time
	now       func() time.Time
}

func NewAdminService(deps AdminServiceDeps, config AdminServiceConfig) (*AdminService, error) {
	if strings.TrimSpace(config.AccessToken) == "" {
		return nil, fmt.Errorf("admin access token is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminService{
		deps:      deps,
		config:    config,
		logger:    logger.With("component", "admin_service"),
		startedAt: time.Now(),
		now:       time.Now,
	}, nil
}

type AdminSession struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Login exchanges the static admin token for a short-lived session token.
func (s *AdminService) Login(ctx context.Context, presented, remoteIP string) (*AdminSession, error) {
	if !s.matchesAccessToken(presented) {
		logging.FromContext(ctx, s.logger).Warn("admin login rejected", "remote_ip", remoteIP)
		return nil, &AuthError{Err: ErrAdminInvalidCredentials}
	}
	token, data, err := s.deps.Sessions.Create(ctx, "admin", remoteIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin session: %w", err)
	}
	logging.FromContext(ctx, s.logger).Info("admin session created", "remote_ip", remoteIP, "expires_at", data.ExpiresAt)
	return &AdminSession{Token: token, ExpiresAt: data.ExpiresAt}, nil
}

// Authorize accepts either the static admin token or a live session token.
func (s *AdminService) Authorize(ctx context.Context, bearer string) error {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return &AuthError{Err: ErrAdminInvalidCredentials}
	}
	if s.matchesAccessToken(bearer) {
		return nil
	}
	if _, err := s.deps.Sessions.Validate(ctx, bearer); err != nil {
		return &AuthError{Err: ErrAdminInvalidCredentials}
	}
	return nil
}

func (s *AdminService) Logout(ctx context.Context, token string) {
	s.deps.Sessions.Revoke(ctx, strings.TrimSpace(token))
}

func (s *AdminService) matchesAccessToken(presented string) bool {
	expected := []byte(s.config.AccessToken)
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), expected) == 1
}

type AdminStatus struct {
	Status        string                    `json:"status"`
	Uptime        string                    `json:"uptime"`
	Timestamp     time.Time                 `json:"timestamp"`
	EmailProvider string                    `json:"emailProvider"`
	Orders        *int                      `json:"orders,omitempty"`
	Claims        *models.ClaimStatusCounts `json:"claims,omitempty"`
	Outbox        map[string]int            `json:"outbox,omitempty"`
	Errors        []string                  `json:"errors,omitempty"`
}

// Status reports counters. Individual counter failures degrade the status
// instead of failing the whole request.
func (s *AdminService) Status(ctx context.Context) *AdminStatus {
	now := s.now()
	status := &AdminStatus{
		Status:        "ok",
		Uptime:        now.Sub(s.startedAt).Round(time.Second).String(),
		Timestamp:     now.UTC(),
		EmailProvider: s.deps.ProviderName,
	}
	fail := func(what string, err error) {
		status.Status = "degraded"
		status.Errors = append(status.Errors, what)
		logging.FromContext(ctx, s.logger).Warn("admin status counter failed", "counter", what, "error", err)
	}

	if s.deps.Orders != nil {
		var count int
		err := withRead(ctx, s.config.ReadTimeout, func(ctx context.Context) error {
			var err error
			count, err = s.deps.Orders.Count(ctx)
			return err
		})
		if err != nil {
			fail("orders", err)
		} else {
			status.Orders = &count
		}
	}
	if s.deps.Claims != nil {
		var counts models.ClaimStatusCounts
		err := withRead(ctx, s.config.ReadTimeout, func(ctx context.Context) error {
			var err error
			counts, err = s.deps.Claims.CountByStatus(ctx, now)
			return err
		})
		if err != nil {
			fail("claims", err)
		} else {
			status.Claims = &counts
		}
	}
	if s.deps.Outbox != nil {
		var counts map[string]int
		err := withRead(ctx, s.config.ReadTimeout, func(ctx context.Context) error {
			var err error
			counts, err = s.deps.Outbox.CountByStatus(ctx)
			return err
		})
		if err != nil {
			fail("outbox", err)
		} else {
			status.Outbox = counts
		}
	}
	return status
}

// Environment returns configuration presence flags. Secret values are never included.
func (s *AdminService) Environment() map[string]any {
	env := make(map[string]any, len(s.deps.Environment))
	for k, v := range s.deps.Environment {
		env[k] = v
	}
	return env
}

type GraphTokenInfo struct {
	Preview   string    `json:"tokenPreview"`
	ExpiresAt time.Time `json:"expiresAt"`
	ExpiresIn string    `json:"expiresIn"`
	Cached    bool      `json:"cached"`
}

// GraphToken runs (or reuses) the Graph token exchange and reports a preview.
func (s *AdminService) GraphToken(ctx context.Context) (*GraphTokenInfo, error) {
	if s.deps.GraphTokens == nil {
		return nil, &ValidationError{Message: ErrAdminGraphUnavailable.Error()}
	}
	token, err := s.deps.GraphTokens.AccessToken(ctx)
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	return &GraphTokenInfo{
		Preview:   tokenPreview(token.Value),
		ExpiresAt: token.ExpiresAt,
		ExpiresIn: token.ExpiresAt.Sub(s.now()).Round(time.Second).String(),
		Cached:    token.Cached,
	}, nil
}

// SendTestEmail sends synchronously so the operator sees provider errors.
// An empty recipient falls back to the configured sender mailbox.
func (s *AdminService) SendTestEmail(ctx context.Context, to string) (string, error) {
	if s.deps.Sender == nil {
		return "", &ValidationError{Message: "email sender is not configured"}
	}
	to = strings.TrimSpace(to)
	if to == "" {
		to = s.config.DefaultRecipient
	}
	if to == "" || !strings.Contains(to, "@") {
		return "", &ValidationError{Field: "to", Message: "must be an email address"}
	}
	if err := s.deps.Sender.SendTestEmail(ctx, to); err != nil {
		if errors.Is(err, email.ErrAuth) {
			return "", &AuthError{Err: err}
		}
		return "", &DeliveryError{Err: err}
	}
	logging.FromContext(ctx, s.logger).Info("test email sent", "provider", s.deps.ProviderName)
	return to, nil
}

func (s *AdminService) DispatchOutbox(ctx context.Context) (DispatchStats, error) {
	if s.deps.Dispatcher == nil {
		return DispatchStats{}, &ValidationError{Message: "outbox dispatcher is not configured"}
	}
	stats, err := s.deps.Dispatcher.DispatchOnce(ctx)
	if err != nil {
		return stats, upstream("dispatch outbox", err)
	}
	return stats, nil
}

func tokenPreview(token string) string {
	const visible = 12
	if len(token) <= visible {
		return strings.Repeat("*", len(token))
	}
	return token[:visible] + "..."
}
