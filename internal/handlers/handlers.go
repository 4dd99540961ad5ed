package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/certmint/certmint/internal/certificate"
	"github.com/certmint/certmint/internal/config"
	"github.com/certmint/certmint/internal/logging"
	"github.com/certmint/certmint/internal/models"
	"github.com/certmint/certmint/internal/observability"
	"github.com/certmint/certmint/internal/services"
)

const maxJSONBodyBytes = 64 << 10

var errEmptyBody error = &services.ValidationError{Message: "request body is required"}

type HealthChecker interface {
	Ping(ctx context.Context) error
}

type IntakeService interface {
	HandleOrderWebhook(ctx context.Context, input services.WebhookInput) (*services.IntakeResult, error)
}

type ClaimService interface {
	VerifyClaim(ctx context.Context, email, token string) (*models.Claim, error)
	OrderForClaim(ctx context.Context, claim *models.Claim) *models.Order
	GetClaimStatus(ctx context.Context, token string) (*services.ClaimStatusView, error)
}

type MintService interface {
	ProcessClaim(ctx context.Context, email, token string) (*services.MintResult, error)
}

type CertificateService interface {
	Generate(ctx context.Context, fields certificate.Fields) (*services.CertificateResult, error)
}

type AdminService interface {
	Login(ctx context.Context, presented, remoteIP string) (*services.AdminSession, error)
	Authorize(ctx context.Context, bearer string) error
	Logout(ctx context.Context, token string)
	Status(ctx context.Context) *services.AdminStatus
	Environment() map[string]any
	GraphToken(ctx context.Context) (*services.GraphTokenInfo, error)
	SendTestEmail(ctx context.Context, to string) (string, error)
	DispatchOutbox(ctx context.Context) (services.DispatchStats, error)
}

// Handlers provides the HTTP API for webhooks, the claim portal and operators.
type Handlers struct {
	config       *config.Config
	health       HealthChecker
	intake       IntakeService
	claims       ClaimService
	mint         MintService
	certificates CertificateService
	admin        AdminService
	metrics      *observability.Metrics
	limiter      *ipRateLimiter
	proxies      trustedProxies
	logger       *slog.Logger
}

type Dependencies struct {
	Config       *config.Config
	Health       HealthChecker
	Intake       IntakeService
	Claims       ClaimService
	Mint         MintService
	Certificates CertificateService
	Admin        AdminService
	Metrics      *observability.Metrics
	Logger       *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("handlers dependencies: config is required")
	}
	if deps.Health == nil {
		return nil, fmt.Errorf("handlers dependencies: health checker is required")
	}
	if deps.Intake == nil {
		return nil, fmt.Errorf("handlers dependencies: intake service is required")
	}
	if deps.Claims == nil {
		return nil, fmt.Errorf("handlers dependencies: claim service is required")
	}
	if deps.Mint == nil {
		return nil, fmt.Errorf("handlers dependencies: mint service is required")
	}
	if deps.Certificates == nil {
		return nil, fmt.Errorf("handlers dependencies: certificate service is required")
	}
	if deps.Admin == nil {
		return nil, fmt.Errorf("handlers dependencies: admin service is required")
	}

	proxies, err := parseTrustedProxies(deps.Config.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("handlers dependencies: %w", err)
	}

	return &Handlers{
		config:       deps.Config,
		health:       deps.Health,
		intake:       deps.Intake,
		claims:       deps.Claims,
		mint:         deps.Mint,
		certificates: deps.Certificates,
		admin:        deps.Admin,
		metrics:      deps.Metrics,
		limiter:      newIPRateLimiter(deps.Config.ClaimRateLimitPerMinute, rateLimiterEntries),
		proxies:      proxies,
		logger:       logger.With("component", "handlers"),
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := h.health.Ping(pingCtx); err != nil {
		logger.Error("database health check failed", "error", err)
		h.writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
			"status":   "unhealthy",
			"database": "unreachable",
		})
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status":   "healthy",
		"database": "ok",
	})
}

func (h *Handlers) Metrics() http.Handler {
	return h.metrics.Handler()
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.loggerFromContext(r.Context()).Error("failed to encode response", "error", err)
	}
}

// decodeJSON reads a bounded JSON body into dst. Unknown fields are ignored
// so older portal builds keep working.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return &services.ValidationError{Message: "request body too large"}
		}
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return &services.ValidationError{Message: "invalid JSON body"}
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
