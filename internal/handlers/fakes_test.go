package handlers

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/certmint/certmint/internal/certificate"
	"github.com/certmint/certmint/internal/config"
	"github.com/certmint/certmint/internal/models"
	"github.com/certmint/certmint/internal/services"
)

type fakeHealth struct{ err error }

func (f *fakeHealth) Ping(context.Context) error { return f.err }

type fakeIntake struct {
	input  services.WebhookInput
	result *services.IntakeResult
	err    error
}

func (f *fakeIntake) HandleOrderWebhook(_ context.Context, input services.WebhookInput) (*services.IntakeResult, error) {
	f.input = input
	return f.result, f.err
}

type fakeClaims struct {
	claim     *models.Claim
	order     *models.Order
	status    *services.ClaimStatusView
	err       error
	gotEmail  string
	gotToken  string
	statusTok string
}

func (f *fakeClaims) VerifyClaim(_ context.Context, email, token string) (*models.Claim, error) {
	f.gotEmail, f.gotToken = email, token
	return f.claim, f.err
}

func (f *fakeClaims) OrderForClaim(context.Context, *models.Claim) *models.Order {
	return f.order
}

func (f *fakeClaims) GetClaimStatus(_ context.Context, token string) (*services.ClaimStatusView, error) {
	f.statusTok = token
	return f.status, f.err
}

type fakeMint struct {
	result *services.MintResult
	err    error
}

func (f *fakeMint) ProcessClaim(context.Context, string, string) (*services.MintResult, error) {
	return f.result, f.err
}

type fakeCertificates struct {
	fields certificate.Fields
}

func (f *fakeCertificates) Generate(_ context.Context, fields certificate.Fields) (*services.CertificateResult, error) {
	f.fields = fields
	if strings.TrimSpace(fields.ProductName) == "" {
		return nil, &services.ValidationError{Field: "productName", Message: "is missing or too long"}
	}
	return &services.CertificateResult{CertificateURL: "https://cdn.example.com/coa.png", CertificateID: "COA-1"}, nil
}

type fakeAdmin struct {
	token      string
	graph      *services.GraphTokenInfo
	graphErr   error
	sendErr    error
	sentTo     string
	loggedOut  string
	dispatched bool
}

func (f *fakeAdmin) Login(_ context.Context, presented, _ string) (*services.AdminSession, error) {
	if presented != f.token {
		return nil, &services.AuthError{Err: services.ErrAdminInvalidCredentials}
	}
	return &services.AdminSession{Token: "session-token"}, nil
}

func (f *fakeAdmin) Authorize(_ context.Context, bearer string) error {
	if bearer == f.token || bearer == "session-token" {
		return nil
	}
	return &services.AuthError{Err: services.ErrAdminInvalidCredentials}
}

func (f *fakeAdmin) Logout(_ context.Context, token string) { f.loggedOut = token }

func (f *fakeAdmin) Status(context.Context) *services.AdminStatus {
	return &services.AdminStatus{Status: "ok", EmailProvider: "graph"}
}

func (f *fakeAdmin) Environment() map[string]any {
	return map[string]any{"emailProvider": "graph", "hasMintApiKey": true}
}

func (f *fakeAdmin) GraphToken(context.Context) (*services.GraphTokenInfo, error) {
	return f.graph, f.graphErr
}

func (f *fakeAdmin) SendTestEmail(_ context.Context, to string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	if to == "" {
		to = "orders@example.com"
	}
	f.sentTo = to
	return to, nil
}

func (f *fakeAdmin) DispatchOutbox(context.Context) (services.DispatchStats, error) {
	f.dispatched = true
	return services.DispatchStats{Claimed: 1, Sent: 1}, nil
}

type testDeps struct {
	config       *config.Config
	health       *fakeHealth
	intake       *fakeIntake
	claims       *fakeClaims
	mint         *fakeMint
	certificates *fakeCertificates
	admin        *fakeAdmin
}

func newTestDeps() *testDeps {
	return &testDeps{
		config: &config.Config{
			AppEnv:                  config.EnvDevelopment,
			ClaimRateLimitPerMinute: 100,
			AllowedOrigins:          []string{"https://shop.example.com"},
		},
		health:       &fakeHealth{},
		intake:       &fakeIntake{},
		claims:       &fakeClaims{},
		mint:         &fakeMint{},
		certificates: &fakeCertificates{},
		admin:        &fakeAdmin{token: "admin-token-0123456789"},
	}
}

func (d *testDeps) handlers(t *testing.T) *Handlers {
	t.Helper()
	h, err := New(Dependencies{
		Config:       d.config,
		Health:       d.health,
		Intake:       d.intake,
		Claims:       d.claims,
		Mint:         d.mint,
		Certificates: d.certificates,
		Admin:        d.admin,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h
}
