package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/certmint/certmint/internal/email"
	"github.com/certmint/certmint/internal/session"
)

const testAdminToken = "admin-token-0123456789abcdef"

type fakeTokenSource struct {
	token *email.AccessToken
	err   error
}

func (f *fakeTokenSource) AccessToken(context.Context) (*email.AccessToken, error) {
	return f.token, f.err
}

func newAdminHarness(t *testing.T, h *harness, deps AdminServiceDeps) *AdminService {
	t.Helper()
	manager := session.NewManager(session.NewMemoryStore(0), time.Hour)
	t.Cleanup(func() { _ = manager.Close() })

	deps.Sessions = manager
	deps.Logger = testLogger()
	if deps.Sender == nil {
		deps.Sender = h.sender
	}
	svc, err := NewAdminService(deps, AdminServiceConfig{
		AccessToken:      testAdminToken,
		DefaultRecipient: "orders@example.com",
	})
	if err != nil {
		t.Fatalf("NewAdminService() error = %v", err)
	}
	svc.now = h.clock.Now
	return svc
}

func TestAdminLoginAndAuthorize(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	svc := newAdminHarness(t, h, AdminServiceDeps{})
	ctx := context.Background()

	if _, err := svc.Login(ctx, "wrong", "10.0.0.1"); ErrorCode(err) != CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	sess, err := svc.Login(ctx, " "+testAdminToken+" ", "10.0.0.1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if sess.Token == "" || sess.Token == testAdminToken {
		t.Fatalf("expected a distinct session token")
	}

	tests := []struct {
		name    string
		bearer  string
		wantErr bool
	}{
		{name: "session token", bearer: sess.Token},
		{name: "static token", bearer: testAdminToken},
		{name: "empty", bearer: "", wantErr: true},
		{name: "garbage", bearer: "nope", wantErr: true},
	}
	for _, tt := range tests {
		err := svc.Authorize(ctx, tt.bearer)
		if tt.wantErr != (err != nil) {
			t.Fatalf("%s: Authorize() error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}

	svc.Logout(ctx, sess.Token)
	if err := svc.Authorize(ctx, sess.Token); err == nil {
		t.Fatalf("revoked session should not authorize")
	}
}

func TestAdminStatusCounts(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedClaim(t, "1001", "a@b.com")
	svc := newAdminHarness(t, h, AdminServiceDeps{
		Claims:       h.claims,
		Orders:       h.orders,
		Outbox:       h.outbox,
		ProviderName: "graph",
	})

	status := svc.Status(context.Background())
	if status.Status != "ok" || status.EmailProvider != "graph" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.Orders == nil || *status.Orders != 1 {
		t.Fatalf("orders = %v, want 1", status.Orders)
	}
	if status.Claims == nil || status.Claims.Pending != 1 {
		t.Fatalf("claims = %+v, want one pending", status.Claims)
	}
}

func TestAdminStatusDegradesOnCounterFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.orders.countErr = errors.New("db down")
	svc := newAdminHarness(t, h, AdminServiceDeps{Orders: h.orders, Claims: h.claims})

	status := svc.Status(context.Background())
	if status.Status != "degraded" {
		t.Fatalf("status = %q, want degraded", status.Status)
	}
	if len(status.Errors) != 1 || status.Errors[0] != "orders" {
		t.Fatalf("errors = %v", status.Errors)
	}
	if status.Claims == nil {
		t.Fatalf("claim counts should still be reported")
	}
}

func TestAdminGraphToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	unconfigured := newAdminHarness(t, h, AdminServiceDeps{})
	if _, err := unconfigured.GraphToken(context.Background()); ErrorCode(err) != CodeValidation {
		t.Fatalf("expected validation error without graph, got %v", err)
	}

	source := &fakeTokenSource{token: &email.AccessToken{
		Value:     "eyJ0eXAiOiJKV1QiLCJhbGciOiJSUzI1NiJ9.payload.signature",
		ExpiresAt: h.clock.Now().Add(50 * time.Minute),
		Cached:    true,
	}}
	svc := newAdminHarness(t, h, AdminServiceDeps{GraphTokens: source})
	info, err := svc.GraphToken(context.Background())
	if err != nil {
		t.Fatalf("GraphToken() error = %v", err)
	}
	if info.Preview != "eyJ0eXAiOiJK..." {
		t.Fatalf("preview = %q", info.Preview)
	}
	if strings.Contains(info.Preview, "signature") {
		t.Fatalf("preview leaks the token")
	}
	if info.ExpiresIn != "50m0s" || !info.Cached {
		t.Fatalf("unexpected token info: %+v", info)
	}

	source.token, source.err = nil, fmt.Errorf("%w: invalid_client", email.ErrAuth)
	if _, err := svc.GraphToken(context.Background()); ErrorCode(err) != CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAdminSendTestEmail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		to       string
		sendErr  error
		wantTo   string
		wantCode string
	}{
		{name: "explicit recipient", to: "ops@example.com", wantTo: "ops@example.com"},
		{name: "default recipient", to: " ", wantTo: "orders@example.com"},
		{name: "invalid recipient", to: "not-an-address", wantCode: CodeValidation},
		{name: "auth failure", to: "ops@example.com", sendErr: fmt.Errorf("%w: 401", email.ErrAuth), wantCode: CodeUnauthorized},
		{name: "delivery failure", to: "ops@example.com", sendErr: fmt.Errorf("%w: 500", email.ErrDelivery), wantCode: CodeDelivery},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			if tt.sendErr != nil {
				h.sender.fails = 1
				h.sender.err = tt.sendErr
			}
			svc := newAdminHarness(t, h, AdminServiceDeps{})

			got, err := svc.SendTestEmail(context.Background(), tt.to)
			if tt.wantCode != "" {
				if ErrorCode(err) != tt.wantCode {
					t.Fatalf("code = %q (err %v), want %q", ErrorCode(err), err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("SendTestEmail() error = %v", err)
			}
			if got != tt.wantTo || h.sender.sent[0].to != tt.wantTo {
				t.Fatalf("sent to %q, want %q", got, tt.wantTo)
			}
		})
	}
}

func TestAdminEnvironmentIsCopied(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	svc := newAdminHarness(t, h, AdminServiceDeps{Environment: map[string]any{"emailProvider": "graph"}})

	env := svc.Environment()
	env["emailProvider"] = "mutated"
	if svc.Environment()["emailProvider"] != "graph" {
		t.Fatalf("Environment() should return a copy")
	}
}

func TestAdminDispatchOutbox(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	queueClaimEmail(t, h)
	svc := newAdminHarness(t, h, AdminServiceDeps{Dispatcher: h.dispatch})

	stats, err := svc.DispatchOutbox(context.Background())
	if err != nil {
		t.Fatalf("DispatchOutbox() error = %v", err)
	}
	if stats.Sent != 1 {
		t.Fatalf("stats = %+v, want one sent", stats)
	}
}

func TestNewAdminServiceRequiresToken(t *testing.T) {
	t.Parallel()

	manager := session.NewManager(session.NewMemoryStore(0), time.Hour)
	if _, err := NewAdminService(AdminServiceDeps{Sessions: manager}, AdminServiceConfig{}); err == nil {
		t.Fatalf("expected error for missing admin token")
	}
}
