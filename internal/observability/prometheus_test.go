package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordAndExpose(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.ObserveHTTP("/api/claim/verify", "POST", 200, 15*time.Millisecond)
	m.Webhook("orders/create", "accepted")
	m.Claim("created")
	m.Claim("created")
	m.Mint("success", 3*time.Second)
	m.Outbox("claim_email", "sent")
	m.ObserveQuery("UPDATE", 4*time.Millisecond, false)
	m.ObserveQuery("", time.Millisecond, true)

	if got := testutil.ToFloat64(m.claims.WithLabelValues("created")); got != 2 {
		t.Fatalf("expected 2 created claims, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`certmint_http_requests_total{code="200",method="POST",route="/api/claim/verify"} 1`,
		`certmint_webhooks_total{result="accepted",topic="orders/create"} 1`,
		`certmint_outbox_messages_total{kind="claim_email",result="sent"} 1`,
		"certmint_mint_duration_seconds_count 1",
		`certmint_db_query_duration_seconds_count{operation="UPDATE",result="ok"} 1`,
		`certmint_db_query_duration_seconds_count{operation="OTHER",result="error"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveHTTP("/", "GET", 200, time.Millisecond)
	m.Webhook("orders/create", "accepted")
	m.Claim("created")
	m.Mint("failed", time.Second)
	m.Outbox("welcome_email", "failed")
	m.ObserveQuery("SELECT", time.Millisecond, false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("expected 404 from nil metrics handler, got %d", rec.Code)
	}
}
