package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/certmint/certmint/internal/services"
	"github.com/certmint/certmint/internal/shopify"
)

func signBody(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestShopifyWebhook(t *testing.T) {
	t.Parallel()

	const body = `{"id":1001,"email":"a@b.com"}`

	tests := []struct {
		name       string
		secret     string
		signature  string
		result     *services.IntakeResult
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "accepted unsigned when no secret configured",
			result:     &services.IntakeResult{OrderID: "1001", NFTEligible: true},
			wantStatus: http.StatusOK,
		},
		{
			name:       "accepted with valid signature",
			secret:     "shpss",
			signature:  signBody(body, "shpss"),
			result:     &services.IntakeResult{OrderID: "1001"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "bad signature",
			secret:     "shpss",
			signature:  signBody(body, "other"),
			wantStatus: http.StatusUnauthorized,
			wantCode:   services.CodeUnauthorized,
		},
		{
			name:       "validation failure",
			serviceErr: &services.ValidationError{Field: "email", Message: "customer email is required"},
			wantStatus: http.StatusBadRequest,
			wantCode:   services.CodeValidation,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			deps := newTestDeps()
			deps.config.ShopifyWebhookSecret = tt.secret
			deps.intake.result = tt.result
			deps.intake.err = tt.serviceErr
			h := deps.handlers(t)

			req := httptest.NewRequest(http.MethodPost, "/webhook/shopify", strings.NewReader(body))
			req.Header.Set(shopify.HeaderTopic, "orders/paid")
			req.Header.Set(shopify.HeaderWebhookID, "delivery-1")
			if tt.signature != "" {
				req.Header.Set(shopify.HeaderHMAC, tt.signature)
			}
			rec := httptest.NewRecorder()

			h.ShopifyWebhook(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantCode != "" {
				var resp errorResponse
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatalf("decode error body: %v", err)
				}
				if resp.Code != tt.wantCode {
					t.Fatalf("code = %q, want %q", resp.Code, tt.wantCode)
				}
				return
			}

			var resp webhookResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if !resp.Received || resp.OrderID != tt.result.OrderID || resp.NFTEligible != tt.result.NFTEligible {
				t.Fatalf("unexpected response: %+v", resp)
			}
			if deps.intake.input.Topic != "orders/paid" || deps.intake.input.DeliveryID != "delivery-1" {
				t.Fatalf("headers not forwarded: %+v", deps.intake.input)
			}
		})
	}
}
