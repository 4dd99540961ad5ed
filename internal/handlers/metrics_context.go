package handlers

import (
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go/attribute"

	"github.com/certmint/certmint/internal/observability"
	"github.com/certmint/certmint/internal/shopify"
)

// MetricsContext puts a Sentry meter tagged with the request's identity into
// the context so services can count events without knowing about HTTP.
func (h *Handlers) MetricsContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		meter := observability.NewRequestMeter(ctx, requestAttributes(w, r)...)
		next.ServeHTTP(w, r.WithContext(observability.ContextWithMeter(ctx, meter)))
	})
}

func requestAttributes(w http.ResponseWriter, r *http.Request) []attribute.Builder {
	attrs := []attribute.Builder{
		attribute.String("http.method", r.Method),
		attribute.String("network.client.ip", clientIP(r)),
	}
	optional := []struct {
		key   string
		value string
	}{
		{"http.request_id", w.Header().Get("X-Request-ID")},
		{"http.route", routeLabel(r)},
		{"http.user_agent", r.UserAgent()},
		{"shopify.shop", r.Header.Get(shopify.HeaderShop)},
		{"shopify.topic", r.Header.Get(shopify.HeaderTopic)},
	}
	for _, attr := range optional {
		if value := strings.TrimSpace(attr.value); value != "" {
			attrs = append(attrs, attribute.String(attr.key, value))
		}
	}
	return attrs
}
