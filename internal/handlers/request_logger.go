package handlers

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/certmint/certmint/internal/logging"
)

const maxRequestIDLen = 64

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *responseRecorder) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *responseRecorder) statusCode() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// RequestLogger tags each request with an id and a scoped logger, turns
// handler panics into 500s, and records the outcome in Prometheus and Sentry.
func (h *Handlers) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := routeLabel(r)
		if route == "" {
			route = "unknown"
		}

		requestID := requestIDFromRequest(r)
		w.Header().Set("X-Request-ID", requestID)

		logger := h.logger.With(
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"remote_ip", clientIP(r),
		)
		ctx := logging.WithLogger(r.Context(), logger)
		r = r.WithContext(ctx)

		recorder := &responseRecorder{ResponseWriter: w}
		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}
				hub := sentry.GetHubFromContext(ctx)
				if hub == nil {
					hub = sentry.CurrentHub()
				}
				hub.RecoverWithContext(ctx, recovered)
				logger.Error("handler panicked", "panic", fmt.Sprint(recovered))
				if recorder.status == 0 {
					h.writeJSON(recorder, r, http.StatusInternalServerError, errorResponse{Error: "internal server error", Code: codeInternal})
				}
			}

			status := recorder.statusCode()
			elapsed := time.Since(start)
			h.recordRequest(ctx, route, r.Method, status, elapsed)

			attrs := []any{"status", status, "duration_ms", elapsed.Milliseconds(), "bytes", recorder.bytes}
			if route == "health" || route == "metrics" {
				logger.Debug("probe request completed", attrs...)
				return
			}
			logger.Info("request completed", attrs...)
		}()

		next.ServeHTTP(recorder, r)
	})
}

func (h *Handlers) recordRequest(ctx context.Context, route, method string, status int, elapsed time.Duration) {
	h.metrics.ObserveHTTP(route, method, status, elapsed)

	attrs := []attribute.Builder{
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	}
	meter := sentry.NewMeter(ctx).WithCtx(ctx)
	meter.Count("http.server.requests", 1, sentry.WithAttributes(attrs...))
	meter.Distribution("http.server.duration", float64(elapsed.Milliseconds()),
		sentry.WithUnit(sentry.UnitMillisecond),
		sentry.WithAttributes(
			attribute.String("http.route", route),
			attribute.String("http.status_class", fmt.Sprintf("%dxx", status/100)),
		),
	)
	if status >= http.StatusInternalServerError {
		meter.Count("http.server.errors", 1, sentry.WithAttributes(attrs...))
	}
}

// requestIDFromRequest honours a caller supplied id when it is short and
// printable, otherwise it mints one.
func requestIDFromRequest(r *http.Request) string {
	if r == nil {
		return uuid.NewString()
	}
	requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if requestID == "" || len(requestID) > maxRequestIDLen {
		return uuid.NewString()
	}
	for _, c := range requestID {
		if c < 0x21 || c > 0x7e {
			return uuid.NewString()
		}
	}
	return requestID
}

// clientIP reports the first X-Forwarded-For hop for logs and traces. The
// header is caller controlled; anything that enforces limits uses
// trustedProxies.clientAddr instead.
func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-Ip")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func routeLabel(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	if name := route.GetName(); name != "" {
		return name
	}
	template, _ := route.GetPathTemplate()
	return template
}
