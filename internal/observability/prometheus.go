package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exported on /metrics. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	webhooks     *prometheus.CounterVec
	claims       *prometheus.CounterVec
	mints        *prometheus.CounterVec
	mintDuration prometheus.Histogram
	outbox       *prometheus.CounterVec
	dbQueries    *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certmint",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "certmint",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certmint",
			Name:      "webhooks_total",
			Help:      "Shopify webhook deliveries by topic and outcome.",
		}, []string{"topic", "result"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certmint",
			Name:      "claims_total",
			Help:      "Claim lifecycle events.",
		}, []string{"event"}),
		mints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certmint",
			Name:      "mints_total",
			Help:      "Mint attempts by outcome.",
		}, []string{"result"}),
		mintDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "certmint",
			Name:      "mint_duration_seconds",
			Help:      "Time from mint submission to confirmed receipt.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}),
		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certmint",
			Name:      "outbox_messages_total",
			Help:      "Outbox deliveries by kind and outcome.",
		}, []string{"kind", "result"}),
		dbQueries: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "certmint",
			Name:      "db_query_duration_seconds",
			Help:      "Postgres statement latency by operation and outcome.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		}, []string{"operation", "result"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.webhooks,
		m.claims,
		m.mints,
		m.mintDuration,
		m.outbox,
		m.dbQueries,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func (m *Metrics) Webhook(topic, result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(topic, result).Inc()
}

func (m *Metrics) Claim(event string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(event).Inc()
}

func (m *Metrics) Mint(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.mints.WithLabelValues(result).Inc()
	if result == "success" {
		m.mintDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) Outbox(kind, result string) {
	if m == nil {
		return
	}
	m.outbox.WithLabelValues(kind, result).Inc()
}

// ObserveQuery records one database statement. It satisfies db.QueryObserver.
func (m *Metrics) ObserveQuery(operation string, elapsed time.Duration, failed bool) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "OTHER"
	}
	result := "ok"
	if failed {
		result = "error"
	}
	m.dbQueries.WithLabelValues(operation, result).Observe(elapsed.Seconds())
}
