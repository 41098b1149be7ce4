// Package telemetry provides application-level observability for the trust
// core: the global slog logger and the Prometheus metric set.
//
// Metrics are registered against the default Prometheus registry and served
// on a side-channel HTTP port started by main.go (default 9090, path
// /metrics) — not on the Gin router, which keeps the scrape path off the
// public ingress and out of the rate limiter.
//
// HTTP metrics are labelled by the Gin route template (c.FullPath()), never
// the raw URL, to prevent unbounded label cardinality from user-supplied path
// segments.
package telemetry

import (
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts requests by method, route template, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration is a latency histogram by method and route template.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	// AuthFailuresTotal counts failed authentications by failure kind
	// (missing_header, invalid_credentials, expired).
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_failures_total",
			Help: "Total number of failed authentication attempts, by failure kind.",
		},
		[]string{"kind"},
	)

	// SecurityEventsTotal counts recorded security-classified audit events.
	// The action label is bounded by the fixed action-key vocabulary.
	SecurityEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_events_total",
			Help: "Total number of security-classified audit events recorded, by action.",
		},
		[]string{"action"},
	)

	// RateLimitRejectionsTotal counts 429 responses by limiter name.
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter, by limiter name.",
		},
		[]string{"limiter"},
	)

	// AuditDeliveriesTotal counts sink delivery outcomes
	// (delivered, retried, dead).
	AuditDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_deliveries_total",
			Help: "Total number of audit sink delivery attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	// DetectionAlertsTotal counts emitted detection alerts by severity.
	DetectionAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_alerts_total",
			Help: "Total number of threshold detection alerts emitted, by severity.",
		},
		[]string{"severity"},
	)

	// DBConnectionsInUse gauges the connection pool, polled by StartDBPoolGauge.
	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Number of database connections currently in use.",
		},
	)
)

// StartDBPoolGauge polls the pool every interval until stopCh closes.
func StartDBPoolGauge(conn *sqlx.DB, interval time.Duration, stopCh <-chan struct{}) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				DBConnectionsInUse.Set(float64(conn.Stats().InUse))
			case <-stopCh:
				return
			}
		}
	}()
	slog.Debug("database pool gauge started", "interval", interval)
}
