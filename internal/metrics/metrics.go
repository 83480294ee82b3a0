// Package metrics provides Prometheus instrumentation for the market core.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ListingsActive tracks the number of cached listings.
	ListingsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gm_listings_active",
		Help: "Number of listings currently in the market",
	})

	// CondensedGroups tracks the number of visible condensed-view heads.
	CondensedGroups = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gm_condensed_groups",
		Help: "Number of visible condensed listing groups",
	})

	// MailPending tracks the number of unclaimed mail records.
	MailPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gm_mail_pending",
		Help: "Number of unclaimed mail records",
	})

	// QueueDepth tracks unconfirmed durable-write queue entries.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gm_queue_depth",
		Help: "Number of unconfirmed durable-write queue entries",
	})

	// PersistenceFailures counts backing-store statement failures by
	// statement description.
	PersistenceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gm_persistence_failures_total",
		Help: "Backing-store statement failures",
	}, []string{"op"})

	// ListingsCreated counts listing creations.
	ListingsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gm_listings_created_total",
		Help: "Total listings created",
	})

	// SalesTotal counts completed purchases.
	SalesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gm_sales_total",
		Help: "Total completed purchases",
	})

	// SearchesTotal counts search queries served.
	SearchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gm_searches_total",
		Help: "Total search queries served",
	})

	// WebSocketClients tracks connected notification clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gm_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gm_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gm_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small
		// enough that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
