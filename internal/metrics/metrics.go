// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts executed trades, partitioned by direction.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanunits_trades_total",
		Help: "Total number of trades executed",
	}, []string{"direction"})

	// TradeLatency tracks ledger execution latency by direction.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fanunits_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"direction"})

	// TradeRejections counts trades refused before any write, by reason.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanunits_trade_rejections_total",
		Help: "Trades rejected before execution",
	}, []string{"reason"})

	// TradeVolume tracks cumulative traded subtotal in demo credits.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanunits_trade_volume_credits_total",
		Help: "Cumulative traded subtotal in demo credits",
	}, []string{"direction"})

	// CatalogTicks counts committed catalog updates by kind.
	CatalogTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanunits_catalog_ticks_total",
		Help: "Committed catalog updates",
	}, []string{"kind"})

	// SnapshotConflicts counts catalog saves retried after a revision conflict.
	SnapshotConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanunits_snapshot_conflicts_total",
		Help: "Catalog snapshot saves that hit a revision conflict",
	})

	// Instruments tracks the number of listed instruments.
	Instruments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fanunits_instruments",
		Help: "Number of listed instruments",
	})

	// InstrumentPrice tracks the current price per instrument.
	InstrumentPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fanunits_instrument_price",
		Help: "Current instrument price in demo credits",
	}, []string{"symbol"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fanunits_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanunits_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fanunits_http_request_duration_seconds",
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

		// Use the route pattern for the path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
