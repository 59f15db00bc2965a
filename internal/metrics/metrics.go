// Package metrics provides Prometheus instrumentation for the tick engine.
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
	// TicksTotal counts tick attempts by outcome (committed, failed, busy).
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tick_runs_total",
		Help: "Total tick attempts by outcome",
	}, []string{"outcome"})

	// TickDuration tracks the wall-clock time of a full tick.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tick_duration_seconds",
		Help:    "Tick duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// StepDuration tracks each tick step separately.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tick_step_duration_seconds",
		Help:    "Tick step duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"step"})

	// LastTickNumber is the number of the most recently committed tick.
	LastTickNumber = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tick_last_number",
		Help: "Number of the last committed tick",
	})

	// BotPurchases counts simulated marketplace purchases.
	BotPurchases = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tick_bot_purchases_total",
		Help: "Bot purchases made",
	})

	// BotSpend counts cents spent by bot buyers.
	BotSpend = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tick_bot_spend_cents_total",
		Help: "Cents spent by bot buyers",
	})

	// PriceUpdates counts repriced assets by kind.
	PriceUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tick_price_updates_total",
		Help: "Asset price updates by kind",
	}, []string{"kind"})

	// VolatilityClusters counts moves that triggered a volatility boost.
	VolatilityClusters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tick_volatility_clusters_total",
		Help: "Price moves that raised volatility, by kind",
	}, []string{"kind"})

	// InterestAccrued counts cents of loan interest charged.
	InterestAccrued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tick_interest_accrued_cents_total",
		Help: "Loan interest charged in cents",
	})

	// NetWorthWrites counts players whose cached net worth changed.
	NetWorthWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tick_net_worth_writes_total",
		Help: "Player net worth updates written",
	})

	// CASRetries counts optimistic concurrency conflicts that were retried.
	CASRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tick_cas_conflicts_total",
		Help: "Version conflicts seen by the tick engine, by document kind",
	}, []string{"kind"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tick_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tick_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tick_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveStep records how long a tick step took.
func ObserveStep(step string, start time.Time) {
	StepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
}

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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
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
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
