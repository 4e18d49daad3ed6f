// Package metrics provides Prometheus instrumentation for the prediction
// engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PredictionsCreated counts predictions created, partitioned by
	// duration token.
	PredictionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hitflop_predictions_created_total",
		Help: "Total number of predictions created",
	}, []string{"duration"})

	// BetsPlaced counts accepted bets, partitioned by side.
	BetsPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hitflop_bets_placed_total",
		Help: "Total number of bets placed",
	}, []string{"side"})

	// BetConflicts counts bets rejected because the user had already bet.
	BetConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hitflop_bet_conflicts_total",
		Help: "Bets rejected by the one-bet-per-user constraint",
	})

	// BetLatency tracks bet placement latency, partitioned by outcome.
	BetLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hitflop_bet_latency_seconds",
		Help:    "Bet placement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	// FeedClients tracks connected live feed WebSocket clients.
	FeedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hitflop_feed_clients",
		Help: "Number of connected live feed clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hitflop_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hitflop_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
// The path label is the chi route pattern, so prediction ids never become
// label values.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		duration := time.Since(start).Seconds()

		path := RoutePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(Status(ww))).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RoutePattern returns the matched chi route pattern, or "unmatched".
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// Status returns the status code written through ww, defaulting to 200
// when the handler never called WriteHeader.
func Status(ww middleware.WrapResponseWriter) int {
	if ww.Status() == 0 {
		return http.StatusOK
	}
	return ww.Status()
}
