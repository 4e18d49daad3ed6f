package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hitflop/prediction-engine/internal/metrics"
)

// Deps are the collaborators the router wires together.
type Deps struct {
	Predictions Predictions
	Ledger      Ledger
	// Authenticate guards every /api/v1 route.
	Authenticate func(http.Handler) http.Handler
	// Feed is optional; without it the live feed route is not mounted.
	Feed   *FeedHub
	Health Pinger
	Log    *zap.Logger
}

// Options tune the router.
type Options struct {
	RequestTimeout time.Duration
	CORSOrigins    []string
}

const defaultRequestTimeout = 30 * time.Second

// NewRouter builds the HTTP router.
func NewRouter(deps Deps, opts Options) chi.Router {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	h := &Handler{
		predictions: deps.Predictions,
		ledger:      deps.Ledger,
		health:      deps.Health,
		log:         deps.Log.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(deps.Log.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors(opts.CORSOrigins))

	r.Get("/health", h.Health)

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.Authenticate)

		// Long-lived, so outside the request timeout.
		if deps.Feed != nil {
			r.Get("/feed/ws", deps.Feed.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(opts.RequestTimeout))

			r.Post("/predictions", h.CreatePrediction)
			r.Get("/predictions", h.ListPredictions)
			r.Get("/predictions/{predictionID}", h.GetPrediction)
			r.Post("/predictions/{predictionID}/bet", h.PlaceBet)

			r.Get("/activities", h.RecentActivity)
		})
	})

	return r
}
