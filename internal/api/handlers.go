// Package api exposes the prediction registry and the bet ledger over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hitflop/prediction-engine/internal/auth"
	"github.com/hitflop/prediction-engine/internal/model"
	"github.com/hitflop/prediction-engine/internal/prediction"
)

const maxBodyBytes = 1 << 20

// Predictions is the registry as the handlers use it.
type Predictions interface {
	CreatePrediction(ctx context.Context, caller model.Identity, req prediction.CreateRequest) (*model.PredictionView, error)
	ListPredictions(ctx context.Context, caller model.Identity, page, limit int) (*model.PredictionPage, error)
	GetPrediction(ctx context.Context, caller model.Identity, id string) (*model.PredictionView, error)
}

// Ledger is the bet ledger as the handlers use it.
type Ledger interface {
	PlaceBet(ctx context.Context, caller model.Identity, predictionID string, side model.Side) (*model.Bet, error)
	RecentActivity(ctx context.Context, caller model.Identity) ([]model.Activity, error)
}

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the HTTP handlers.
type Handler struct {
	predictions Predictions
	ledger      Ledger
	health      Pinger
	log         *zap.Logger
}

// BetRequest is the JSON body for placing a bet.
type BetRequest struct {
	Side model.Side `json:"side"`
}

// CreatePrediction handles POST /api/v1/predictions
func (h *Handler) CreatePrediction(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req prediction.CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	view, err := h.predictions.CreatePrediction(r.Context(), caller, req)
	if err != nil {
		writeServiceError(w, r, h.log, err, "failed to create prediction, try again")
		return
	}
	writeJSON(w, http.StatusCreated, view, "Prediction created successfully")
}

// ListPredictions handles GET /api/v1/predictions?page=&limit=
func (h *Handler) ListPredictions(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	page := intParam(q.Get("page"), prediction.DefaultPage)
	limit := intParam(q.Get("limit"), prediction.DefaultLimit)

	result, err := h.predictions.ListPredictions(r.Context(), caller, page, limit)
	if err != nil {
		writeServiceError(w, r, h.log, err, "failed to fetch predictions, try again")
		return
	}
	writeJSON(w, http.StatusOK, result, "Predictions fetched successfully")
}

// GetPrediction handles GET /api/v1/predictions/{predictionID}
func (h *Handler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	view, err := h.predictions.GetPrediction(r.Context(), caller, chi.URLParam(r, "predictionID"))
	if err != nil {
		writeServiceError(w, r, h.log, err, "failed to fetch prediction, try again")
		return
	}
	writeJSON(w, http.StatusOK, view, "Prediction fetched successfully")
}

// PlaceBet handles POST /api/v1/predictions/{predictionID}/bet
func (h *Handler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req BetRequest
	if !decodeBody(w, r, &req) {
		return
	}

	bet, err := h.ledger.PlaceBet(r.Context(), caller, chi.URLParam(r, "predictionID"), req.Side)
	if err != nil {
		writeServiceError(w, r, h.log, err, "failed to place bet, try again")
		return
	}
	writeJSON(w, http.StatusCreated, bet, "Bet placed successfully")
}

// RecentActivity handles GET /api/v1/activities
func (h *Handler) RecentActivity(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	activities, err := h.ledger.RecentActivity(r.Context(), caller)
	if err != nil {
		writeServiceError(w, r, h.log, err, "failed to fetch activities, try again")
		return
	}
	writeJSON(w, http.StatusOK, activities, "Activities fetched successfully")
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable","service":"prediction-engine"}`))
			return
		}
	}
	w.Write([]byte(`{"status":"ok","service":"prediction-engine"}`))
}

func callerFrom(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, "authentication required", http.StatusUnauthorized)
	}
	return caller, ok
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// intParam parses a query value, returning def when it is absent and 0 when
// it is not an integer so that validation rejects it.
func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
