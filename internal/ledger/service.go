// Package ledger is the bet ledger: it records each user's single bet on a
// prediction and serves their recent betting activity.
//
// The one-bet-per-user rule and the participant counter are enforced by the
// store in a single atomic unit; this package never reads before writing to
// decide whether a bet is a duplicate.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hitflop/prediction-engine/internal/metrics"
	"github.com/hitflop/prediction-engine/internal/model"
)

// RecentActivityLimit caps the activity feed.
const RecentActivityLimit = 9

// Store is the persistence the ledger needs.
type Store interface {
	GetPrediction(ctx context.Context, id string) (*model.Prediction, error)
	PlaceBet(ctx context.Context, bet *model.Bet) error
	ListRecentActivity(ctx context.Context, userID string, limit int) ([]model.Activity, error)
}

// Service implements the ledger operations.
type Service struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a ledger over st.
func NewService(st Store, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store: st,
		log:   log.Named("ledger"),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceBet records caller's bet on a prediction. A user moves from unbet to
// bet exactly once per prediction; every later attempt, concurrent or not,
// fails with model.ErrAlreadyBet and changes nothing.
func (s *Service) PlaceBet(ctx context.Context, caller model.Identity, predictionID string, side model.Side) (*model.Bet, error) {
	start := time.Now()
	bet, outcome, err := s.placeBet(ctx, caller, predictionID, side)
	metrics.BetLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return bet, err
}

func (s *Service) placeBet(ctx context.Context, caller model.Identity, predictionID string, side model.Side) (*model.Bet, string, error) {
	predictionID = strings.TrimSpace(predictionID)

	var problems []string
	if predictionID == "" {
		problems = append(problems, "prediction id is required")
	}
	if !side.Valid() {
		problems = append(problems, `side must be "in" or "out"`)
	}
	if err := model.Validation(problems); err != nil {
		return nil, "invalid", err
	}

	if _, err := s.store.GetPrediction(ctx, predictionID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, "not_found", err
		}
		s.log.Error("prediction lookup failed",
			zap.String("prediction_id", predictionID),
			zap.Error(err),
		)
		return nil, "error", fmt.Errorf("place bet: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, "error", fmt.Errorf("generate bet id: %w", err)
	}
	bet := &model.Bet{
		ID:           id.String(),
		PredictionID: predictionID,
		UserID:       caller.ID,
		Side:         side,
		CreatedAt:    s.now().UTC().Truncate(time.Millisecond),
	}

	if err := s.store.PlaceBet(ctx, bet); err != nil {
		switch {
		case errors.Is(err, model.ErrAlreadyBet):
			metrics.BetConflicts.Inc()
			s.log.Info("duplicate bet rejected",
				zap.String("prediction_id", predictionID),
				zap.String("user_id", caller.ID),
			)
			return nil, "conflict", model.ErrAlreadyBet
		case errors.Is(err, model.ErrNotFound):
			return nil, "not_found", err
		default:
			s.log.Error("place bet failed",
				zap.String("prediction_id", predictionID),
				zap.String("user_id", caller.ID),
				zap.Error(err),
			)
			return nil, "error", fmt.Errorf("place bet: %w", err)
		}
	}

	metrics.BetsPlaced.WithLabelValues(string(side)).Inc()
	s.log.Info("bet placed",
		zap.String("bet_id", bet.ID),
		zap.String("prediction_id", predictionID),
		zap.String("user_id", caller.ID),
		zap.String("side", string(side)),
	)
	return bet, "placed", nil
}

// RecentActivity returns caller's latest bets, newest first.
func (s *Service) RecentActivity(ctx context.Context, caller model.Identity) ([]model.Activity, error) {
	activities, err := s.store.ListRecentActivity(ctx, caller.ID, RecentActivityLimit)
	if err != nil {
		s.log.Error("list recent activity failed", zap.String("user_id", caller.ID), zap.Error(err))
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	return activities, nil
}
