// Package store defines the persistence interface for the prediction engine.
// Implementations include PostgreSQL (source of truth), SQLite (embedded,
// single-node), Redis (read-through cache) and in-memory (for testing).
//
// Every implementation enforces the same two invariants itself rather than
// leaving them to callers: at most one bet per (prediction, user), and a
// participant count that moves in the same atomic unit as the bet insert.
package store

import (
	"context"
	"time"

	"github.com/hitflop/prediction-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Users ---

	// EnsureUser inserts the user, or refreshes its public profile fields
	// if it already exists.
	EnsureUser(ctx context.Context, user *model.User) error

	// GetUser retrieves a user by ID. Returns model.ErrNotFound if absent.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// --- Predictions ---

	// CreatePrediction persists a new prediction.
	CreatePrediction(ctx context.Context, p *model.Prediction) error

	// GetPrediction retrieves a prediction by ID. Returns
	// model.ErrNotFound if absent.
	GetPrediction(ctx context.Context, id string) (*model.Prediction, error)

	// ListActivePredictions returns predictions with expiry after now,
	// newest first, windowed by offset and limit.
	ListActivePredictions(ctx context.Context, now time.Time, offset, limit int) ([]model.PredictionWithCreator, error)

	// --- Bets ---

	// PlaceBet inserts the bet and increments the prediction's participant
	// count as one atomic unit. Returns model.ErrAlreadyBet when the user
	// already has a bet on the prediction and model.ErrNotFound when the
	// prediction does not exist.
	PlaceBet(ctx context.Context, bet *model.Bet) error

	// GetUserBetSides returns the user's side for each of the given
	// predictions they have bet on, keyed by prediction ID.
	GetUserBetSides(ctx context.Context, userID string, predictionIDs []string) (map[string]model.Side, error)

	// ListRecentActivity returns the user's most recent bets, newest first.
	ListRecentActivity(ctx context.Context, userID string, limit int) ([]model.Activity, error)

	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error
}

// BetInsertHook runs inside the bet transaction after the bet row has been
// inserted and before the participant count is incremented. A non-nil
// error aborts the whole transaction.
type BetInsertHook func(ctx context.Context, bet *model.Bet) error
