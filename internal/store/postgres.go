package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hitflop/prediction-engine/internal/model"
)

// PostgreSQL error codes and constraint names the store translates.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	betsPredictionUserKey = "bets_prediction_user_key"
	betsPredictionFK      = "bets_prediction_fk"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool

	// AfterBetInsert, if set, runs inside the bet transaction between the
	// insert and the counter update.
	AfterBetInsert BetInsertHook
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) EnsureUser(ctx context.Context, u *model.User) error {
	role := u.Role
	if role == "" {
		role = model.RoleUser
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, username, avatar, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE
		 SET name = EXCLUDED.name, username = EXCLUDED.username,
		     avatar = EXCLUDED.avatar, updated_at = EXCLUDED.updated_at`,
		u.ID, u.Name, u.Username, u.Avatar, string(role), u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: ensure user %s: %w", u.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, username, avatar, role, created_at, updated_at
		 FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Username, &u.Avatar, &role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: get user %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get user %s: %w", id, err)
	}
	u.Role = model.Role(role)
	return &u, nil
}

func (s *PostgresStore) CreatePrediction(ctx context.Context, p *model.Prediction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO predictions (id, title, url, user_id, expiry, status, participant_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Title, p.URL, p.CreatorID, p.Expiry,
		string(p.Status), p.ParticipantCount, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create prediction %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	var p model.Prediction
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, url, user_id, expiry, status, participant_count, created_at, updated_at
		 FROM predictions WHERE id = $1`, id).
		Scan(&p.ID, &p.Title, &p.URL, &p.CreatorID, &p.Expiry,
			&status, &p.ParticipantCount, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: get prediction %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get prediction %s: %w", id, err)
	}
	p.Status = model.Status(status)
	return &p, nil
}

func (s *PostgresStore) ListActivePredictions(ctx context.Context, now time.Time, offset, limit int) ([]model.PredictionWithCreator, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.title, p.url, p.user_id, p.expiry, p.status,
		        p.participant_count, p.created_at, p.updated_at,
		        COALESCE(u.name, ''), COALESCE(u.username, ''), COALESCE(u.avatar, '')
		 FROM predictions p
		 LEFT JOIN users u ON u.id = p.user_id
		 WHERE p.expiry > $1
		 ORDER BY p.created_at DESC, p.id DESC
		 LIMIT $2 OFFSET $3`, now, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active predictions: %w", err)
	}
	defer rows.Close()

	result := []model.PredictionWithCreator{}
	for rows.Next() {
		var r model.PredictionWithCreator
		var status string
		if err := rows.Scan(&r.ID, &r.Title, &r.URL, &r.CreatorID, &r.Expiry, &status,
			&r.ParticipantCount, &r.CreatedAt, &r.UpdatedAt,
			&r.CreatorName, &r.CreatorUsername, &r.CreatorAvatar); err != nil {
			return nil, fmt.Errorf("postgres: scan prediction: %w", err)
		}
		r.Status = model.Status(status)
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active predictions rows: %w", err)
	}
	return result, nil
}

// PlaceBet runs the bet insert and the relative counter increment in one
// transaction. The unique constraint on (prediction_id, user_id) decides
// concurrent duplicates: the loser blocks on the index until the winner
// commits and then fails with 23505.
func (s *PostgresStore) PlaceBet(ctx context.Context, b *model.Bet) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin bet tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO bets (id, prediction_id, user_id, side, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.PredictionID, b.UserID, string(b.Side), b.CreatedAt,
	)
	if err != nil {
		return translateBetError(err, b)
	}

	if s.AfterBetInsert != nil {
		if err := s.AfterBetInsert(ctx, b); err != nil {
			return fmt.Errorf("postgres: place bet: %w", err)
		}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE predictions
		 SET participant_count = participant_count + 1, updated_at = $2
		 WHERE id = $1`,
		b.PredictionID, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: increment participants %s: %w", b.PredictionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: increment participants %s: %w", b.PredictionID, model.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit bet %s: %w", b.ID, err)
	}
	return nil
}

// translateBetError maps constraint violations on the bets table to domain
// errors.
func translateBetError(err error, b *model.Bet) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == betsPredictionUserKey:
			return model.ErrAlreadyBet
		case pgErr.Code == pgForeignKeyViolation && pgErr.ConstraintName == betsPredictionFK:
			return fmt.Errorf("postgres: prediction %s: %w", b.PredictionID, model.ErrNotFound)
		}
	}
	return fmt.Errorf("postgres: insert bet %s: %w", b.ID, err)
}

func (s *PostgresStore) GetUserBetSides(ctx context.Context, userID string, predictionIDs []string) (map[string]model.Side, error) {
	sides := make(map[string]model.Side, len(predictionIDs))
	if len(predictionIDs) == 0 {
		return sides, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT prediction_id, side FROM bets
		 WHERE user_id = $1 AND prediction_id = ANY($2)`, userID, predictionIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: get user bet sides: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var predictionID, side string
		if err := rows.Scan(&predictionID, &side); err != nil {
			return nil, fmt.Errorf("postgres: scan bet side: %w", err)
		}
		sides[predictionID] = model.Side(side)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get user bet sides rows: %w", err)
	}
	return sides, nil
}

func (s *PostgresStore) ListRecentActivity(ctx context.Context, userID string, limit int) ([]model.Activity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT b.id, b.side, COALESCE(p.title, ''), b.created_at
		 FROM bets b
		 LEFT JOIN predictions p ON p.id = b.prediction_id
		 WHERE b.user_id = $1
		 ORDER BY b.created_at DESC, b.id DESC
		 LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent activity: %w", err)
	}
	defer rows.Close()

	activities := []model.Activity{}
	for rows.Next() {
		var a model.Activity
		var side string
		if err := rows.Scan(&a.BetID, &side, &a.Title, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan activity: %w", err)
		}
		a.Side = model.Side(side)
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list recent activity rows: %w", err)
	}
	return activities, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
