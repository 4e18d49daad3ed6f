package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hitflop/prediction-engine/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    username    TEXT NOT NULL,
    avatar      TEXT NOT NULL DEFAULT '',
    role        TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS predictions (
    id                 TEXT PRIMARY KEY,
    title              TEXT NOT NULL,
    url                TEXT NOT NULL,
    user_id            TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    expiry             INTEGER NOT NULL,
    status             TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'closed')),
    participant_count  INTEGER NOT NULL DEFAULT 0 CHECK (participant_count >= 0),
    created_at         INTEGER NOT NULL,
    updated_at         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS predictions_expiry_created_idx ON predictions (expiry, created_at);

CREATE TABLE IF NOT EXISTS bets (
    id             TEXT PRIMARY KEY,
    prediction_id  TEXT NOT NULL REFERENCES predictions (id) ON DELETE CASCADE,
    user_id        TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    side           TEXT NOT NULL CHECK (side IN ('in', 'out')),
    created_at     INTEGER NOT NULL,
    UNIQUE (prediction_id, user_id)
);

CREATE INDEX IF NOT EXISTS bets_user_created_idx ON bets (user_id, created_at);
`

// SQLiteStore implements Store on an embedded SQLite database. Timestamps
// are stored as unix milliseconds. The pool is capped at one connection, so
// SQLite's own locking never surfaces as SQLITE_BUSY under concurrent
// requests.
type SQLiteStore struct {
	db *sql.DB

	// AfterBetInsert, if set, runs inside the bet transaction between the
	// insert and the counter update.
	AfterBetInsert BetInsertHook
}

// NewSQLiteStore opens (creating if needed) the database at path and
// applies the schema. Foreign keys are switched on for every connection.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func (s *SQLiteStore) EnsureUser(ctx context.Context, u *model.User) error {
	role := u.Role
	if role == "" {
		role = model.RoleUser
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, username, avatar, role, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE
		 SET name = excluded.name, username = excluded.username,
		     avatar = excluded.avatar, updated_at = excluded.updated_at`,
		u.ID, u.Name, u.Username, u.Avatar, string(role),
		toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: ensure user %s: %w", u.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var role string
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, username, avatar, role, created_at, updated_at
		 FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Username, &u.Avatar, &role, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: get user %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get user %s: %w", id, err)
	}
	u.Role = model.Role(role)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

func (s *SQLiteStore) CreatePrediction(ctx context.Context, p *model.Prediction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO predictions (id, title, url, user_id, expiry, status, participant_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.URL, p.CreatorID, toMillis(p.Expiry),
		string(p.Status), p.ParticipantCount, toMillis(p.CreatedAt), toMillis(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create prediction %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	var p model.Prediction
	var status string
	var expiry, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, url, user_id, expiry, status, participant_count, created_at, updated_at
		 FROM predictions WHERE id = ?`, id).
		Scan(&p.ID, &p.Title, &p.URL, &p.CreatorID, &expiry,
			&status, &p.ParticipantCount, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: get prediction %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get prediction %s: %w", id, err)
	}
	p.Status = model.Status(status)
	p.Expiry = fromMillis(expiry)
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

func (s *SQLiteStore) ListActivePredictions(ctx context.Context, now time.Time, offset, limit int) ([]model.PredictionWithCreator, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.title, p.url, p.user_id, p.expiry, p.status,
		        p.participant_count, p.created_at, p.updated_at,
		        COALESCE(u.name, ''), COALESCE(u.username, ''), COALESCE(u.avatar, '')
		 FROM predictions p
		 LEFT JOIN users u ON u.id = p.user_id
		 WHERE p.expiry > ?
		 ORDER BY p.created_at DESC, p.id DESC
		 LIMIT ? OFFSET ?`, toMillis(now), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list active predictions: %w", err)
	}
	defer rows.Close()

	result := []model.PredictionWithCreator{}
	for rows.Next() {
		var r model.PredictionWithCreator
		var status string
		var expiry, createdAt, updatedAt int64
		if err := rows.Scan(&r.ID, &r.Title, &r.URL, &r.CreatorID, &expiry, &status,
			&r.ParticipantCount, &createdAt, &updatedAt,
			&r.CreatorName, &r.CreatorUsername, &r.CreatorAvatar); err != nil {
			return nil, fmt.Errorf("sqlite: scan prediction: %w", err)
		}
		r.Status = model.Status(status)
		r.Expiry = fromMillis(expiry)
		r.CreatedAt = fromMillis(createdAt)
		r.UpdatedAt = fromMillis(updatedAt)
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list active predictions rows: %w", err)
	}
	return result, nil
}

// PlaceBet mirrors PostgresStore.PlaceBet: insert, then relative increment,
// in one transaction.
func (s *SQLiteStore) PlaceBet(ctx context.Context, b *model.Bet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin bet tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO bets (id, prediction_id, user_id, side, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.PredictionID, b.UserID, string(b.Side), toMillis(b.CreatedAt),
	)
	if err != nil {
		return translateSQLiteBetError(err, b)
	}

	if s.AfterBetInsert != nil {
		if err := s.AfterBetInsert(ctx, b); err != nil {
			return fmt.Errorf("sqlite: place bet: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE predictions
		 SET participant_count = participant_count + 1, updated_at = ?
		 WHERE id = ?`,
		toMillis(b.CreatedAt), b.PredictionID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: increment participants %s: %w", b.PredictionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("sqlite: increment participants %s: %w", b.PredictionID, model.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit bet %s: %w", b.ID, err)
	}
	return nil
}

// translateSQLiteBetError maps constraint violations on the bets table to
// domain errors. SQLite does not name the failing foreign key; bettors are
// registered by the identity layer before they can bet, so a foreign key
// failure here means the prediction is unknown.
func translateSQLiteBetError(err error, b *model.Bet) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique:
			return model.ErrAlreadyBet
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("sqlite: prediction %s: %w", b.PredictionID, model.ErrNotFound)
		}
	}
	return fmt.Errorf("sqlite: insert bet %s: %w", b.ID, err)
}

func (s *SQLiteStore) GetUserBetSides(ctx context.Context, userID string, predictionIDs []string) (map[string]model.Side, error) {
	sides := make(map[string]model.Side, len(predictionIDs))
	if len(predictionIDs) == 0 {
		return sides, nil
	}

	placeholders := make([]string, len(predictionIDs))
	args := make([]any, 0, len(predictionIDs)+1)
	args = append(args, userID)
	for i, id := range predictionIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT prediction_id, side FROM bets
		 WHERE user_id = ? AND prediction_id IN (`+strings.Join(placeholders, ", ")+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get user bet sides: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var predictionID, side string
		if err := rows.Scan(&predictionID, &side); err != nil {
			return nil, fmt.Errorf("sqlite: scan bet side: %w", err)
		}
		sides[predictionID] = model.Side(side)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: get user bet sides rows: %w", err)
	}
	return sides, nil
}

func (s *SQLiteStore) ListRecentActivity(ctx context.Context, userID string, limit int) ([]model.Activity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT b.id, b.side, COALESCE(p.title, ''), b.created_at
		 FROM bets b
		 LEFT JOIN predictions p ON p.id = b.prediction_id
		 WHERE b.user_id = ?
		 ORDER BY b.created_at DESC, b.id DESC
		 LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list recent activity: %w", err)
	}
	defer rows.Close()

	activities := []model.Activity{}
	for rows.Next() {
		var a model.Activity
		var side string
		var createdAt int64
		if err := rows.Scan(&a.BetID, &side, &a.Title, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan activity: %w", err)
		}
		a.Side = model.Side(side)
		a.Timestamp = fromMillis(createdAt)
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list recent activity rows: %w", err)
	}
	return activities, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CountBets returns the number of bet rows referencing a prediction.
func (s *SQLiteStore) CountBets(ctx context.Context, predictionID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bets WHERE prediction_id = ?`, predictionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count bets %s: %w", predictionID, err)
	}
	return n, nil
}
