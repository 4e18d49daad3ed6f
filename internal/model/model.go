// Package model defines the core domain types shared across the prediction
// engine: predictions, bets, the users that own them, and the read models
// served to clients.
package model

import (
	"time"
)

// Side is the directional choice of a bet.
type Side string

const (
	SideIn  Side = "in"  // the post will hit
	SideOut Side = "out" // the post will flop
)

// Valid reports whether s is one of the two bet sides.
func (s Side) Valid() bool {
	return s == SideIn || s == SideOut
}

// Status is the lifecycle state of a prediction. Nothing transitions a
// prediction to closed yet; expiry alone removes it from listings.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Role is a user's authorization role.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is an identity owned by the authentication collaborator.
type User struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Username  string    `json:"username" db:"username"`
	Avatar    string    `json:"avatar" db:"avatar"`
	Role      Role      `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Identity is the verified caller of a request. Every core operation takes
// it explicitly.
type Identity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Role     Role   `json:"role"`
}

// Prediction is a time-bounded market on a social-media post.
// Only ParticipantCount and UpdatedAt change after creation.
type Prediction struct {
	ID               string    `json:"id" db:"id"`
	Title            string    `json:"title" db:"title"`
	URL              string    `json:"url" db:"url"`
	CreatorID        string    `json:"creator_id" db:"user_id"`
	Expiry           time.Time `json:"expiry" db:"expiry"`
	Status           Status    `json:"status" db:"status"`
	ParticipantCount int64     `json:"participant_count" db:"participant_count"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Bet is an immutable record of one user's side on one prediction.
// At most one exists per (PredictionID, UserID).
type Bet struct {
	ID           string    `json:"id" db:"id"`
	PredictionID string    `json:"prediction_id" db:"prediction_id"`
	UserID       string    `json:"user_id" db:"user_id"`
	Side         Side      `json:"side" db:"side"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// PredictionWithCreator is a listing row: a prediction joined with the
// creator's public identity.
type PredictionWithCreator struct {
	Prediction
	CreatorName     string
	CreatorUsername string
	CreatorAvatar   string
}

// PredictionView is what clients see. UserBetSide is the caller's own side
// and is null when the caller has not bet; other users' sides are never
// exposed.
type PredictionView struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	PostID       string    `json:"post_id"`
	Name         string    `json:"name"`
	Username     string    `json:"username"`
	Avatar       string    `json:"avatar"`
	Expiry       time.Time `json:"expiry"`
	Participants int64     `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
	UserBetSide  *Side     `json:"user_bet_side"`
}

// PredictionPage is one window of the active listing. HasMore is set when
// the page came back full; there is no total count.
type PredictionPage struct {
	Predictions []PredictionView `json:"predictions"`
	Page        int              `json:"page"`
	Limit       int              `json:"limit"`
	HasMore     bool             `json:"has_more"`
}

// Activity is one entry of a user's recent betting history.
type Activity struct {
	BetID     string    `json:"bet_id"`
	Side      Side      `json:"side"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
}
