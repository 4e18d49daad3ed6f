package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitflop/prediction-engine/internal/model"
)

type betKey struct {
	predictionID string
	userID       string
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// A single mutex serializes writers, so the bet map insert and the counter
// increment are observed together or not at all.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]*model.User
	predictions map[string]*model.Prediction
	bets        map[betKey]*model.Bet

	// AfterBetInsert, if set, is called between the bet insert and the
	// participant count increment. Returning an error rolls the insert back.
	AfterBetInsert BetInsertHook
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*model.User),
		predictions: make(map[string]*model.Prediction),
		bets:        make(map[betKey]*model.Bet),
	}
}

func (s *MemoryStore) EnsureUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[u.ID]; ok {
		existing.Name = u.Name
		existing.Username = u.Username
		existing.Avatar = u.Avatar
		existing.UpdatedAt = u.UpdatedAt
		return nil
	}

	// Store a copy to avoid external mutation.
	copy := *u
	if copy.Role == "" {
		copy.Role = model.RoleUser
	}
	s.users[u.ID] = &copy
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("memory: user %s: %w", id, model.ErrNotFound)
	}
	copy := *u
	return &copy, nil
}

func (s *MemoryStore) CreatePrediction(_ context.Context, p *model.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[p.CreatorID]; !ok {
		return fmt.Errorf("memory: creator %s does not exist", p.CreatorID)
	}
	if _, ok := s.predictions[p.ID]; ok {
		return fmt.Errorf("memory: prediction %s already exists", p.ID)
	}

	copy := *p
	s.predictions[p.ID] = &copy
	return nil
}

func (s *MemoryStore) GetPrediction(_ context.Context, id string) (*model.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.predictions[id]
	if !ok {
		return nil, fmt.Errorf("memory: prediction %s: %w", id, model.ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListActivePredictions(_ context.Context, now time.Time, offset, limit int) ([]model.PredictionWithCreator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]*model.Prediction, 0, len(s.predictions))
	for _, p := range s.predictions {
		if p.Expiry.After(now) {
			active = append(active, p)
		}
	}

	// Newest first; IDs are time-sortable and break ties deterministically.
	sort.Slice(active, func(i, j int) bool {
		if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].CreatedAt.After(active[j].CreatedAt)
		}
		return active[i].ID > active[j].ID
	})

	if offset < 0 || limit <= 0 || offset >= len(active) {
		return []model.PredictionWithCreator{}, nil
	}
	end := len(active)
	if limit < end-offset {
		end = offset + limit
	}

	rows := make([]model.PredictionWithCreator, 0, end-offset)
	for _, p := range active[offset:end] {
		row := model.PredictionWithCreator{Prediction: *p}
		if u, ok := s.users[p.CreatorID]; ok {
			row.CreatorName = u.Name
			row.CreatorUsername = u.Username
			row.CreatorAvatar = u.Avatar
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// PlaceBet checks the foreign keys and the uniqueness key, inserts the bet
// and bumps the counter, all under the write lock.
func (s *MemoryStore) PlaceBet(ctx context.Context, b *model.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.predictions[b.PredictionID]
	if !ok {
		return fmt.Errorf("memory: prediction %s: %w", b.PredictionID, model.ErrNotFound)
	}
	if _, ok := s.users[b.UserID]; !ok {
		return fmt.Errorf("memory: bettor %s does not exist", b.UserID)
	}

	key := betKey{predictionID: b.PredictionID, userID: b.UserID}
	if _, exists := s.bets[key]; exists {
		return model.ErrAlreadyBet
	}

	copy := *b
	s.bets[key] = &copy

	if s.AfterBetInsert != nil {
		if err := s.AfterBetInsert(ctx, b); err != nil {
			delete(s.bets, key)
			return fmt.Errorf("memory: place bet: %w", err)
		}
	}

	p.ParticipantCount++
	p.UpdatedAt = b.CreatedAt
	return nil
}

func (s *MemoryStore) GetUserBetSides(_ context.Context, userID string, predictionIDs []string) (map[string]model.Side, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sides := make(map[string]model.Side, len(predictionIDs))
	for _, id := range predictionIDs {
		if b, ok := s.bets[betKey{predictionID: id, userID: userID}]; ok {
			sides[id] = b.Side
		}
	}
	return sides, nil
}

func (s *MemoryStore) ListRecentActivity(_ context.Context, userID string, limit int) ([]model.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var own []*model.Bet
	for _, b := range s.bets {
		if b.UserID == userID {
			own = append(own, b)
		}
	}
	sort.Slice(own, func(i, j int) bool {
		if !own[i].CreatedAt.Equal(own[j].CreatedAt) {
			return own[i].CreatedAt.After(own[j].CreatedAt)
		}
		return own[i].ID > own[j].ID
	})
	if len(own) > limit {
		own = own[:limit]
	}

	activities := make([]model.Activity, 0, len(own))
	for _, b := range own {
		a := model.Activity{BetID: b.ID, Side: b.Side, Timestamp: b.CreatedAt}
		if p, ok := s.predictions[b.PredictionID]; ok {
			a.Title = p.Title
		}
		activities = append(activities, a)
	}
	return activities, nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// CountBets returns the number of bets recorded against a prediction.
func (s *MemoryStore) CountBets(_ context.Context, predictionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for key := range s.bets {
		if key.predictionID == predictionID {
			n++
		}
	}
	return n, nil
}
