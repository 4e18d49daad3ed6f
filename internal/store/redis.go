package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitflop/prediction-engine/internal/model"
)

// cacheClient is the subset of *redis.Client the cache uses.
type cacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// generationTTLFactor sets how much longer a generation counter lives than
// the entries stamped with it.
const generationTTLFactor = 10

// CachedStore wraps a primary Store with a Redis read-through cache.
// Writes go to the primary store and invalidate the cache; reads check
// Redis first then fall back to the primary. Cache failures are never
// surfaced to callers.
//
// Every entry is stamped with the generation of its key read before the
// primary was queried. PlaceBet bumps the generation, so an entry filled
// from a read that raced a bet is ignored by later readers.
type CachedStore struct {
	primary Store
	rdb     cacheClient
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return newCachedStore(primary, rdb, ttl)
}

func newCachedStore(primary Store, rdb cacheClient, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreatePrediction(ctx context.Context, p *model.Prediction) error {
	if err := s.primary.CreatePrediction(ctx, p); err != nil {
		return err
	}
	if gen, ok := s.generation(ctx, predictionKey(p.ID)); ok {
		s.fill(ctx, predictionKey(p.ID), cachedPrediction{Gen: gen, Prediction: p})
	}
	return nil
}

// PlaceBet changes the prediction's participant count and the bettor's
// activity, so both entries are retired.
func (s *CachedStore) PlaceBet(ctx context.Context, b *model.Bet) error {
	if err := s.primary.PlaceBet(ctx, b); err != nil {
		return err
	}
	s.invalidate(ctx, predictionKey(b.PredictionID), activityKey(b.UserID))
	return nil
}

// --- Read-through (check cache first) ---

type cachedPrediction struct {
	Gen        int64             `json:"gen"`
	Prediction *model.Prediction `json:"prediction"`
}

func (s *CachedStore) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	key := predictionKey(id)
	gen, ok := s.generation(ctx, key)
	if ok {
		var cached cachedPrediction
		if s.lookup(ctx, key, &cached) && cached.Gen == gen && cached.Prediction != nil {
			return cached.Prediction, nil
		}
	}

	p, err := s.primary.GetPrediction(ctx, id)
	if err != nil {
		return nil, err
	}

	if ok {
		s.fill(ctx, key, cachedPrediction{Gen: gen, Prediction: p})
	}
	return p, nil
}

type cachedActivity struct {
	Gen   int64            `json:"gen"`
	Limit int              `json:"limit"`
	Items []model.Activity `json:"items"`
}

func (s *CachedStore) ListRecentActivity(ctx context.Context, userID string, limit int) ([]model.Activity, error) {
	key := activityKey(userID)
	gen, ok := s.generation(ctx, key)
	if ok {
		var cached cachedActivity
		if s.lookup(ctx, key, &cached) && cached.Gen == gen && cached.Limit == limit {
			return cached.Items, nil
		}
	}

	activities, err := s.primary.ListRecentActivity(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	if ok {
		s.fill(ctx, key, cachedActivity{Gen: gen, Limit: limit, Items: activities})
	}
	return activities, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) EnsureUser(ctx context.Context, u *model.User) error {
	return s.primary.EnsureUser(ctx, u)
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) ListActivePredictions(ctx context.Context, now time.Time, offset, limit int) ([]model.PredictionWithCreator, error) {
	return s.primary.ListActivePredictions(ctx, now, offset, limit)
}

func (s *CachedStore) GetUserBetSides(ctx context.Context, userID string, predictionIDs []string) (map[string]model.Side, error) {
	return s.primary.GetUserBetSides(ctx, userID, predictionIDs)
}

// Ping checks the primary store and then Redis.
func (s *CachedStore) Ping(ctx context.Context) error {
	if err := s.primary.Ping(ctx); err != nil {
		return err
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// --- Cache helpers ---

// generation returns the current generation of key. ok is false when Redis
// cannot be read, in which case the cache is bypassed entirely.
func (s *CachedStore) generation(ctx context.Context, key string) (int64, bool) {
	gen, err := s.rdb.Get(ctx, generationKey(key)).Int64()
	switch {
	case err == nil:
		return gen, true
	case errors.Is(err, redis.Nil):
		return 0, true
	default:
		return 0, false
	}
}

func (s *CachedStore) invalidate(ctx context.Context, keys ...string) {
	for _, key := range keys {
		gk := generationKey(key)
		s.rdb.Incr(ctx, gk)
		s.rdb.Expire(ctx, gk, s.ttl*generationTTLFactor)
	}
	s.rdb.Del(ctx, keys...)
}

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) fill(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func predictionKey(id string) string { return fmt.Sprintf("prediction:%s", id) }
func activityKey(uid string) string { return fmt.Sprintf("activity:%s", uid) }
func generationKey(key string) string { return key + ":gen" }
