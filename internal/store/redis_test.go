package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitflop/prediction-engine/internal/model"
)

// fakeCache is an in-process stand-in for the Redis commands CachedStore
// issues.
type fakeCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(_ context.Context, key string) *redis.StringCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return redis.NewStringResult("", errors.New("connection refused"))
	}
	v, ok := c.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (c *fakeCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		c.data[key] = v
	case string:
		c.data[key] = []byte(v)
	}
	return redis.NewStatusResult("OK", nil)
}

func (c *fakeCache) Del(_ context.Context, keys ...string) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := c.data[k]; ok {
			delete(c.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (c *fakeCache) Incr(_ context.Context, key string) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, _ := strconv.ParseInt(string(c.data[key]), 10, 64)
	n++
	c.data[key] = []byte(strconv.FormatInt(n, 10))
	return redis.NewIntResult(n, nil)
}

func (c *fakeCache) Expire(_ context.Context, key string, _ time.Duration) *redis.BoolCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return redis.NewBoolResult(ok, nil)
}

func (c *fakeCache) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

// countingPrimary records how often reads reach the primary store.
type countingPrimary struct {
	*MemoryStore
	predictionReads int
	activityReads   int
}

func (p *countingPrimary) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	p.predictionReads++
	return p.MemoryStore.GetPrediction(ctx, id)
}

func (p *countingPrimary) ListRecentActivity(ctx context.Context, userID string, limit int) ([]model.Activity, error) {
	p.activityReads++
	return p.MemoryStore.ListRecentActivity(ctx, userID, limit)
}

func newCachedTestEnv(t *testing.T) (*CachedStore, *countingPrimary, *fakeCache) {
	t.Helper()
	primary := &countingPrimary{MemoryStore: NewMemoryStore()}
	cache := newFakeCache()
	cs := newCachedStore(primary, cache, time.Minute)

	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"creator", "alice"} {
		if err := cs.EnsureUser(ctx, &model.User{ID: id, Name: id, Username: id, CreatedAt: now, UpdatedAt: now}); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	p := &model.Prediction{
		ID: "p1", Title: "Will it trend?", URL: "https://x.com/a/status/1", CreatorID: "creator",
		Expiry: now.Add(24 * time.Hour), Status: model.StatusOpen, CreatedAt: now, UpdatedAt: now,
	}
	if err := cs.CreatePrediction(ctx, p); err != nil {
		t.Fatalf("seed prediction: %v", err)
	}
	return cs, primary, cache
}

func TestCachedStore_CreatePredictionPopulatesCache(t *testing.T) {
	cs, primary, cache := newCachedTestEnv(t)
	if !cache.has(predictionKey("p1")) {
		t.Fatal("expected prediction to be cached on create")
	}

	p, err := cs.GetPrediction(context.Background(), "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Title != "Will it trend?" {
		t.Errorf("title = %q", p.Title)
	}
	if primary.predictionReads != 0 {
		t.Errorf("primary reads = %d, want 0", primary.predictionReads)
	}
}

func TestCachedStore_PlaceBetInvalidates(t *testing.T) {
	cs, primary, cache := newCachedTestEnv(t)
	ctx := context.Background()

	if _, err := cs.ListRecentActivity(ctx, "alice", 9); err != nil {
		t.Fatalf("activity: %v", err)
	}
	if !cache.has(activityKey("alice")) {
		t.Fatal("expected activity to be cached")
	}

	bet := &model.Bet{ID: "b1", PredictionID: "p1", UserID: "alice", Side: model.SideIn, CreatedAt: time.Now().UTC()}
	if err := cs.PlaceBet(ctx, bet); err != nil {
		t.Fatalf("bet: %v", err)
	}
	if cache.has(predictionKey("p1")) || cache.has(activityKey("alice")) {
		t.Fatal("expected bet to invalidate prediction and activity entries")
	}

	p, err := cs.GetPrediction(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.ParticipantCount != 1 {
		t.Errorf("participant_count = %d, want 1", p.ParticipantCount)
	}
	if primary.predictionReads != 1 {
		t.Errorf("primary reads = %d, want 1", primary.predictionReads)
	}

	activity, err := cs.ListRecentActivity(ctx, "alice", 9)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if len(activity) != 1 || activity[0].Title != "Will it trend?" {
		t.Errorf("activity = %+v", activity)
	}
}

func TestCachedStore_FailedBetKeepsCache(t *testing.T) {
	cs, _, cache := newCachedTestEnv(t)
	ctx := context.Background()

	bet := &model.Bet{ID: "b1", PredictionID: "p1", UserID: "alice", Side: model.SideIn, CreatedAt: time.Now().UTC()}
	if err := cs.PlaceBet(ctx, bet); err != nil {
		t.Fatalf("bet: %v", err)
	}
	if _, err := cs.GetPrediction(ctx, "p1"); err != nil {
		t.Fatalf("get: %v", err)
	}

	dup := &model.Bet{ID: "b2", PredictionID: "p1", UserID: "alice", Side: model.SideOut, CreatedAt: time.Now().UTC()}
	if err := cs.PlaceBet(ctx, dup); !errors.Is(err, model.ErrAlreadyBet) {
		t.Fatalf("err = %v, want ErrAlreadyBet", err)
	}
	if !cache.has(predictionKey("p1")) {
		t.Error("rejected bet should not invalidate the cache")
	}
}

func TestCachedStore_ActivityLimitMismatchMisses(t *testing.T) {
	cs, primary, _ := newCachedTestEnv(t)
	ctx := context.Background()

	for _, limit := range []int{9, 9, 3} {
		if _, err := cs.ListRecentActivity(ctx, "alice", limit); err != nil {
			t.Fatalf("activity: %v", err)
		}
	}
	if primary.activityReads != 2 {
		t.Errorf("primary reads = %d, want 2", primary.activityReads)
	}
}

func TestCachedStore_CacheErrorFallsThrough(t *testing.T) {
	cs, primary, cache := newCachedTestEnv(t)
	cache.mu.Lock()
	cache.failGet = true
	cache.mu.Unlock()

	p, err := cs.GetPrediction(context.Background(), "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.ID != "p1" || primary.predictionReads != 1 {
		t.Errorf("expected primary read, got %+v after %d reads", p, primary.predictionReads)
	}
}

func TestCachedStore_NotFoundNotCached(t *testing.T) {
	cs, _, cache := newCachedTestEnv(t)
	_, err := cs.GetPrediction(context.Background(), "missing")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if cache.has(predictionKey("missing")) {
		t.Error("missing prediction should not be cached")
	}
}

// racingPrimary runs duringRead once, after the primary has answered a
// prediction read but before the cache is filled with the answer.
type racingPrimary struct {
	*MemoryStore
	duringRead func()
}

func (p *racingPrimary) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	pred, err := p.MemoryStore.GetPrediction(ctx, id)
	if f := p.duringRead; f != nil {
		p.duringRead = nil
		f()
	}
	return pred, err
}

func TestCachedStore_BetDuringMissDoesNotPinStaleCount(t *testing.T) {
	ctx := context.Background()
	primary := &racingPrimary{MemoryStore: NewMemoryStore()}
	cs := newCachedStore(primary, newFakeCache(), time.Minute)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"creator", "alice"} {
		if err := primary.EnsureUser(ctx, &model.User{ID: id, Name: id, Username: id, CreatedAt: now, UpdatedAt: now}); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	// Seeded behind the cache so the first read misses.
	if err := primary.CreatePrediction(ctx, &model.Prediction{
		ID: "p1", Title: "Will it trend?", URL: "https://x.com/a/status/1", CreatorID: "creator",
		Expiry: now.Add(24 * time.Hour), Status: model.StatusOpen, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed prediction: %v", err)
	}

	primary.duringRead = func() {
		bet := &model.Bet{ID: "b1", PredictionID: "p1", UserID: "alice", Side: model.SideIn, CreatedAt: now}
		if err := cs.PlaceBet(ctx, bet); err != nil {
			t.Errorf("bet: %v", err)
		}
	}
	first, err := cs.GetPrediction(ctx, "p1")
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	if first.ParticipantCount != 0 {
		t.Fatalf("first read participant_count = %d, want 0 (read before the bet)", first.ParticipantCount)
	}

	second, err := cs.GetPrediction(ctx, "p1")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if second.ParticipantCount != 1 {
		t.Errorf("participant_count = %d after the bet committed, want 1", second.ParticipantCount)
	}

	// The refreshed entry is served from the cache from now on.
	third, err := cs.GetPrediction(ctx, "p1")
	if err != nil {
		t.Fatalf("third get: %v", err)
	}
	if third.ParticipantCount != 1 {
		t.Errorf("cached participant_count = %d, want 1", third.ParticipantCount)
	}
}

func TestCachedStore_ActivityIgnoresEntryFromOlderGeneration(t *testing.T) {
	cs, primary, cache := newCachedTestEnv(t)
	ctx := context.Background()

	if _, err := cs.ListRecentActivity(ctx, "alice", 9); err != nil {
		t.Fatalf("activity: %v", err)
	}
	stale, _ := cache.Get(ctx, activityKey("alice")).Bytes()

	bet := &model.Bet{ID: "b1", PredictionID: "p1", UserID: "alice", Side: model.SideIn, CreatedAt: time.Now().UTC()}
	if err := cs.PlaceBet(ctx, bet); err != nil {
		t.Fatalf("bet: %v", err)
	}
	// A slow reader puts its pre-bet answer back after the invalidation.
	cache.Set(ctx, activityKey("alice"), stale, time.Minute)

	activity, err := cs.ListRecentActivity(ctx, "alice", 9)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if len(activity) != 1 {
		t.Errorf("activity = %+v, want the new bet", activity)
	}
	if primary.activityReads != 2 {
		t.Errorf("primary reads = %d, want 2", primary.activityReads)
	}
}
