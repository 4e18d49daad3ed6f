// Package prediction is the prediction registry: it creates predictions and
// serves the active listing, merged with the caller's own bet sides.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hitflop/prediction-engine/internal/metrics"
	"github.com/hitflop/prediction-engine/internal/model"
	"github.com/hitflop/prediction-engine/internal/post"
)

// Listing defaults and bounds.
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// Store is the persistence the registry needs.
type Store interface {
	CreatePrediction(ctx context.Context, p *model.Prediction) error
	GetPrediction(ctx context.Context, id string) (*model.Prediction, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	ListActivePredictions(ctx context.Context, now time.Time, offset, limit int) ([]model.PredictionWithCreator, error)
	GetUserBetSides(ctx context.Context, userID string, predictionIDs []string) (map[string]model.Side, error)
}

// Notifier is told about every newly created prediction. Implementations
// must not block.
type Notifier interface {
	PredictionCreated(view model.PredictionView)
}

// Service implements the registry operations.
type Service struct {
	store    Store
	log      *zap.Logger
	notifier Notifier
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNotifier registers a listener for created predictions.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// NewService creates a registry over st.
func NewService(st Store, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store: st,
		log:   log.Named("prediction"),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest is the input of CreatePrediction.
type CreateRequest struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Duration string `json:"duration"`
}

// CreatePrediction validates req and persists a new open prediction owned
// by caller. Blank fields are all reported together.
func (s *Service) CreatePrediction(ctx context.Context, caller model.Identity, req CreateRequest) (*model.PredictionView, error) {
	title := strings.TrimSpace(req.Title)
	link := strings.TrimSpace(req.Link)
	token := strings.TrimSpace(req.Duration)

	var problems []string
	if title == "" {
		problems = append(problems, "title is required")
	}
	if link == "" {
		problems = append(problems, "link is required")
	}
	if token == "" {
		problems = append(problems, "duration is required")
	}
	if err := model.Validation(problems); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate prediction id: %w", err)
	}

	now := s.clock()
	resolved, _ := ResolveDuration(token)
	p := &model.Prediction{
		ID:        id.String(),
		Title:     title,
		URL:       link,
		CreatorID: caller.ID,
		Expiry:    ExpiryFor(token, now),
		Status:    model.StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreatePrediction(ctx, p); err != nil {
		s.log.Error("create prediction failed",
			zap.String("user_id", caller.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("create prediction: %w", err)
	}

	metrics.PredictionsCreated.WithLabelValues(resolved).Inc()
	s.log.Info("prediction created",
		zap.String("id", p.ID),
		zap.String("user_id", caller.ID),
		zap.String("duration", resolved),
		zap.Time("expiry", p.Expiry),
	)

	view := toView(model.PredictionWithCreator{
		Prediction:      *p,
		CreatorName:     caller.Name,
		CreatorUsername: caller.Username,
		CreatorAvatar:   caller.Avatar,
	}, nil)

	if s.notifier != nil {
		s.notifier.PredictionCreated(view)
	}
	return &view, nil
}

// ListPredictions returns one page of non-expired predictions, newest
// first, with the caller's own side attached where they have bet.
func (s *Service) ListPredictions(ctx context.Context, caller model.Identity, page, limit int) (*model.PredictionPage, error) {
	var problems []string
	if page < 1 {
		problems = append(problems, "page must be >= 1")
	}
	if limit < 1 || limit > MaxLimit {
		problems = append(problems, fmt.Sprintf("limit must be between 1 and %d", MaxLimit))
	}
	if err := model.Validation(problems); err != nil {
		return nil, err
	}

	// A window that starts past any addressable row is empty.
	if page-1 > math.MaxInt/limit {
		return &model.PredictionPage{
			Predictions: []model.PredictionView{},
			Page:        page,
			Limit:       limit,
		}, nil
	}

	offset := (page - 1) * limit
	rows, err := s.store.ListActivePredictions(ctx, s.clock(), offset, limit)
	if err != nil {
		s.log.Error("list predictions failed", zap.Int("page", page), zap.Int("limit", limit), zap.Error(err))
		return nil, fmt.Errorf("list predictions: %w", err)
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	sides, err := s.store.GetUserBetSides(ctx, caller.ID, ids)
	if err != nil {
		s.log.Error("load caller bet sides failed", zap.String("user_id", caller.ID), zap.Error(err))
		return nil, fmt.Errorf("list predictions: %w", err)
	}

	views := make([]model.PredictionView, 0, len(rows))
	for _, row := range rows {
		views = append(views, toView(row, sideOf(sides, row.ID)))
	}

	return &model.PredictionPage{
		Predictions: views,
		Page:        page,
		Limit:       limit,
		HasMore:     len(views) == limit,
	}, nil
}

// GetPrediction returns a single prediction with the caller's side. Expired
// predictions are still returned.
func (s *Service) GetPrediction(ctx context.Context, caller model.Identity, id string) (*model.PredictionView, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, model.Validation([]string{"prediction id is required"})
	}

	p, err := s.store.GetPrediction(ctx, id)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.log.Error("get prediction failed", zap.String("id", id), zap.Error(err))
		}
		return nil, err
	}

	row := model.PredictionWithCreator{Prediction: *p}
	creator, err := s.store.GetUser(ctx, p.CreatorID)
	switch {
	case err == nil:
		row.CreatorName = creator.Name
		row.CreatorUsername = creator.Username
		row.CreatorAvatar = creator.Avatar
	case !errors.Is(err, model.ErrNotFound):
		s.log.Error("get prediction creator failed", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("get prediction: %w", err)
	}

	sides, err := s.store.GetUserBetSides(ctx, caller.ID, []string{p.ID})
	if err != nil {
		s.log.Error("load caller bet side failed", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("get prediction: %w", err)
	}

	view := toView(row, sideOf(sides, p.ID))
	return &view, nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func sideOf(sides map[string]model.Side, id string) *model.Side {
	side, ok := sides[id]
	if !ok {
		return nil
	}
	return &side
}

func toView(row model.PredictionWithCreator, side *model.Side) model.PredictionView {
	return model.PredictionView{
		ID:           row.ID,
		Title:        row.Title,
		URL:          row.URL,
		PostID:       post.ExtractPostID(row.URL),
		Name:         row.CreatorName,
		Username:     row.CreatorUsername,
		Avatar:       row.CreatorAvatar,
		Expiry:       row.Expiry,
		Participants: row.ParticipantCount,
		CreatedAt:    row.CreatedAt,
		UserBetSide:  side,
	}
}
