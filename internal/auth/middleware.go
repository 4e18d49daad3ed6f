package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/hitflop/prediction-engine/internal/model"
)

// SessionCookie is read when no Authorization header is present, which is
// the only option for browser WebSocket clients.
const SessionCookie = "hitflop_session"

// UserStore registers verified callers.
type UserStore interface {
	EnsureUser(ctx context.Context, user *model.User) error
}

// Authenticator is the identity middleware.
type Authenticator struct {
	verifier *Verifier
	users    UserStore
	log      *zap.Logger
	now      func() time.Time

	// seen holds the profile last written to the store for recently active
	// user ids. Evicted or changed profiles are written again.
	seen *lru.Cache[string, model.Identity]
}

// DefaultSeenCapacity bounds how many registered identities are remembered.
const DefaultSeenCapacity = 10_000

// Option configures an Authenticator.
type Option func(*authOptions)

type authOptions struct {
	seenCapacity int
}

// WithSeenCapacity overrides DefaultSeenCapacity.
func WithSeenCapacity(n int) Option {
	return func(o *authOptions) { o.seenCapacity = n }
}

// NewAuthenticator creates the middleware.
func NewAuthenticator(v *Verifier, users UserStore, log *zap.Logger, opts ...Option) *Authenticator {
	o := authOptions{seenCapacity: DefaultSeenCapacity}
	for _, opt := range opts {
		opt(&o)
	}
	if o.seenCapacity < 1 {
		o.seenCapacity = DefaultSeenCapacity
	}
	// lru.New only fails for a non-positive size.
	seen, _ := lru.New[string, model.Identity](o.seenCapacity)

	return &Authenticator{
		verifier: v,
		users:    users,
		log:      log.Named("auth"),
		now:      time.Now,
		seen:     seen,
	}
}

// Middleware rejects requests without a valid session token with 401 and
// otherwise stores the caller's identity in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := tokenFrom(r)
		if raw == "" {
			writeUnauthorized(w, "authentication required")
			return
		}

		id, err := a.verifier.Verify(raw)
		if err != nil {
			a.log.Debug("rejected session token",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Error(err),
			)
			writeUnauthorized(w, "invalid session")
			return
		}

		if err := a.register(r.Context(), id); err != nil {
			a.log.Error("register user failed",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("user_id", id.ID),
				zap.Error(err),
			)
			writeJSONError(w, http.StatusInternalServerError, "failed to load session, try again")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (a *Authenticator) register(ctx context.Context, id model.Identity) error {
	if prev, ok := a.seen.Get(id.ID); ok && prev == id {
		return nil
	}
	now := a.now().UTC().Truncate(time.Millisecond)
	err := a.users.EnsureUser(ctx, &model.User{
		ID:        id.ID,
		Name:      id.Name,
		Username:  id.Username,
		Avatar:    id.Avatar,
		Role:      id.Role,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return err
	}
	a.seen.Add(id.ID, id)
	return nil
}

func tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="hitflop"`)
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   msg,
	})
}

type ctxKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by the middleware.
func FromContext(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(model.Identity)
	return id, ok
}
