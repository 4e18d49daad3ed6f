package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/hitflop/prediction-engine/internal/auth"
	"github.com/hitflop/prediction-engine/internal/model"
)

const secret = "test-secret"

var alice = model.Identity{ID: "alice", Name: "Alice", Username: "alice", Avatar: "https://img.example/a.png", Role: model.RoleUser}

// recordingUsers counts EnsureUser calls.
type recordingUsers struct {
	mu    sync.Mutex
	calls []model.User
	err   error
}

func (u *recordingUsers) EnsureUser(_ context.Context, user *model.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	u.calls = append(u.calls, *user)
	return nil
}

func newTestEnv(t *testing.T) (*auth.Verifier, *recordingUsers, http.Handler) {
	t.Helper()
	v := auth.NewVerifier(secret, "hitflop")
	users := &recordingUsers{}
	a := auth.NewAuthenticator(v, users, zap.NewNop())

	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok {
			http.Error(w, "no identity", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(id.ID))
	}))
	return v, users, h
}

func issue(t *testing.T, v *auth.Verifier, id model.Identity) string {
	t.Helper()
	tok, err := v.Issue(id, time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func TestVerify_RoundTrip(t *testing.T) {
	v := auth.NewVerifier(secret, "hitflop")
	got, err := v.Verify(issue(t, v, alice))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != alice {
		t.Errorf("identity = %+v, want %+v", got, alice)
	}
}

func TestVerify_DefaultsRole(t *testing.T) {
	v := auth.NewVerifier(secret, "hitflop")
	id := alice
	id.Role = ""
	got, err := v.Verify(issue(t, v, id))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Role != model.RoleUser {
		t.Errorf("role = %q, want user", got.Role)
	}
}

func TestVerify_Rejects(t *testing.T) {
	v := auth.NewVerifier(secret, "hitflop")
	now := time.Now()

	expired, _ := v.Issue(alice, now.Add(-2*time.Hour), time.Hour)
	otherIssuer, _ := auth.NewVerifier(secret, "someone-else").Issue(alice, now, time.Hour)
	wrongKey, _ := auth.NewVerifier("other-secret", "hitflop").Issue(alice, now, time.Hour)
	noSubject, _ := v.Issue(model.Identity{Name: "anon"}, now, time.Hour)
	badRole, _ := v.Issue(model.Identity{ID: "x", Role: "root"}, now, time.Hour)

	noneAlg, _ := jwt.NewWithClaims(jwt.SigningMethodNone, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			Issuer:    "hitflop",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice", Issuer: "hitflop"},
	}).SignedString([]byte(secret))

	tests := map[string]string{
		"expired":      expired,
		"other issuer": otherIssuer,
		"wrong key":    wrongKey,
		"no subject":   noSubject,
		"bad role":     badRole,
		"alg none":     noneAlg,
		"no expiry":    noExpiry,
		"garbage":      "not.a.token",
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(tok)
			if !errors.Is(err, auth.ErrInvalidToken) {
				t.Errorf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestMiddleware_MissingToken(t *testing.T) {
	_, users, h := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/activities", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"success":false`) {
		t.Errorf("body = %s", w.Body.String())
	}
	if len(users.calls) != 0 {
		t.Error("user registered without a token")
	}
}

func TestMiddleware_WrongScheme(t *testing.T) {
	v, _, h := newTestEnv(t)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Basic "+issue(t, v, alice))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_BearerRegistersOnce(t *testing.T) {
	v, users, h := newTestEnv(t)
	tok := issue(t, v, alice)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if w.Code != http.StatusOK || w.Body.String() != "alice" {
			t.Fatalf("request %d: %d %s", i, w.Code, w.Body.String())
		}
	}
	if len(users.calls) != 1 {
		t.Fatalf("EnsureUser calls = %d, want 1", len(users.calls))
	}
	if users.calls[0].Username != "alice" || users.calls[0].Role != model.RoleUser {
		t.Errorf("registered = %+v", users.calls[0])
	}

	// A changed profile is written again.
	renamed := alice
	renamed.Name = "Alice B."
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, v, renamed))
	h.ServeHTTP(httptest.NewRecorder(), req)
	if len(users.calls) != 2 || users.calls[1].Name != "Alice B." {
		t.Errorf("profile refresh not registered: %+v", users.calls)
	}
}

func TestMiddleware_RememberedIdentitiesAreBounded(t *testing.T) {
	v := auth.NewVerifier(secret, "hitflop")
	users := &recordingUsers{}
	a := auth.NewAuthenticator(v, users, zap.NewNop(), auth.WithSeenCapacity(2))
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	call := func(id model.Identity) {
		t.Helper()
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+issue(t, v, id))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status %d", id.ID, w.Code)
		}
	}
	bob := model.Identity{ID: "bob", Name: "Bob", Username: "bob", Role: model.RoleUser}
	carol := model.Identity{ID: "carol", Name: "Carol", Username: "carol", Role: model.RoleUser}

	call(alice)
	call(bob)
	call(alice) // still remembered
	if len(users.calls) != 2 {
		t.Fatalf("EnsureUser calls = %d, want 2", len(users.calls))
	}

	// carol pushes out the least recently used entry, bob.
	call(carol)
	call(alice)
	if len(users.calls) != 3 {
		t.Fatalf("EnsureUser calls = %d, want 3", len(users.calls))
	}
	call(bob)
	if len(users.calls) != 4 || users.calls[3].ID != "bob" {
		t.Errorf("evicted identity not registered again: %+v", users.calls)
	}

	// One entry per user id: a renamed profile replaces the old one.
	renamed := alice
	renamed.Name = "Alice B."
	call(renamed)
	call(renamed)
	if len(users.calls) != 5 || users.calls[4].Name != "Alice B." {
		t.Errorf("renamed profile calls = %+v", users.calls)
	}
}

func TestMiddleware_SessionCookie(t *testing.T) {
	v, _, h := newTestEnv(t)

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: issue(t, v, alice)})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestMiddleware_RegistrationFailure(t *testing.T) {
	v, users, h := newTestEnv(t)
	users.err = errors.New("database is down")

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, v, alice))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "database") {
		t.Errorf("internal error leaked: %s", w.Body.String())
	}
}
