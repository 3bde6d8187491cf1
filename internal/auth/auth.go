// Package auth guards the HTTP API with HTTP Basic credentials checked against
// bcrypt password hashes in the user store.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/MrWong99/narrata/internal/observe"
	"github.com/MrWong99/narrata/pkg/store"
)

// AnonymousUser is attached to requests when authentication is disabled.
var AnonymousUser = store.User{ID: "anonymous", Email: "anonymous", IsAdmin: true}

type ctxKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u store.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFrom returns the authenticated user of ctx.
func UserFrom(ctx context.Context) (store.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(store.User)
	return u, ok
}

// UserID returns the id of the authenticated user, or "" if there is none.
func UserID(ctx context.Context) string {
	u, _ := UserFrom(ctx)
	return u.ID
}

// IsAdmin reports whether the authenticated user of ctx is an administrator.
func IsAdmin(ctx context.Context) bool {
	u, _ := UserFrom(ctx)
	return u.IsAdmin
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(h), nil
}

// Authenticator verifies Basic credentials.
type Authenticator struct {
	users    store.UserStore
	disabled bool
	realm    string
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// Disabled makes every request pass as [AnonymousUser].
func Disabled() Option {
	return func(a *Authenticator) { a.disabled = true }
}

// WithRealm sets the realm advertised in WWW-Authenticate. Default "narrata".
func WithRealm(realm string) Option {
	return func(a *Authenticator) {
		if realm != "" {
			a.realm = realm
		}
	}
}

// New creates an Authenticator backed by users.
func New(users store.UserStore, opts ...Option) *Authenticator {
	a := &Authenticator{users: users, realm: "narrata"}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Verify checks email and password and returns the matching user.
func (a *Authenticator) Verify(ctx context.Context, email, password string) (store.User, bool) {
	if email == "" || password == "" {
		return store.User{}, false
	}
	u, err := a.users.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			observe.Logger(ctx).Error("auth: user lookup failed", "err", err)
		}
		return store.User{}, false
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return store.User{}, false
	}
	return u, true
}

// Middleware rejects requests without valid credentials with 401
// {"error":"Unauthorized"} and attaches the user to the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.disabled {
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), AnonymousUser)))
			return
		}
		email, password, ok := r.BasicAuth()
		if !ok {
			a.unauthorized(w)
			return
		}
		u, ok := a.Verify(r.Context(), strings.TrimSpace(email), password)
		if !ok {
			a.unauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}

// RequireAdmin rejects authenticated non-admins with 403
// {"error":"Admin access required"}. It must be wrapped by Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if !u.IsAdmin {
			writeError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm=%q, charset="UTF-8"`, a.realm))
	writeError(w, http.StatusUnauthorized, "Unauthorized")
}

// Bootstrap ensures an admin account with email exists. An existing account
// is promoted to admin; its password is left unchanged.
func Bootstrap(ctx context.Context, users store.UserStore, email, password string) (store.User, error) {
	u, err := users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if u.IsAdmin {
			return u, nil
		}
		return users.SetAdmin(ctx, u.ID, true)
	case !errors.Is(err, store.ErrNotFound):
		return store.User{}, fmt.Errorf("auth: bootstrap: %w", err)
	}
	if password == "" {
		return store.User{}, errors.New("auth: bootstrap: admin password is empty")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return store.User{}, err
	}
	u, err = users.CreateUser(ctx, store.User{Email: email, PasswordHash: hash, IsAdmin: true})
	if err != nil {
		return store.User{}, fmt.Errorf("auth: bootstrap: %w", err)
	}
	return u, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
