// Package auth provides session authentication middleware for HTTP servers.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/api"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/identity"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/appctx"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/logutil"
)

// SessionCookie is the cookie carrying the session token.
const SessionCookie = "session"

type contextKey string

const (
	sessionContextKey contextKey = "session"
	userContextKey    contextKey = "user"
)

// AuthGateConfig configures the session auth gate middleware.
type AuthGateConfig struct {
	// RequireAuth reports whether path requires a session. The server
	// builds it from every service's Unprotected list.
	RequireAuth func(path string) bool

	Log *slog.Logger

	// SessionRepo and PartyRepo may be nil only if RequireAuth always
	// returns false.
	SessionRepo identity.SessionRepo
	PartyRepo   identity.PartyRepo
}

// NewAuthGate returns a middleware that enforces session authentication.
// On paths that do not require auth a valid session is still resolved, so
// handlers there can apply their own per-method checks.
func NewAuthGate(cfg AuthGateConfig) func(http.Handler) http.Handler {
	cfg.Log = logutil.NoopIfNil(cfg.Log)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAuth(r.URL.Path) {
				if token := ExtractSessionToken(r); token != "" && cfg.SessionRepo != nil && cfg.PartyRepo != nil {
					if ctx, ok := resolve(r.Context(), cfg, token); ok {
						r = r.WithContext(ctx)
					}
				}
				next.ServeHTTP(w, r)
				return
			}

			token := ExtractSessionToken(r)
			if token == "" {
				api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
				return
			}

			session, err := cfg.SessionRepo.Get(r.Context(), token)
			if err != nil {
				api.WriteUnauthorized(w, api.ReasonUnauthenticated, "session not found or expired")
				return
			}
			if session.IsExpired() {
				api.WriteUnauthorized(w, api.ReasonSessionExpired, "session has expired")
				return
			}

			user, err := cfg.PartyRepo.Get(r.Context(), session.UserID)
			if err != nil {
				cfg.Log.Warn("session references missing user", "user_id", session.UserID)
				api.WriteUnauthorized(w, api.ReasonUnauthenticated, "session user not found")
				return
			}

			ctx := WithSession(r.Context(), session, user)
			ctx = appctx.WithLogger(ctx, appctx.GetLogger(ctx).With("user_id", user.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolve loads the live session behind token and its user into ctx.
func resolve(ctx context.Context, cfg AuthGateConfig, token string) (context.Context, bool) {
	session, err := cfg.SessionRepo.Get(ctx, token)
	if err != nil || session.IsExpired() {
		return ctx, false
	}
	user, err := cfg.PartyRepo.Get(ctx, session.UserID)
	if err != nil {
		return ctx, false
	}
	return WithSession(ctx, session, user), true
}

// RequireAdmin answers 403 unless the authenticated user is an admin.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := GetUserFromContext(r.Context())
		if u == nil {
			api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
			return
		}
		if !u.IsAdmin() {
			api.WriteForbidden(w, api.ReasonUnauthorized, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ExtractSessionToken reads the session token from the cookie or a Bearer
// Authorization header.
func ExtractSessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// WithSession stores the session and its user in ctx.
func WithSession(ctx context.Context, s *identity.Session, u *identity.User) context.Context {
	ctx = context.WithValue(ctx, sessionContextKey, s)
	return context.WithValue(ctx, userContextKey, u)
}

// GetSessionFromContext returns the session from request context.
func GetSessionFromContext(ctx context.Context) *identity.Session {
	session, _ := ctx.Value(sessionContextKey).(*identity.Session)
	return session
}

// GetUserFromContext returns the user from request context.
func GetUserFromContext(ctx context.Context) *identity.User {
	user, _ := ctx.Value(userContextKey).(*identity.User)
	return user
}
