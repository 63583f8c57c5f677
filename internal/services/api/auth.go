package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/api"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/identity"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/appctx"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/cache"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/http/auth"
)

// authHandler serves login, logout and the current user.
type authHandler struct {
	repo     identity.PartyRepo
	sessions identity.SessionRepo
	auth     *identity.UserAuth
	domain   string
}

func newAuthHandler(repo identity.PartyRepo, sessions identity.SessionRepo, ua *identity.UserAuth, domain string) *authHandler {
	return &authHandler{repo: repo, sessions: sessions, auth: ua, domain: domain}
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// userView is the public shape of a local user.
type userView struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role"`
	CloudID     string `json:"cloud_id"`
}

func (h *authHandler) view(u *identity.User) userView {
	return userView{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Role:        u.Role,
		CloudID:     u.CloudID(h.domain),
	}
}

type loginResponse struct {
	Token     string   `json:"token"`
	ExpiresAt string   `json:"expires_at"`
	User      userView `json:"user"`
}

// Login handles POST /api/auth/login.
func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteAppError(w, r, err)
		return
	}

	ctx := r.Context()
	user, err := h.auth.Authenticate(ctx, h.repo, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidPassword) {
			api.WriteUnauthorized(w, api.ReasonInvalidCredentials, "invalid username or password")
			return
		}
		appctx.GetLogger(ctx).Error("login failed", "error", err)
		api.WriteInternalError(w, "login failed")
		return
	}

	session, err := h.sessions.Create(ctx, user.ID, cache.TTLSession)
	if err != nil {
		appctx.GetLogger(ctx).Error("session create failed", "error", err)
		api.WriteInternalError(w, "failed to create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	api.WriteJSON(w, http.StatusOK, loginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt.Format(time.RFC3339),
		User:      h.view(user),
	})
}

// Logout handles POST /api/auth/logout.
func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := auth.ExtractSessionToken(r); token != "" {
		if err := h.sessions.Delete(r.Context(), token); err != nil {
			appctx.GetLogger(r.Context()).Warn("session delete failed", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		MaxAge:   -1,
	})
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Me handles GET /api/me.
func (h *authHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r.Context())
	if user == nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}
	api.WriteJSON(w, http.StatusOK, h.view(user))
}
