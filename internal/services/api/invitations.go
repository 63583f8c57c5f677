package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/api"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/federation"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/invitations"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/notify"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/http/auth"
)

// HeaderInviteLink carries the shareable link of a created invitation.
const HeaderInviteLink = "InviteLink"

type invitationsHandler struct {
	coord   *federation.Coordinator
	baseURL string
}

type listResponse struct {
	Invitations []invitations.Invitation `json:"invitations"`
}

type notificationsResponse struct {
	Notifications []notify.Notification `json:"notifications"`
}

// Create handles POST /api/invitations.
func (h *invitationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req federation.CreateRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteAppError(w, r, err)
		return
	}

	inv, link, err := h.coord.CreateInvite(r.Context(), auth.GetUserFromContext(r.Context()), req)
	if err != nil {
		api.WriteAppError(w, r, err)
		return
	}

	w.Header().Set("Location", h.baseURL+"/api/invitations/"+url.PathEscape(inv.Token))
	w.Header().Set(HeaderInviteLink, link)
	api.WriteJSON(w, http.StatusCreated, inv)
}

// List handles GET /api/invitations?status=open|accepted.
// Statuses may also be comma separated or repeated.
func (h *invitationsHandler) List(w http.ResponseWriter, r *http.Request) {
	statuses := lo.FlatMap(r.URL.Query()["status"], func(v string, _ int) []string {
		return strings.FieldsFunc(v, func(c rune) bool { return c == '|' || c == ',' })
	})

	list, err := h.coord.ListInvites(r.Context(), auth.GetUserFromContext(r.Context()), statuses)
	if err != nil {
		api.WriteAppError(w, r, err)
		return
	}
	if list == nil {
		list = []invitations.Invitation{}
	}
	api.WriteJSON(w, http.StatusOK, listResponse{Invitations: list})
}

// Get handles GET /api/invitations/{token}.
func (h *invitationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	inv, err := h.coord.GetInvite(r.Context(), auth.GetUserFromContext(r.Context()), chi.URLParam(r, "token"))
	if err != nil {
		api.WriteAppError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, inv)
}

// Update handles PATCH and PUT /api/invitations/{token}.
func (h *invitationsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req federation.UpdateRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteAppError(w, r, err)
		return
	}
	inv, err := h.coord.UpdateInvite(r.Context(), auth.GetUserFromContext(r.Context()), chi.URLParam(r, "token"), req)
	if err != nil {
		api.WriteAppError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, inv)
}

// Handle handles GET /api/invitations/handle?token=&providerDomain=, the
// landing point the WAYF chooser sends an invitee to.
func (h *invitationsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	inv, err := h.coord.ReceiveInvite(r.Context(), auth.GetUserFromContext(r.Context()), q.Get("token"), federation.ProviderKey(q))
	if err != nil {
		api.WriteAppError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, inv)
}

// Accept handles POST /api/invitations/{token}/accept.
func (h *invitationsHandler) Accept(w http.ResponseWriter, r *http.Request) {
	inv, err := h.coord.AcceptInvite(r.Context(), auth.GetUserFromContext(r.Context()), chi.URLParam(r, "token"))
	if err != nil {
		api.WriteAppError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, inv)
}

// Notifications handles GET /api/notifications.
func (h *invitationsHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.coord.Notifications(r.Context(), auth.GetUserFromContext(r.Context()))
	if err != nil {
		api.WriteAppError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, notificationsResponse{Notifications: list})
}

// DismissNotification handles DELETE /api/notifications/{token}.
func (h *invitationsHandler) DismissNotification(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.DismissNotification(r.Context(), auth.GetUserFromContext(r.Context()), chi.URLParam(r, "token")); err != nil {
		api.WriteAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
