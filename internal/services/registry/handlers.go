package registry

import (
	"log/slog"
	"net/http"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/api"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/apperr"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/directory"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/federation"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/ui"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/appctx"
)

// CodeEndpointMissing is returned when an admin request names no provider.
const CodeEndpointMissing = "MESH_REGISTRY_ENDPOINT_MISSING"

type handler struct {
	dir       *directory.Directory
	onboarder *directory.Onboarder
	coord     *federation.Coordinator
	pages     *ui.Pages
	log       *slog.Logger
}

// Self handles GET /mesh-registry/provider.
func (h *handler) Self(w http.ResponseWriter, r *http.Request) {
	self, err := h.dir.Self(r.Context())
	if err != nil {
		api.WriteAppError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, directory.SelfDescription{
		UUID:     self.UUID,
		Domain:   self.Domain,
		Name:     self.Name,
		Endpoint: self.Endpoint,
	})
}

// Services handles GET /mesh-registry/provider/services.
func (h *handler) Services(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, directory.ServiceList{Services: directory.Services})
}

// List handles GET /mesh-registry/providers.
func (h *handler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.dir.All(r.Context())
	if err != nil {
		api.WriteAppError(w, r, err)
		return
	}
	if all == nil {
		all = []directory.Provider{}
	}
	api.WriteJSON(w, http.StatusOK, all)
}

// ForwardInvite handles GET /mesh-registry/forward-invite, the target of
// invite links. Browsers are sent on to the chooser or shown an error page.
func (h *handler) ForwardInvite(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target, err := h.coord.ForwardInvite(r.Context(), q.Get("token"), federation.ProviderKey(q))
	if err != nil {
		h.errorPage(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// WAYF handles GET /mesh-registry/wayf.
func (h *handler) WAYF(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	wayf, err := h.coord.WAYF(r.Context(), q.Get("token"), federation.ProviderKey(q))
	if err != nil {
		h.errorPage(w, r, err)
		return
	}
	h.pages.WAYF(w, wayf)
}

func (h *handler) errorPage(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.As(err)
	status, _ := api.StatusFor(e.Kind)
	msg := e.Message
	if e.Kind == apperr.KindPersistence || e.Kind == apperr.KindUnknown {
		appctx.GetLogger(r.Context()).Error("forward invite failed", "error_code", e.Code, "error", err)
		msg = "Something went wrong. Please try again later."
	}
	h.pages.Error(w, status, e.Code, msg)
}

type onboardRequest struct {
	Endpoint string `json:"endpoint" validate:"required"`
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	UUID     string `json:"uuid"`
}

// Onboard handles POST /mesh-registry/providers.
func (h *handler) Onboard(w http.ResponseWriter, r *http.Request) {
	var req onboardRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteAppError(w, r, err)
		return
	}
	p, err := h.onboarder.Onboard(r.Context(), directory.OnboardRequest{
		Endpoint: req.Endpoint,
		Name:     req.Name,
		Domain:   req.Domain,
		UUID:     req.UUID,
	})
	if err != nil {
		api.WriteAppError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, p)
}

type updateRequest struct {
	Endpoint string  `json:"endpoint" validate:"required"`
	Name     *string `json:"name"`
	Domain   *string `json:"domain"`
	UUID     *string `json:"uuid"`
}

// Update handles PUT /mesh-registry/providers.
func (h *handler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteAppError(w, r, err)
		return
	}
	p, err := h.dir.Update(r.Context(), req.Endpoint, directory.ProviderUpdate{
		Name:   req.Name,
		Domain: req.Domain,
		UUID:   req.UUID,
	})
	if err != nil {
		api.WriteAppError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, p)
}

// Delete handles DELETE /mesh-registry/providers?endpoint=.
func (h *handler) Delete(w http.ResponseWriter, r *http.Request) {
	ep := r.URL.Query().Get("endpoint")
	if ep == "" {
		api.WriteAppError(w, r, apperr.Validation(CodeEndpointMissing, "endpoint query parameter is required"))
		return
	}
	p, err := h.dir.Delete(r.Context(), ep)
	if err != nil {
		api.WriteAppError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, p)
}
