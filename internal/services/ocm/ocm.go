// Package ocm provides the federation endpoints peers call, mounted at /ocm.
package ocm

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/api"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/federation"
	"github.com/MahdiBaghbani/collabmesh-go/internal/frameworks/service"
	svccfg "github.com/MahdiBaghbani/collabmesh-go/internal/frameworks/service/cfg"
	"github.com/MahdiBaghbani/collabmesh-go/internal/frameworks/service/httpwrap"
	"github.com/MahdiBaghbani/collabmesh-go/internal/interceptors"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/appctx"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/deps"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/logutil"
)

func init() {
	service.MustRegister("ocm", New)
}

// Config holds OCM service configuration.
type Config struct {
	Ratelimit RatelimitConfig `mapstructure:"ratelimit"`
}

// RatelimitConfig selects a profile from [http.interceptors.ratelimit.profiles].
// Without one the interceptor defaults apply.
type RatelimitConfig struct {
	Profile string `mapstructure:"profile"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {}

// Service is the OCM protocol service.
type Service struct {
	router chi.Router
	log    *slog.Logger
}

// New creates the OCM service. Implements service.NewService.
func New(m map[string]any, log *slog.Logger) (service.Service, error) {
	log = logutil.ForComponent(log, "ocm")

	var c Config
	unused, err := svccfg.DecodeWithUnused(m, &c)
	if err != nil {
		return nil, err
	}
	if len(unused) > 0 {
		log.Warn("unused config keys", "service", "ocm", "unused_keys", unused)
	}

	d := deps.GetDeps()
	if d == nil || d.Coordinator == nil {
		return nil, errors.New("shared deps not initialized: call deps.SetDeps() before New()")
	}

	limit, err := interceptors.BuildOrDefault(d.Config.HTTP.Interceptors, "ratelimit", c.Ratelimit.Profile, "ocm", log)
	if err != nil {
		return nil, fmt.Errorf("ocm: %w", err)
	}

	h := &inviteAcceptedHandler{coord: d.Coordinator}

	r := chi.NewRouter()
	r.Use(limit)
	r.Post("/invite-accepted", h.ServeHTTP)

	return &Service{router: r, log: log}, nil
}

type inviteAcceptedHandler struct {
	coord *federation.Coordinator
}

// ServeHTTP handles POST /ocm/invite-accepted.
func (h *inviteAcceptedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req federation.InviteAcceptedRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteAppError(w, r, err)
		return
	}

	resp, err := h.coord.InviteAccepted(r.Context(), req)
	if err != nil {
		appctx.GetLogger(r.Context()).Info("invite-accepted refused",
			"recipient_provider", req.RecipientProvider, "error", err)
		api.WriteAppError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// Handler returns the service's HTTP handler with RawPath clearing.
func (s *Service) Handler() http.Handler {
	return httpwrap.ClearRawPath(s.router)
}

// Prefix returns the URL prefix for this service.
func (s *Service) Prefix() string {
	return "ocm"
}

// Unprotected returns paths that don't require session authentication.
// Peers authenticate by presenting a token they were given.
func (s *Service) Unprotected() []string {
	return []string{"/invite-accepted"}
}

// Close releases any resources held by the service.
func (s *Service) Close() error {
	return nil
}
