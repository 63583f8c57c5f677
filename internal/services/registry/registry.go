// Package registry serves the provider directory at /mesh-registry: the
// public self-description, provider list and invite forwarding pages, and
// the admin endpoints that onboard peers.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/ui"
	"github.com/MahdiBaghbani/collabmesh-go/internal/frameworks/service"
	svccfg "github.com/MahdiBaghbani/collabmesh-go/internal/frameworks/service/cfg"
	"github.com/MahdiBaghbani/collabmesh-go/internal/frameworks/service/httpwrap"
	"github.com/MahdiBaghbani/collabmesh-go/internal/interceptors"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/deps"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/http/auth"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/logutil"
)

func init() {
	service.MustRegister("registry", New)
}

// Config holds registry service configuration.
type Config struct {
	Ratelimit struct {
		Profile string `mapstructure:"profile"`
	} `mapstructure:"ratelimit"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {}

// Service is the registry service.
type Service struct {
	router chi.Router
}

// New creates the registry service. Implements service.NewService.
func New(m map[string]any, log *slog.Logger) (service.Service, error) {
	log = logutil.ForComponent(log, "registry")

	var c Config
	unused, err := svccfg.DecodeWithUnused(m, &c)
	if err != nil {
		return nil, err
	}
	if len(unused) > 0 {
		log.Warn("unused config keys", "service", "registry", "unused_keys", unused)
	}

	d := deps.GetDeps()
	if d == nil || d.Directory == nil || d.Coordinator == nil {
		return nil, errors.New("shared deps not initialized: call deps.SetDeps() before New()")
	}

	limit, err := interceptors.BuildOrDefault(d.Config.HTTP.Interceptors, "ratelimit", c.Ratelimit.Profile, "registry", log)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	pages, err := ui.New(d.Config.Instance.Name)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	h := &handler{
		dir:       d.Directory,
		onboarder: d.Onboarder,
		coord:     d.Coordinator,
		pages:     pages,
		log:       log,
	}

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(limit)
		r.Get("/provider", h.Self)
		r.Get("/provider/services", h.Services)
		r.Get("/providers", h.List)
		r.Get("/forward-invite", h.ForwardInvite)
		r.Get("/wayf", h.WAYF)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAdmin)
		r.Post("/providers", h.Onboard)
		r.Put("/providers", h.Update)
		r.Delete("/providers", h.Delete)
	})

	return &Service{router: r}, nil
}

// Handler returns the service's HTTP handler with RawPath clearing.
func (s *Service) Handler() http.Handler {
	return httpwrap.ClearRawPath(s.router)
}

// Prefix returns the URL prefix for this service.
func (s *Service) Prefix() string {
	return "mesh-registry"
}

// Unprotected returns paths that don't require session authentication.
// Writes to /providers are guarded per method by RequireAdmin.
func (s *Service) Unprotected() []string {
	return []string{"/provider", "/provider/services", "/providers", "/forward-invite", "/wayf"}
}

// Close releases any resources held by the service.
func (s *Service) Close() error {
	return nil
}
