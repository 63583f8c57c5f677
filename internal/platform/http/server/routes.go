package server

import (
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MahdiBaghbani/collabmesh-go/internal/frameworks/service"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/deps"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/http/auth"
	httpmw "github.com/MahdiBaghbani/collabmesh-go/internal/platform/http/middleware"
)

// RouteGroup defines an endpoint group with its auth requirements.
type RouteGroup struct {
	Name         string
	PathPrefix   string
	RequiresAuth bool
	AtHostRoot   bool // true for endpoints that must be at host root, not under base path
}

// routeGroups is the single source of truth for auth gating. Services
// carve public paths out of an authenticated group via Unprotected().
var routeGroups = []RouteGroup{
	{Name: "well-known", PathPrefix: "/.well-known", RequiresAuth: false, AtHostRoot: true},

	{Name: "ocm", PathPrefix: "/ocm", RequiresAuth: false},
	{Name: "registry", PathPrefix: "/mesh-registry", RequiresAuth: true},
	{Name: "api", PathPrefix: "/api", RequiresAuth: true},
}

// mountOrder fixes the order services are mounted and, reversed, closed.
var mountOrder = []string{"wellknown", "ocm", "registry", "api"}

// rootServices are mounted at the host root, never under external_base_path.
var rootServices = map[string]bool{"wellknown": true}

// GetRouteGroups returns the route group definitions for testing.
func GetRouteGroups() []RouteGroup {
	return routeGroups
}

// IsAuthRequired reports whether path needs a session. Unknown paths do.
func IsAuthRequired(path string, basePath string, mounted []mountedService) bool {
	for _, rg := range routeGroups {
		if rg.AtHostRoot && pathMatchesPrefix(path, rg.PathPrefix) {
			return rg.RequiresAuth
		}
	}

	for _, m := range mounted {
		svcBase := ""
		if !m.atRoot {
			svcBase = basePath
		}
		if prefix := m.svc.Prefix(); prefix != "" {
			svcBase += "/" + prefix
		}
		for _, unprotected := range m.svc.Unprotected() {
			if pathMatchesPrefix(path, svcBase+unprotected) {
				return false
			}
		}
	}

	for _, rg := range routeGroups {
		if !rg.AtHostRoot && pathMatchesPrefix(path, basePath+rg.PathPrefix) {
			return rg.RequiresAuth
		}
	}

	return true
}

type mountedService struct {
	svc    service.Service
	atRoot bool
}

// mountService mounts a service and tracks it for lifecycle management.
func (s *Server) mountService(r chi.Router, svc service.Service, atRoot bool) {
	if svc == nil {
		return
	}

	if prefix := svc.Prefix(); prefix == "" {
		r.Mount("/", svc.Handler())
	} else {
		r.Mount("/"+prefix, svc.Handler())
	}

	s.mountedServices = append(s.mountedServices, mountedService{svc: svc, atRoot: atRoot})
}

// pathMatchesPrefix checks if path equals or is a subpath of prefix.
func pathMatchesPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix) && path[len(prefix)] == '/'
}

// setupRoutes creates the chi router with all services mounted.
func (s *Server) setupRoutes(d *deps.Deps) chi.Router {
	r := chi.NewRouter()

	// RequestID -> request-scoped logger -> access log -> recoverer -> auth gate
	r.Use(chimw.RequestID)
	r.Use(httpmw.RequestLogger(s.logger, d.RealIP))
	r.Use(httpmw.AccessLog(s.logger))
	r.Use(chimw.Recoverer)

	// The closure reads mountedServices at request time, after mounting.
	requireAuth := func(path string) bool {
		return IsAuthRequired(path, s.cfg.ExternalBasePath, s.mountedServices)
	}
	r.Use(auth.NewAuthGate(auth.AuthGateConfig{
		RequireAuth: requireAuth,
		Log:         s.logger,
		SessionRepo: d.SessionRepo,
		PartyRepo:   d.PartyRepo,
	}))

	var app []service.Service
	for _, name := range mountOrder {
		svc := s.services[name]
		if rootServices[name] {
			s.mountService(r, svc, true)
			continue
		}
		app = append(app, svc)
	}

	mountApp := func(r chi.Router) {
		for _, svc := range app {
			s.mountService(r, svc, false)
		}
	}
	if s.cfg.ExternalBasePath != "" {
		r.Route(s.cfg.ExternalBasePath, mountApp)
	} else {
		mountApp(r)
	}

	return r
}
