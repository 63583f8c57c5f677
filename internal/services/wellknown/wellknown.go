// Package wellknown serves the /.well-known/ocm discovery document.
package wellknown

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MahdiBaghbani/collabmesh-go/internal/frameworks/service"
	svccfg "github.com/MahdiBaghbani/collabmesh-go/internal/frameworks/service/cfg"
	"github.com/MahdiBaghbani/collabmesh-go/internal/frameworks/service/httpwrap"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/deps"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/logutil"
)

func init() {
	service.MustRegister("wellknown", New)
}

// Config holds wellknown service configuration.
type Config struct {
	// Provider is the friendly name advertised. Defaults to instance.name.
	Provider string `mapstructure:"provider"`

	// APIVersion is the advertised protocol version.
	APIVersion string `mapstructure:"api_version"`

	// InviteAcceptDialog overrides the absolute URL of the accept dialog.
	InviteAcceptDialog string `mapstructure:"invite_accept_dialog"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.APIVersion == "" {
		c.APIVersion = "1.2.0"
	}
}

type svc struct {
	router chi.Router
}

// New creates a new wellknown service. Implements service.NewService.
func New(m map[string]any, log *slog.Logger) (service.Service, error) {
	log = logutil.ForComponent(log, "wellknown")

	var c Config
	unused, err := svccfg.DecodeWithUnused(m, &c)
	if err != nil {
		return nil, err
	}
	if len(unused) > 0 {
		log.Warn("unused config keys", "service", "wellknown", "unused_keys", unused)
	}

	d := deps.GetDeps()
	if d == nil || d.Config == nil {
		return nil, errors.New("shared deps not initialized: call deps.SetDeps() before New()")
	}

	h := newDiscoveryHandler(&c, d.Config)

	r := chi.NewRouter()
	r.Get("/ocm", h.ServeHTTP)
	r.Get("/ocm/", h.ServeHTTP)
	return &svc{router: r}, nil
}

// Close implements service.Service.
func (s *svc) Close() error { return nil }

// Prefix implements service.Service. Mounted at the host root.
func (s *svc) Prefix() string { return ".well-known" }

// Unprotected implements service.Service.
func (s *svc) Unprotected() []string { return []string{"/ocm"} }

// Handler implements service.Service.
func (s *svc) Handler() http.Handler { return httpwrap.ClearRawPath(s.router) }
