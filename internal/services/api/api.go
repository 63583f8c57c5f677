// Package api provides the /api/* endpoints used by local users.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/api"
	"github.com/MahdiBaghbani/collabmesh-go/internal/frameworks/service"
	svccfg "github.com/MahdiBaghbani/collabmesh-go/internal/frameworks/service/cfg"
	"github.com/MahdiBaghbani/collabmesh-go/internal/frameworks/service/httpwrap"
	"github.com/MahdiBaghbani/collabmesh-go/internal/interceptors"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/deps"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/logutil"
)

func init() {
	service.MustRegister("api", New)
}

// Config holds api service configuration.
type Config struct {
	// Ratelimit holds rate limiting configuration for this service.
	Ratelimit RatelimitConfig `mapstructure:"ratelimit"`
}

// RatelimitConfig holds the per-service rate limiting opt-in.
type RatelimitConfig struct {
	// Profile is the name of the ratelimit profile to use from
	// [http.interceptors.ratelimit.profiles.<name>]. It guards /auth/login.
	Profile string `mapstructure:"profile"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {}

// Service is the API service.
type Service struct {
	router chi.Router
	conf   *Config
	log    *slog.Logger
}

// New creates a new API service.
func New(m map[string]any, log *slog.Logger) (service.Service, error) {
	log = logutil.ForComponent(log, "api")

	var c Config
	unused, err := svccfg.DecodeWithUnused(m, &c)
	if err != nil {
		return nil, err
	}
	if len(unused) > 0 {
		log.Warn("unused config keys", "service", "api", "unused_keys", unused)
	}

	d := deps.GetDeps()
	if d == nil || d.Coordinator == nil {
		return nil, errors.New("shared deps not initialized")
	}

	authHandler := newAuthHandler(d.PartyRepo, d.SessionRepo, d.UserAuth, d.Config.ProviderDomain())
	invites := &invitationsHandler{
		coord:   d.Coordinator,
		baseURL: d.Config.AppBaseURL(),
	}

	loginMiddleware := interceptors.Middleware(interceptors.Identity)
	if c.Ratelimit.Profile != "" {
		loginMiddleware, err = interceptors.Build(d.Config.HTTP.Interceptors, "ratelimit", c.Ratelimit.Profile, log)
		if err != nil {
			return nil, fmt.Errorf("api: %w", err)
		}
	}

	r := chi.NewRouter()

	r.Get("/healthz", api.Health(healthChecks(d)...))

	r.Route("/auth", func(r chi.Router) {
		r.With(loginMiddleware).Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
	})
	r.Get("/me", authHandler.Me)

	r.Route("/invitations", func(r chi.Router) {
		r.Post("/", invites.Create)
		r.Get("/", invites.List)
		r.Get("/handle", invites.Handle)
		r.Get("/{token}", invites.Get)
		r.Patch("/{token}", invites.Update)
		r.Put("/{token}", invites.Update)
		r.Post("/{token}/accept", invites.Accept)
	})

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", invites.Notifications)
		r.Delete("/{token}", invites.DismissNotification)
	})

	return &Service{router: r, conf: &c, log: log}, nil
}

// Handler returns the service's HTTP handler with RawPath clearing.
func (s *Service) Handler() http.Handler {
	return httpwrap.ClearRawPath(s.router)
}

// Prefix returns the URL prefix for this service.
func (s *Service) Prefix() string {
	return "api"
}

// Unprotected returns paths that don't require session authentication.
func (s *Service) Unprotected() []string {
	return []string{"/healthz", "/auth/login"}
}

// Close releases any resources held by the service.
func (s *Service) Close() error {
	return nil
}

func healthChecks(d *deps.Deps) []api.HealthCheck {
	var checks []api.HealthCheck
	if d.DB != nil {
		checks = append(checks, api.HealthCheck{Name: "store", Probe: func(ctx context.Context) error {
			sqlDB, err := d.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}})
	}
	if d.Cache != nil {
		checks = append(checks, api.HealthCheck{Name: "cache", Probe: func(ctx context.Context) error {
			_, err := d.Cache.Exists(ctx, "healthz")
			return err
		}})
	}
	return checks
}
