// Package server wires the chi router, mounts services and runs the
// listeners for every TLS mode.
package server

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MahdiBaghbani/collabmesh-go/internal/frameworks/service"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/config"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/deps"
	tlspkg "github.com/MahdiBaghbani/collabmesh-go/internal/platform/http/tls"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/instanceid"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/logutil"
)

var ErrMissingSharedDeps = errors.New("shared deps not initialized: call deps.SetDeps() before server.New()")

// Server owns the application listener, the ACME challenge listener when
// one is needed, and the mounted services.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	logger     *slog.Logger
	services   map[string]service.Service

	// challengeServer answers HTTP-01 challenges and redirects everything
	// else to HTTPS. Only set in acme mode.
	challengeServer *http.Server

	rootCAs *x509.CertPool

	// Closed in reverse order on shutdown.
	mountedServices []mountedService
}

// New builds the router from the shared deps and the given services. Nil
// entries in services are skipped.
func New(cfg *config.Config, logger *slog.Logger, services map[string]service.Service) (*Server, error) {
	logger = logutil.NoopIfNil(logger)

	d := deps.GetDeps()
	if d == nil {
		return nil, ErrMissingSharedDeps
	}

	s := &Server{cfg: cfg, logger: logger, services: services}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.setupRoutes(d),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// SetRootCAPool sets the roots used to reach the ACME directory.
func (s *Server) SetRootCAPool(pool *x509.CertPool) {
	s.rootCAs = pool
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting server",
		"addr", s.cfg.ListenAddr,
		"public_origin", s.cfg.PublicOrigin,
		"external_base_path", s.cfg.ExternalBasePath,
		"tls_mode", s.cfg.TLS.Mode,
	)

	if s.cfg.TLS.Mode == "acme" {
		return s.startACME()
	}

	hostname, err := instanceid.Hostname(s.cfg.PublicOrigin)
	if err != nil && s.cfg.TLS.Mode != "off" {
		return fmt.Errorf("derive TLS hostname: %w", err)
	}
	tlsConfig, err := tlspkg.ServerConfig(&s.cfg.TLS, hostname, s.logger)
	if err != nil {
		return fmt.Errorf("configure TLS: %w", err)
	}
	if tlsConfig == nil {
		return s.httpServer.ListenAndServe()
	}
	s.httpServer.TLSConfig = tlsConfig
	return s.httpServer.ListenAndServeTLS("", "")
}

// acmeAddrs derives both listener addresses. The port in listen_addr is
// ignored; tls.http_port and tls.https_port decide.
func acmeAddrs(cfg *config.Config) (httpAddr, httpsAddr string, err error) {
	if cfg.TLS.HTTPPort == 0 {
		return "", "", errors.New("tls.http_port must be set for ACME mode")
	}
	if cfg.TLS.HTTPSPort == 0 {
		return "", "", errors.New("tls.https_port must be set for ACME mode")
	}

	if u, perr := url.Parse(cfg.PublicOrigin); perr == nil {
		if p := u.Port(); p != "" && p != strconv.Itoa(cfg.TLS.HTTPSPort) {
			return "", "", fmt.Errorf("public_origin port %s does not match tls.https_port %d", p, cfg.TLS.HTTPSPort)
		}
	}

	host, _, splitErr := net.SplitHostPort(cfg.ListenAddr)
	if splitErr != nil {
		host = cfg.ListenAddr
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.TLS.HTTPPort)),
		net.JoinHostPort(host, strconv.Itoa(cfg.TLS.HTTPSPort)), nil
}

// startACME binds the challenge listener first so HTTP-01 validation can
// reach it, obtains the certificate, then serves HTTPS. Either listener
// failing stops the other.
func (s *Server) startACME() error {
	httpAddr, httpsAddr, err := acmeAddrs(s.cfg)
	if err != nil {
		return err
	}

	acme := tlspkg.NewACME(&s.cfg.TLS.ACME, s.logger, s.rootCAs)

	mux := http.NewServeMux()
	mux.Handle(tlspkg.ChallengePrefix, acme.ChallengeHandler())
	mux.Handle("/", newHTTPSRedirectHandler(s.cfg.TLS.HTTPSPort))
	s.challengeServer = &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	challengeLn, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return fmt.Errorf("challenge listener on %s: %w", httpAddr, err)
	}

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		return s.challengeServer.Serve(challengeLn)
	})
	g.Go(func() error {
		if err := acme.Obtain(ctx); err != nil {
			return fmt.Errorf("ACME: %w", err)
		}
		s.httpServer.Addr = httpsAddr
		s.httpServer.TLSConfig = acme.ServerConfig()
		ln, err := net.Listen("tcp", httpsAddr)
		if err != nil {
			return fmt.Errorf("https listener on %s: %w", httpsAddr, err)
		}
		s.logger.Info("serving ACME certificate",
			"http_addr", httpAddr,
			"https_addr", httpsAddr,
			"domain", s.cfg.TLS.ACME.Domain,
		)
		return s.httpServer.ServeTLS(ln, "", "")
	})
	g.Go(func() error {
		// Whichever side stops first takes the other down with it.
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.challengeServer.Shutdown(stopCtx)
		_ = s.httpServer.Shutdown(stopCtx)
		return nil
	})
	return g.Wait()
}

// newHTTPSRedirectHandler answers 308 with the https URL of the request.
func newHTTPSRedirectHandler(httpsPort int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if httpsPort != 443 {
			host = net.JoinHostPort(host, strconv.Itoa(httpsPort))
		} else if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
			host = "[" + host + "]"
		}
		target := url.URL{Scheme: "https", Host: host, Path: r.URL.Path, RawPath: r.URL.RawPath, RawQuery: r.URL.RawQuery}
		http.Redirect(w, r, target.String(), http.StatusPermanentRedirect)
	})
}

// Shutdown stops the listeners, then closes services in reverse mount
// order. Close errors are logged and do not stop the remaining services.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var challengeErr error
	if s.challengeServer != nil {
		challengeErr = s.challengeServer.Shutdown(ctx)
	}
	httpErr := s.httpServer.Shutdown(ctx)

	for i := len(s.mountedServices) - 1; i >= 0; i-- {
		svc := s.mountedServices[i].svc
		name := svc.Prefix()
		if name == "" {
			name = "(root)"
		}
		if err := svc.Close(); err != nil {
			s.logger.Warn("service close error", "service", name, "error", err)
			continue
		}
		s.logger.Debug("service closed", "service", name)
	}

	return errors.Join(challengeErr, httpErr)
}
