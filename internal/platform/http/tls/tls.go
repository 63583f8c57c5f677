// Package tls builds server TLS configurations for the off, static,
// selfsigned and acme modes, and the root pool used for outbound calls.
package tls

import (
	cryptotls "crypto/tls"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/config"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/logutil"
)

var (
	ErrInvalidTLSMode = errors.New("invalid TLS mode")
	ErrMissingCert    = errors.New("missing certificate or key file")

	// ErrACMEManaged is returned by ServerConfig for acme mode; the server
	// drives an ACME instance itself because it also owns the challenge
	// listener.
	ErrACMEManaged = errors.New("acme mode is served through ACME")
)

// DefaultSelfSignedDir holds generated certificates when tls.self_signed_dir
// is unset.
const DefaultSelfSignedDir = ".collabmesh/certs"

// ServerConfig returns the listener TLS config for cfg.Mode. It returns nil
// for "off". hostname is the name a selfsigned certificate must cover.
func ServerConfig(cfg *config.TLSConfig, hostname string, log *slog.Logger) (*cryptotls.Config, error) {
	log = logutil.NoopIfNil(log)

	switch cfg.Mode {
	case "off":
		return nil, nil

	case "static":
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, ErrMissingCert
		}
		cert, err := cryptotls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load certificate: %w", err)
		}
		log.Info("loaded static TLS certificate", "cert_file", cfg.CertFile)
		return withCertificate(cert), nil

	case "selfsigned":
		dir := cfg.SelfSignedDir
		if dir == "" {
			dir = DefaultSelfSignedDir
		}
		cert, err := (&SelfSigned{Dir: dir, Hostname: hostname}).Certificate(log)
		if err != nil {
			return nil, err
		}
		return withCertificate(cert), nil

	case "acme":
		return nil, ErrACMEManaged

	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidTLSMode, cfg.Mode)
	}
}

func withCertificate(cert cryptotls.Certificate) *cryptotls.Config {
	return &cryptotls.Config{
		Certificates: []cryptotls.Certificate{cert},
		MinVersion:   cryptotls.VersionTLS12,
	}
}
