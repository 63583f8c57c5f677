// Package service is the registry of HTTP services mounted by the server.
// Each service package registers a constructor from init and is built
// from its [http.services.<name>] table.
package service

import (
	"log/slog"
	"net/http"
)

// Service is one mountable group of routes under /<Prefix>.
type Service interface {
	Handler() http.Handler
	// Prefix is the first path segment. Empty mounts at the root.
	Prefix() string
	// Unprotected lists paths, relative to Prefix, that skip the session gate.
	Unprotected() []string
	Close() error
}

// NewService builds a Service from its decoded config table.
type NewService func(conf map[string]any, log *slog.Logger) (Service, error)
