package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck probes one backing dependency.
type HealthCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthResponse is the body of GET /api/healthz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health runs every check in parallel and answers 200 when all pass,
// 503 otherwise. Failure details stay in the logs of the caller.
func Health(checks ...HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		var mu sync.Mutex
		resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		g, gctx := errgroup.WithContext(ctx)
		for _, c := range checks {
			g.Go(func() error {
				state := "ok"
				if err := c.Probe(gctx); err != nil {
					state = "unavailable"
				}
				mu.Lock()
				resp.Checks[c.Name] = state
				if state != "ok" {
					resp.Status = "degraded"
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		WriteJSON(w, status, resp)
	}
}
