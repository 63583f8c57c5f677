// Package middleware provides always-on transport middleware for HTTP servers.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/appctx"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/http/realip"
)

// RequestLogger attaches a request-scoped logger carrying request_id,
// method, path and client_ip. It must run after chi's RequestID.
func RequestLogger(base *slog.Logger, tp *realip.TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := chimw.GetReqID(r.Context())
			reqLogger := base.With(
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", tp.ClientIPString(r),
			)

			ctx := appctx.WithRequestID(r.Context(), reqID)
			ctx = appctx.WithLogger(ctx, reqLogger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessLog writes one "request" record per request with status, bytes and
// duration_ms. Server errors are logged at warn. It uses the logger set by
// RequestLogger and falls back to base.
func AccessLog(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger, ok := appctx.LoggerFromContext(r.Context())
				if !ok {
					logger = base.With("method", r.Method, "path", r.URL.Path)
				}
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				level := slog.LevelInfo
				if status >= http.StatusInternalServerError {
					level = slog.LevelWarn
				}
				logger.Log(r.Context(), level, "request",
					"status", status,
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
