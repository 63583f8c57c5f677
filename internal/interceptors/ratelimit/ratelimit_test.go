package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/MahdiBaghbani/collabmesh-go/internal/interceptors"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/cache/memory"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/deps"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/http/realip"
)

var testLog = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

type brokenCounter struct{}

func (brokenCounter) Increment(context.Context, string, int64, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("counter offline")
}
func (brokenCounter) GetCount(context.Context, string) (int64, error) { return 0, nil }
func (brokenCounter) Reset(context.Context, string) error             { return nil }

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func newTestLimiter(t *testing.T, c Config, proxies *realip.TrustedProxies) *limiter {
	t.Helper()
	c.ApplyDefaults()
	mem := memory.New(time.Hour, 0)
	t.Cleanup(func() { mem.Close() })
	return newLimiter(c, mem, proxies, testLog)
}

func hit(h http.Handler, remoteAddr string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = remoteAddr
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRegistered(t *testing.T) {
	if _, found := interceptors.Get("ratelimit"); !found {
		t.Fatal("ratelimit should register itself")
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.ApplyDefaults()
	if c.RequestsPerWindow != 100 || c.Profile != "default" {
		t.Errorf("defaults = %+v", c)
	}
	if c.Window() != time.Minute {
		t.Errorf("Window() = %v, want 1m", c.Window())
	}
}

func TestLimitWithinWindow(t *testing.T) {
	tests := []struct {
		name     string
		limit    int64
		requests int
		wantLast int
		wantLeft string
	}{
		{"under limit", 3, 2, http.StatusNoContent, "1"},
		{"at limit", 3, 3, http.StatusNoContent, "0"},
		{"over limit", 3, 4, http.StatusTooManyRequests, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestLimiter(t, Config{RequestsPerWindow: tt.limit, WindowSeconds: 60}, nil).wrap(ok)

			var rec *httptest.ResponseRecorder
			for range tt.requests {
				rec = hit(h, "192.0.2.10:4000")
			}
			if rec.Code != tt.wantLast {
				t.Fatalf("last status = %d, want %d", rec.Code, tt.wantLast)
			}
			if got := rec.Header().Get(headerRemaining); got != tt.wantLeft {
				t.Errorf("%s = %q, want %q", headerRemaining, got, tt.wantLeft)
			}
			if got := rec.Header().Get(headerLimit); got != strconv.FormatInt(tt.limit, 10) {
				t.Errorf("%s = %q", headerLimit, got)
			}
			if rec.Header().Get(headerReset) == "" {
				t.Errorf("%s missing", headerReset)
			}
		})
	}
}

func TestRetryAfterOnRejection(t *testing.T) {
	l := newTestLimiter(t, Config{RequestsPerWindow: 1, WindowSeconds: 60}, nil)
	h := l.wrap(ok)

	hit(h, "192.0.2.10:4000")
	rec := hit(h, "192.0.2.10:4000")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	secs, err := strconv.Atoi(rec.Header().Get(headerRetryAfter))
	if err != nil || secs < 1 || secs > 60 {
		t.Errorf("Retry-After = %q", rec.Header().Get(headerRetryAfter))
	}

	// A clock past the reset still advertises at least one second.
	l.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	rec = hit(h, "192.0.2.10:4000")
	if got := rec.Header().Get(headerRetryAfter); got != "1" {
		t.Errorf("Retry-After past reset = %q, want 1", got)
	}
}

func TestClientsCountedSeparately(t *testing.T) {
	h := newTestLimiter(t, Config{RequestsPerWindow: 1, WindowSeconds: 60}, nil).wrap(ok)

	if rec := hit(h, "192.0.2.10:4000"); rec.Code != http.StatusNoContent {
		t.Fatalf("first client: %d", rec.Code)
	}
	if rec := hit(h, "192.0.2.11:4000"); rec.Code != http.StatusNoContent {
		t.Fatalf("second client: %d", rec.Code)
	}
	if rec := hit(h, "192.0.2.10:5000"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("first client again, new port: %d", rec.Code)
	}
}

func TestForwardedClientBehindTrustedProxy(t *testing.T) {
	proxies := realip.NewTrustedProxies([]string{"10.0.0.0/8"})
	h := newTestLimiter(t, Config{RequestsPerWindow: 1, WindowSeconds: 60}, proxies).wrap(ok)

	hit(h, "10.0.0.1:80", "X-Forwarded-For", "198.51.100.7")
	if rec := hit(h, "10.0.0.1:80", "X-Forwarded-For", "198.51.100.8"); rec.Code != http.StatusNoContent {
		t.Errorf("distinct forwarded clients share a window: %d", rec.Code)
	}
	if rec := hit(h, "10.0.0.2:80", "X-Forwarded-For", "198.51.100.7"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("same forwarded client via another proxy: %d", rec.Code)
	}
}

func TestExemptClients(t *testing.T) {
	h := newTestLimiter(t, Config{RequestsPerWindow: 1, WindowSeconds: 60, Exempt: []string{"127.0.0.1", "fd00::/8"}}, nil).wrap(ok)

	for _, addr := range []string{"127.0.0.1:1", "[fd00::1]:1"} {
		for range 3 {
			rec := hit(h, addr)
			if rec.Code != http.StatusNoContent {
				t.Fatalf("%s: status %d", addr, rec.Code)
			}
			if rec.Header().Get(headerLimit) != "" {
				t.Fatalf("%s: exempt clients get no limit headers", addr)
			}
		}
	}
}

func TestProfilesCountSeparately(t *testing.T) {
	mem := memory.New(time.Hour, 0)
	t.Cleanup(func() { mem.Close() })

	login := newLimiter(Config{RequestsPerWindow: 1, WindowSeconds: 60, Profile: "login"}, mem, nil, testLog).wrap(ok)
	accept := newLimiter(Config{RequestsPerWindow: 1, WindowSeconds: 60, Profile: "accept"}, mem, nil, testLog).wrap(ok)

	hit(login, "192.0.2.10:1")
	if rec := hit(accept, "192.0.2.10:1"); rec.Code != http.StatusNoContent {
		t.Errorf("accept profile shares the login window: %d", rec.Code)
	}
	if n, _ := mem.GetCount(context.Background(), "ratelimit:login:192.0.2.10"); n != 1 {
		t.Errorf("login counter = %d, want 1", n)
	}
}

func TestCounterFailureLetsRequestsThrough(t *testing.T) {
	c := Config{RequestsPerWindow: 1, WindowSeconds: 60}
	c.ApplyDefaults()
	h := newLimiter(c, brokenCounter{}, nil, testLog).wrap(ok)

	for range 3 {
		if rec := hit(h, "192.0.2.10:1"); rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d", rec.Code)
		}
	}
}

func TestNew(t *testing.T) {
	deps.ResetDeps()
	t.Cleanup(deps.ResetDeps)

	if _, err := New(map[string]any{}, testLog); err == nil {
		t.Fatal("expected error without shared deps")
	}

	mem := memory.New(time.Hour, 0)
	t.Cleanup(func() { mem.Close() })
	deps.SetDeps(&deps.Deps{Cache: mem})

	if _, err := New(map[string]any{"requests_per_window": -1}, testLog); err == nil {
		t.Error("expected validation error for a negative limit")
	}

	mw, err := New(map[string]any{"requests_per_window": "2", "window_seconds": 30, "profile": "p"}, testLog)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := mw(ok)
	hit(h, "192.0.2.1:1")
	hit(h, "192.0.2.1:1")
	if rec := hit(h, "192.0.2.1:1"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("third request status = %d", rec.Code)
	}
}
