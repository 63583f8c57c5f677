// Package ratelimit is a fixed-window request limiter. Windows live in the
// shared cache Counter and clients are told apart by their real IP.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/api"
	svccfg "github.com/MahdiBaghbani/collabmesh-go/internal/frameworks/service/cfg"
	"github.com/MahdiBaghbani/collabmesh-go/internal/interceptors"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/cache"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/deps"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/http/realip"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/logutil"
)

const (
	headerLimit      = "X-RateLimit-Limit"
	headerRemaining  = "X-RateLimit-Remaining"
	headerReset      = "X-RateLimit-Reset"
	headerRetryAfter = "Retry-After"
)

func init() {
	interceptors.MustRegister("ratelimit", New)
}

// Config is one limiter profile.
type Config struct {
	RequestsPerWindow int64 `mapstructure:"requests_per_window" validate:"gte=1"`
	WindowSeconds     int   `mapstructure:"window_seconds" validate:"gte=1"`

	// Exempt lists client IPs or CIDRs that are never counted.
	Exempt []string `mapstructure:"exempt"`

	// Profile namespaces the counters. interceptors.Build fills it in.
	Profile string `mapstructure:"profile"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.RequestsPerWindow == 0 {
		c.RequestsPerWindow = 100
	}
	if c.WindowSeconds == 0 {
		c.WindowSeconds = int(cache.TTLRateLimit / time.Second)
	}
	if c.Profile == "" {
		c.Profile = "default"
	}
}

// Window returns the window length.
func (c *Config) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

type limiter struct {
	counter cache.Counter
	clients *realip.TrustedProxies
	exempt  *realip.TrustedProxies
	profile string
	limit   int64
	window  time.Duration
	now     func() time.Time
	log     *slog.Logger
}

// verdict is the outcome of counting one request.
type verdict struct {
	allowed   bool
	remaining int64
	resetAt   time.Time
}

// New builds the interceptor for one profile. It needs the shared cache.
func New(conf map[string]any, log *slog.Logger) (interceptors.Middleware, error) {
	var c Config
	if err := svccfg.Decode(conf, &c); err != nil {
		return nil, err
	}

	d := deps.GetDeps()
	if d == nil || d.Cache == nil {
		return nil, errors.New("ratelimit: shared deps with a cache are required")
	}
	return newLimiter(c, d.Cache, d.RealIP, log).wrap, nil
}

func newLimiter(c Config, counter cache.Counter, clients *realip.TrustedProxies, log *slog.Logger) *limiter {
	return &limiter{
		counter: counter,
		clients: clients,
		exempt:  realip.NewTrustedProxies(c.Exempt),
		profile: c.Profile,
		limit:   c.RequestsPerWindow,
		window:  c.Window(),
		now:     time.Now,
		log:     logutil.NoopIfNil(log).With("profile", c.Profile),
	}
}

func (l *limiter) key(client string) string {
	return "ratelimit:" + l.profile + ":" + client
}

func (l *limiter) check(ctx context.Context, client string) (verdict, error) {
	count, resetAt, err := l.counter.Increment(ctx, l.key(client), 1, l.window)
	if err != nil {
		return verdict{}, err
	}
	return verdict{
		allowed:   count <= l.limit,
		remaining: max(l.limit-count, 0),
		resetAt:   resetAt,
	}, nil
}

func (l *limiter) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := l.clients.ClientIP(r)
		if ip != nil && l.exempt.IsTrusted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		v, err := l.check(r.Context(), l.clients.ClientIPString(r))
		if err != nil {
			// An unavailable cache must not take the endpoint down with it.
			l.log.Warn("rate limit counter unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set(headerLimit, strconv.FormatInt(l.limit, 10))
		h.Set(headerRemaining, strconv.FormatInt(v.remaining, 10))
		h.Set(headerReset, strconv.FormatInt(v.resetAt.Unix(), 10))
		if v.allowed {
			next.ServeHTTP(w, r)
			return
		}

		wait := int(v.resetAt.Sub(l.now()).Seconds())
		h.Set(headerRetryAfter, strconv.Itoa(max(wait, 1)))
		l.log.Debug("request rate limited", "client", l.clients.ClientIPString(r), "path", r.URL.Path)
		api.WriteTooManyRequests(w, "too many requests")
	})
}
