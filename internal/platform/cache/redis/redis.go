// Package redis is the Redis/Valkey cache driver, built on valkey-go.
package redis

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/valkey-io/valkey-go"

	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/cache"
)

func init() {
	cache.RegisterDriver("redis", func(raw map[string]any) (cache.CacheWithCounter, error) {
		cfg, err := decodeConfig(raw)
		if err != nil {
			return nil, err
		}
		return New(cfg)
	})
}

// Config holds connection settings, decoded from [cache.drivers.redis].
type Config struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// DefaultConfig returns settings for a local server.
func DefaultConfig() *Config {
	return &Config{
		Addr:        "localhost:6379",
		KeyPrefix:   "collabmesh:",
		DialTimeout: 5 * time.Second,
	}
}

func decodeConfig(raw map[string]any) (*Config, error) {
	cfg := DefaultConfig()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("redis: decode config: %w", err)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultConfig().DialTimeout
	}
	return cfg, nil
}

// incrWindow bumps a counter and opens its window on first use. It
// returns the new value and the window's remaining milliseconds.
var incrWindow = valkey.NewLuaScript(`
local n = redis.call('INCRBY', KEYS[1], ARGV[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[2])
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return {n, ttl}
`)

// Cache implements cache.CacheWithCounter on a Redis-compatible server.
type Cache struct {
	client valkey.Client
	prefix string
	now    func() time.Time
}

// New connects and pings. An unreachable server is an error here rather
// than on the first request.
func New(cfg *Config) (*Cache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().DialTimeout
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:      []string{cfg.Addr},
		Password:         cfg.Password,
		SelectDB:         cfg.DB,
		Dialer:           net.Dialer{Timeout: timeout},
		ConnWriteTimeout: timeout,
		DisableCache:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: connect %s: %w", cfg.Addr, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}

	return &Cache{client: client, prefix: cfg.KeyPrefix, now: time.Now}, nil
}

func (c *Cache) key(k string) string { return c.prefix + k }

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Do(ctx, c.client.B().Get().Key(c.key(key)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, cache.ErrNotFound
	}
	return b, err
}

// Set stores value for ttl. Without a ttl the discovery TTL applies, so
// nothing lives forever.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.TTLDiscovery
	}
	cmd := c.client.B().Set().Key(c.key(key)).Value(valkey.BinaryString(value)).PxMilliseconds(ttl.Milliseconds()).Build()
	return c.client.Do(ctx, cmd).Error()
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Do(ctx, c.client.B().Del().Key(c.key(key)).Build()).Error()
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Do(ctx, c.client.B().Exists().Key(c.key(key)).Build()).AsInt64()
	return n > 0, err
}

// Increment runs as one script so concurrent callers cannot leave a
// counter without an expiry.
func (c *Cache) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, time.Time, error) {
	if ttl <= 0 {
		ttl = cache.TTLRateLimit
	}
	args := []string{fmt.Sprint(delta), fmt.Sprint(ttl.Milliseconds())}
	reply, err := incrWindow.Exec(ctx, c.client, []string{c.key(key)}, args).ToArray()
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(reply) != 2 {
		return 0, time.Time{}, fmt.Errorf("redis: unexpected increment reply of %d values", len(reply))
	}
	n, err := reply[0].AsInt64()
	if err != nil {
		return 0, time.Time{}, err
	}
	pttl, err := reply[1].AsInt64()
	if err != nil {
		return 0, time.Time{}, err
	}
	return n, c.now().Add(time.Duration(pttl) * time.Millisecond), nil
}

// GetCount returns 0 for a missing counter.
func (c *Cache) GetCount(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Do(ctx, c.client.B().Get().Key(c.key(key)).Build()).AsInt64()
	if valkey.IsValkeyNil(err) {
		return 0, nil
	}
	return n, err
}

func (c *Cache) Reset(ctx context.Context, key string) error {
	return c.Delete(ctx, key)
}

func (c *Cache) Close() error {
	c.client.Close()
	return nil
}

var _ cache.CacheWithCounter = (*Cache)(nil)
