// Package cache provides caching with TTL support for sessions, peer
// self-descriptions, pending notifications, and rate limiting.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("key not found")
	ErrExpired  = errors.New("key expired")
)

// Cache provides TTL-based key-value storage.
type Cache interface {
	// Get retrieves a value by key. Returns ErrNotFound if not present.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. If TTL is 0, use default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists and is not expired.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases resources.
	Close() error
}

// Counter provides atomic increment operations for rate limiting.
type Counter interface {
	// Increment adds delta to the counter and returns the new value and the
	// time the current window resets. A missing key starts a window of ttl.
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, time.Time, error)

	// GetCount returns the current counter value. Returns 0 if not found.
	GetCount(ctx context.Context, key string) (int64, error)

	// Reset drops the counter.
	Reset(ctx context.Context, key string) error
}

// CacheWithCounter combines Cache and Counter interfaces.
type CacheWithCounter interface {
	Cache
	Counter
}

// Default TTLs for different cache categories.
const (
	TTLDiscovery = 15 * time.Minute // peer self-description cache
	TTLSession   = 24 * time.Hour   // login sessions
	TTLRateLimit = 1 * time.Minute  // rate limit window
)

// DriverFactory builds a cache from its [cache.drivers.<name>] table.
type DriverFactory func(config map[string]any) (CacheWithCounter, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFactory)
)

// RegisterDriver makes a cache driver available by name.
// Panics on duplicate registration.
func RegisterDriver(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, dup := drivers[name]; dup {
		panic("cache: driver registered twice: " + name)
	}
	drivers[name] = factory
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewFromConfig builds the named driver. driversConfig is the raw
// [cache.drivers] table; only the entry for driver is passed on.
func NewFromConfig(driver string, driversConfig map[string]any) (CacheWithCounter, error) {
	if driver == "" {
		driver = "memory"
	}

	driversMu.RLock()
	factory, ok := drivers[driver]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("cache: unknown driver %q", driver)
	}

	var driverCfg map[string]any
	if raw, ok := driversConfig[driver]; ok {
		driverCfg, _ = raw.(map[string]any)
	}

	c, err := factory(driverCfg)
	if err != nil {
		return nil, fmt.Errorf("cache: driver %q: %w", driver, err)
	}
	return c, nil
}
