// Package store provides persistence primitives and driver abstractions.
//
// Drivers open a *gorm.DB and migrate every model registered through
// RegisterModel. Components register their models from init so that the
// schema follows whatever is linked into the binary.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm"
)

// Common errors for store operations.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrClosed        = errors.New("store closed")
)

// Driver defines the interface for a persistence backend.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Init opens the database and migrates registered models.
	Init(ctx context.Context) error

	// DB returns the open handle. Returns nil before Init.
	DB() *gorm.DB

	// Close releases resources held by the driver.
	Close() error

	// Name returns the driver name (sqlite, postgres).
	Name() string
}

// DriverConfig holds configuration for driver selection and initialization.
type DriverConfig struct {
	// Driver is the driver name: sqlite, postgres
	Driver string

	// DataDir is the directory holding the sqlite database file.
	DataDir string

	// DSN is the postgres connection string.
	DSN string

	// MaxOpenConns caps the connection pool (postgres only, 0 = default).
	MaxOpenConns int
}

// DriverFactory is a function that creates a driver instance.
type DriverFactory func(cfg *DriverConfig) (Driver, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFactory)

	modelsMu sync.Mutex
	models   []any
)

// Register registers a driver factory by name.
// This is typically called from init() in driver packages.
func Register(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = factory
}

// New creates a driver instance based on the configuration.
func New(cfg *DriverConfig) (Driver, error) {
	driversMu.RLock()
	factory, ok := drivers[cfg.Driver]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown driver: %s", cfg.Driver)
	}

	return factory(cfg)
}

// AvailableDrivers returns the sorted list of registered driver names.
func AvailableDrivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterModel adds gorm models to the set migrated by every driver.
func RegisterModel(m ...any) {
	modelsMu.Lock()
	defer modelsMu.Unlock()
	models = append(models, m...)
}

// Migrate runs AutoMigrate for all registered models.
func Migrate(db *gorm.DB) error {
	modelsMu.Lock()
	registered := append([]any(nil), models...)
	modelsMu.Unlock()

	if len(registered) == 0 {
		return nil
	}
	if err := db.AutoMigrate(registered...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// GormConfig returns the gorm settings shared by all drivers: silent
// logging and dialect error translation so unique violations surface as
// gorm.ErrDuplicatedKey.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         silentLogger,
		TranslateError: true,
	}
}

// IsDuplicate reports whether err is a unique constraint violation.
func IsDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, ErrAlreadyExists)
}

// IsNotFound reports whether err means no row matched.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrNotFound)
}

// Open connects through dialector, lets tune size the pool, pings and
// migrates. The pool is closed again on any failure.
func Open(ctx context.Context, dialector gorm.Dialector, tune func(*sql.DB)) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, GormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if tune != nil {
		tune(sqlDB)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if err := Migrate(db.WithContext(ctx)); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Handle carries an opened *gorm.DB for drivers to embed.
type Handle struct {
	db *gorm.DB
}

// DB returns the open handle, or nil before Init.
func (h *Handle) DB() *gorm.DB { return h.db }

// Set stores db after a successful Init.
func (h *Handle) Set(db *gorm.DB) { h.db = db }

// Close closes the pool. Closing before Init is a no-op.
func (h *Handle) Close() error {
	if h.db == nil {
		return nil
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
