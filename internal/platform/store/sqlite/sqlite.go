// Package sqlite is the default embedded store: one database file under
// the configured data directory.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"

	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/store"
)

// FileName is the database file created under the data directory.
const FileName = "collabmesh.db"

// pragmas keep concurrent writers waiting instead of failing with
// SQLITE_BUSY and turn on foreign keys.
const pragmas = "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"

func init() {
	store.Register("sqlite", NewDriver)
}

type driver struct {
	store.Handle
	path string
}

// NewDriver returns the sqlite driver for cfg.DataDir.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}
	return &driver{path: filepath.Join(cfg.DataDir, FileName)}, nil
}

func (d *driver) Name() string { return "sqlite" }

func (d *driver) Init(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	// One writer at a time: a single connection queues instead of locking.
	db, err := store.Open(ctx, sqlite.Open(d.path+pragmas), func(p *sql.DB) { p.SetMaxOpenConns(1) })
	if err != nil {
		return err
	}
	d.Set(db)
	return nil
}
