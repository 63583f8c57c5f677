// Package postgres is the server store, selected with store.driver =
// "postgres" and a DSN.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/postgres"

	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/store"
)

const (
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 10
	connMaxLifetime     = 30 * time.Minute
)

func init() {
	store.Register("postgres", NewDriver)
}

type driver struct {
	store.Handle
	dsn          string
	maxOpenConns int
}

// NewDriver returns the postgres driver. MaxOpenConns <= 0 means 25.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required for postgres driver")
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	return &driver{dsn: cfg.DSN, maxOpenConns: maxOpen}, nil
}

func (d *driver) Name() string { return "postgres" }

func (d *driver) Init(ctx context.Context) error {
	dialector := postgres.New(postgres.Config{DSN: d.dsn, PreferSimpleProtocol: true})
	db, err := store.Open(ctx, dialector, func(p *sql.DB) {
		p.SetMaxOpenConns(d.maxOpenConns)
		p.SetMaxIdleConns(min(defaultMaxIdleConns, d.maxOpenConns))
		p.SetConnMaxLifetime(connMaxLifetime)
	})
	if err != nil {
		return err
	}
	d.Set(db)
	return nil
}
