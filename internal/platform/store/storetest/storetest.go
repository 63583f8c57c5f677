// Package storetest opens throwaway databases for package tests.
package storetest

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/store"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/store/sqlite"
)

// NewDB opens a migrated sqlite database in t.TempDir() and closes it
// when the test ends.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	drv, err := sqlite.NewDriver(&store.DriverConfig{Driver: "sqlite", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("sqlite driver: %v", err)
	}
	if err := drv.Init(context.Background()); err != nil {
		t.Fatalf("sqlite init: %v", err)
	}
	t.Cleanup(func() { drv.Close() })

	return drv.DB()
}
