package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/store"
	_ "github.com/MahdiBaghbani/collabmesh-go/internal/platform/store/postgres"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/store/sqlite"
)

type widget struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex"`
}

func init() {
	store.RegisterModel(&widget{})
}

func TestDriverRegistry(t *testing.T) {
	drivers := store.AvailableDrivers()

	expected := map[string]bool{"sqlite": true, "postgres": true}
	for _, d := range drivers {
		delete(expected, d)
	}
	for d := range expected {
		t.Errorf("expected driver %q not registered", d)
	}

	if _, err := store.New(&store.DriverConfig{Driver: "json"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestDriverConfigValidation(t *testing.T) {
	if _, err := store.New(&store.DriverConfig{Driver: "sqlite"}); err == nil {
		t.Error("sqlite without data_dir should fail")
	}
	if _, err := store.New(&store.DriverConfig{Driver: "postgres"}); err == nil {
		t.Error("postgres without dsn should fail")
	}
}

func TestSQLiteInitMigratesAndTranslatesDuplicates(t *testing.T) {
	dir := t.TempDir()
	drv, err := store.New(&store.DriverConfig{Driver: "sqlite", DataDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := drv.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer drv.Close()

	if _, err := os.Stat(filepath.Join(dir, sqlite.FileName)); err != nil {
		t.Fatalf("database file missing: %v", err)
	}

	db := drv.DB()
	if err := db.Create(&widget{Name: "a"}).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	err = db.Create(&widget{Name: "a"}).Error
	if !store.IsDuplicate(err) {
		t.Errorf("expected duplicate error, got %v", err)
	}

	var w widget
	err = db.First(&w, "name = ?", "missing").Error
	if !store.IsNotFound(err) || !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestCloseBeforeInit(t *testing.T) {
	drv, err := store.New(&store.DriverConfig{Driver: "sqlite", DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if err := drv.Close(); err != nil {
		t.Errorf("Close before Init: %v", err)
	}
	if drv.DB() != nil {
		t.Error("DB before Init should be nil")
	}
}
