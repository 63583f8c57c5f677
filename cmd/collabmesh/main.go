// Package main is the entrypoint for the collabmesh server.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/identity"
	"github.com/MahdiBaghbani/collabmesh-go/internal/frameworks/service"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/cache"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/config"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/deps"
	httpclient "github.com/MahdiBaghbani/collabmesh-go/internal/platform/http/client"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/http/server"
	tlspkg "github.com/MahdiBaghbani/collabmesh-go/internal/platform/http/tls"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/store"

	// Register cache drivers, store drivers, services and interceptors
	_ "github.com/MahdiBaghbani/collabmesh-go/internal/platform/cache/loader"
	_ "github.com/MahdiBaghbani/collabmesh-go/internal/platform/store/loader"
	_ "github.com/MahdiBaghbani/collabmesh-go/internal/services/loader"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	envFile := flag.String("env-file", ".env", "Path to a .env file loaded before config (missing file is ignored)")
	modeFlag := flag.String("mode", "", "Operating mode: strict, interop, or dev (overrides config)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	publicOrigin := flag.String("public-origin", "", "Public origin (overrides config)")
	externalBasePath := flag.String("external-base-path", "", "External base path (overrides config)")
	ssrfMode := flag.String("ssrf-mode", "", "SSRF protection mode: strict or off (overrides config)")
	tlsMode := flag.String("tls-mode", "", "TLS mode: off, static, selfsigned, or acme (overrides config)")
	storeDriver := flag.String("store-driver", "", "Store driver: sqlite or postgres (overrides config)")
	storeDataDir := flag.String("store-data-dir", "", "SQLite data directory (overrides config)")
	cacheDriver := flag.String("cache-driver", "", "Cache driver: memory or redis (overrides config)")
	adminUsername := flag.String("admin-username", "", "Bootstrap admin username (overrides config)")
	adminPassword := flag.String("admin-password", "", "Bootstrap admin password (overrides config)")
	loggingLevel := flag.String("logging-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	purge := flag.Bool("purge", false, "Delete closed invitations (declined, revoked, withdrawn, invalid) and exit")
	flag.Parse()

	// Bootstrap logger for config loading errors (uses default level)
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			bootstrapLogger.Error("failed to load env file", "path", *envFile, "error", err)
			os.Exit(1)
		}
	}

	// Load config with precedence: mode preset -> TOML file -> env -> CLI flags
	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		ModeFlag:   *modeFlag,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:       listenAddr,
			PublicOrigin:     publicOrigin,
			ExternalBasePath: externalBasePath,
			SSRFMode:         ssrfMode,
			TLSMode:          tlsMode,
			StoreDriver:      storeDriver,
			StoreDataDir:     storeDataDir,
			CacheDriver:      cacheDriver,
			AdminUsername:    adminUsername,
			AdminPassword:    adminPassword,
			LoggingLevel:     loggingLevel,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Logging.Level)}))
	slog.SetDefault(logger)

	// Log effective config with secrets redacted
	logger.Info("effective configuration", "config", cfg.Redacted())

	if err := run(cfg, logger, *purge); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "trace":
		return slog.LevelDebug - 4 // slog has no trace, use debug-4
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(cfg *config.Config, logger *slog.Logger, purgeOnly bool) error {
	ctx := context.Background()

	// Persistence
	driver, err := store.New(&store.DriverConfig{
		Driver:       cfg.Store.Driver,
		DataDir:      cfg.Store.DataDir,
		DSN:          cfg.Store.DSN,
		MaxOpenConns: cfg.Store.MaxOpenConns,
	})
	if err != nil {
		return err
	}
	if err := driver.Init(ctx); err != nil {
		return err
	}
	defer driver.Close()
	logger.Info("store ready", "driver", driver.Name())

	// Cache (defaults to in-memory if not configured)
	cacheDriver := cfg.Cache.Driver
	if cacheDriver == "" {
		cacheDriver = "memory"
	}
	cacheInstance, err := cache.NewFromConfig(cacheDriver, cfg.Cache.Drivers)
	if err != nil {
		return err
	}
	defer cacheInstance.Close()

	rootCAs, err := tlspkg.RootCAs(cfg.OutboundHTTP.RootCAFile, cfg.OutboundHTTP.RootCADir)
	if err != nil {
		return err
	}
	client := httpclient.New(&cfg.OutboundHTTP)
	client.SetRootCAs(rootCAs)

	d, err := deps.Wire(ctx, cfg, deps.Components{
		DB:         driver.DB(),
		Cache:      cacheInstance,
		HTTPClient: client,
		UserAuth:   identity.NewUserAuth(),
	}, logger)
	if err != nil {
		return err
	}
	deps.SetDeps(d)

	if purgeOnly {
		n, err := d.Invitations.Purge(ctx)
		if err != nil {
			return err
		}
		logger.Info("purged closed invitations", "count", n)
		return nil
	}

	// Bootstrap super admin user
	admin := cfg.Server.BootstrapAdmin
	if admin.Username == "" {
		admin.Username = "admin"
	}
	bootstrap := identity.NewBootstrap(d.PartyRepo, d.UserAuth, logger)
	if _, err := bootstrap.EnsureSuperAdmin(ctx, identity.SeededUser{
		Username:    admin.Username,
		Password:    admin.Password,
		Email:       admin.Email,
		DisplayName: admin.DisplayName,
	}, admin.Password != ""); err != nil {
		return err
	}

	services, err := service.BuildCore(cfg.BuildServiceConfig, logger)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, logger, services)
	if err != nil {
		return err
	}
	srv.SetRootCAPool(rootCAs)

	// Setup graceful shutdown
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("server started, press Ctrl+C to stop")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-sigCtx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}
