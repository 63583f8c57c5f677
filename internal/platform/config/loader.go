package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "COLLABMESH_"

// renamedKeys are keys from older config layouts that now fail loading
// with a pointer to their replacement.
var renamedKeys = map[string]string{
	"database": "[database] has been renamed to [store]",
	"app_url":  "app_url has been renamed to public_origin",
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is an optional TOML file. A path that cannot be read or
	// parsed fails Load.
	ConfigPath string

	// ModeFlag is the --mode value. It beats the environment and the file.
	ModeFlag string

	FlagOverrides FlagOverrides

	// Environment replaces the process environment for COLLABMESH_* lookups.
	// Nil means os.Environ.
	Environment map[string]string

	// Logger receives warnings such as unknown keys. Nil means slog.Default().
	Logger *slog.Logger
}

// FlagOverrides are CLI values. Nil or empty pointers leave config alone.
type FlagOverrides struct {
	ListenAddr       *string
	PublicOrigin     *string
	ExternalBasePath *string
	SSRFMode         *string
	TLSMode          *string
	StoreDriver      *string
	StoreDataDir     *string
	CacheDriver      *string
	AdminUsername    *string
	AdminPassword    *string
	LoggingLevel     *string
}

// envOverrides are the supported COLLABMESH_* variables.
type envOverrides struct {
	Mode          *string `env:"MODE"`
	PublicOrigin  *string `env:"PUBLIC_ORIGIN"`
	ListenAddr    *string `env:"LISTEN_ADDR"`
	StoreDriver   *string `env:"STORE_DRIVER"`
	StoreDSN      *string `env:"STORE_DSN"`
	StoreDataDir  *string `env:"STORE_DATA_DIR"`
	CacheDriver   *string `env:"CACHE_DRIVER"`
	AdminPassword *string `env:"ADMIN_PASSWORD"`
	LoggingLevel  *string `env:"LOGGING_LEVEL"`
}

// Load builds the effective configuration. Later sources win:
//
//	mode preset < TOML file < COLLABMESH_* environment < CLI flags
//
// The mode itself is chosen first (flag, then environment, then file,
// then strict) because it selects the preset. Keys present in the file
// replace preset values, including explicit false and zero values.
// Unknown keys are logged and ignored.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var file map[string]any
	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		if _, err := toml.Decode(string(data), &file); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}
	}

	var eo envOverrides
	if err := env.ParseWithOptions(&eo, env.Options{Prefix: EnvPrefix, Environment: opts.Environment}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	fileMode, _ := file["mode"].(string)
	mode, err := ParseMode(firstSet(opts.ModeFlag, deref(eo.Mode), fileMode))
	if err != nil {
		return nil, err
	}

	cfg := presetForMode(mode)
	if file != nil {
		unused, err := overlayFile(cfg, file)
		if err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", opts.ConfigPath, err)
		}
		if len(unused) > 0 {
			logger.Warn("config file contains unknown keys", "path", opts.ConfigPath, "keys", unused)
		}
		cfg.Mode = string(mode)
	}
	overlayEnv(cfg, eo)
	overlayFlags(cfg, opts.FlagOverrides)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Instance.UUID == "" {
		// Stable across restarts as long as the public origin does not change.
		cfg.Instance.UUID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(cfg.PublicOrigin)).String()
	}
	if cfg.Instance.Name == "" {
		cfg.Instance.Name = cfg.ProviderDomain()
	}
	return cfg, nil
}

// overlayFile decodes file onto cfg. Only keys present in file are
// written. It returns the keys no field claimed.
func overlayFile(cfg *Config, file map[string]any) ([]string, error) {
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "toml",
		// Lists in the file replace preset lists instead of patching them.
		ZeroFields: true,
		Metadata:   &md,
		Result:     cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(file); err != nil {
		return nil, err
	}

	for _, key := range md.Unused {
		top, _, _ := strings.Cut(key, ".")
		if msg, ok := renamedKeys[top]; ok {
			return nil, fmt.Errorf("config %s; please update your configuration", msg)
		}
	}
	slices.Sort(md.Unused)
	return md.Unused, nil
}

func overlayEnv(cfg *Config, eo envOverrides) {
	for _, o := range []struct {
		dst *string
		src *string
	}{
		{&cfg.PublicOrigin, eo.PublicOrigin},
		{&cfg.ListenAddr, eo.ListenAddr},
		{&cfg.Store.Driver, eo.StoreDriver},
		{&cfg.Store.DSN, eo.StoreDSN},
		{&cfg.Store.DataDir, eo.StoreDataDir},
		{&cfg.Cache.Driver, eo.CacheDriver},
		{&cfg.Server.BootstrapAdmin.Password, eo.AdminPassword},
		{&cfg.Logging.Level, eo.LoggingLevel},
	} {
		if v := deref(o.src); v != "" {
			*o.dst = v
		}
	}
}

func overlayFlags(cfg *Config, f FlagOverrides) {
	for _, o := range []struct {
		dst *string
		src *string
	}{
		{&cfg.ListenAddr, f.ListenAddr},
		{&cfg.PublicOrigin, f.PublicOrigin},
		{&cfg.ExternalBasePath, f.ExternalBasePath},
		{&cfg.OutboundHTTP.SSRFMode, f.SSRFMode},
		{&cfg.TLS.Mode, f.TLSMode},
		{&cfg.Store.Driver, f.StoreDriver},
		{&cfg.Store.DataDir, f.StoreDataDir},
		{&cfg.Cache.Driver, f.CacheDriver},
		{&cfg.Server.BootstrapAdmin.Username, f.AdminUsername},
		{&cfg.Server.BootstrapAdmin.Password, f.AdminPassword},
		{&cfg.Logging.Level, f.LoggingLevel},
	} {
		if v := deref(o.src); v != "" {
			*o.dst = v
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstSet(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
