package config

import (
	"fmt"
	"strings"
)

// Mode selects a preset of defaults.
type Mode string

const (
	// ModeStrict is for production: TLS on, SSRF guard on, only known
	// providers may accept invitations.
	ModeStrict  Mode = "strict"
	ModeInterop Mode = "interop"
	ModeDev     Mode = "dev"
)

// ParseMode accepts strict, interop or dev. Empty means strict.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeStrict, nil
	case ModeStrict, ModeInterop, ModeDev:
		return m, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be one of strict, interop, dev", s)
	}
}

func presetForMode(mode Mode) *Config {
	switch mode {
	case ModeDev:
		return DevConfig()
	case ModeInterop:
		return InteropConfig()
	default:
		return StrictConfig()
	}
}

// StrictConfig is the production preset.
func StrictConfig() *Config {
	return &Config{
		Mode:         string(ModeStrict),
		PublicOrigin: "https://localhost:9200",
		ListenAddr:   ":9200",
		Server: ServerConfig{
			TrustedProxies: []string{"127.0.0.0/8", "::1/128"},
		},
		TLS: TLSConfig{
			Mode:          "selfsigned",
			HTTPPort:      9280,
			HTTPSPort:     9200,
			SelfSignedDir: ".collabmesh/certs",
			ACME: ACMEConfig{
				Directory:  "https://acme-v02.api.letsencrypt.org/directory",
				StorageDir: ".collabmesh/acme",
			},
		},
		OutboundHTTP: OutboundHTTPConfig{
			SSRFMode:         "strict",
			TimeoutMS:        10_000,
			ConnectTimeoutMS: 2_000,
			MaxRedirects:     1,
			MaxResponseBytes: 1 << 20,
			GetRetries:       2,
		},
		Store: StoreConfig{Driver: "sqlite", DataDir: ".collabmesh/data"},
		Cache: CacheConfig{Driver: "memory"},
		Invitations: InvitationsConfig{
			RequireKnownRecipientProvider: true,
			NotificationTTLSeconds:        30 * 24 * 3600,
		},
		Directory: DirectoryConfig{VerifyPeers: true},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// InteropConfig accepts invite-accepted callbacks from providers that
// have not been onboarded yet.
func InteropConfig() *Config {
	cfg := StrictConfig()
	cfg.Mode = string(ModeInterop)
	cfg.Invitations.RequireKnownRecipientProvider = false
	return cfg
}

// DevConfig is for local multi-instance setups over plain HTTP.
func DevConfig() *Config {
	cfg := InteropConfig()
	cfg.Mode = string(ModeDev)
	cfg.TLS.Mode = "off"
	cfg.TLS.ACME.Directory = "https://acme-staging-v02.api.letsencrypt.org/directory"
	cfg.TLS.ACME.UseStaging = true
	cfg.OutboundHTTP.SSRFMode = "off"
	cfg.OutboundHTTP.MaxRedirects = 3
	cfg.OutboundHTTP.InsecureSkipVerify = true
	cfg.Directory.AllowInsecureEndpoints = true
	cfg.Logging.Level = "debug"
	return cfg
}
