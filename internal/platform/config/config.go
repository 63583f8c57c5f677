// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"strings"

	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/instanceid"
)

// Config holds the server configuration.
type Config struct {
	// Mode is the operating mode: strict, interop, or dev.
	Mode string `toml:"mode"`

	// PublicOrigin is the public origin (scheme + host + port) for this instance.
	// Example: "https://mesh.example.org"
	PublicOrigin string `toml:"public_origin"`

	// ExternalBasePath is the optional path prefix for app endpoints.
	// Root-only endpoints (/.well-known/ocm) are never under this path.
	ExternalBasePath string `toml:"external_base_path"`

	// ListenAddr is the address to listen on.
	ListenAddr string `toml:"listen_addr"`

	Server       ServerConfig       `toml:"server"`
	Instance     InstanceConfig     `toml:"instance"`
	TLS          TLSConfig          `toml:"tls"`
	OutboundHTTP OutboundHTTPConfig `toml:"outbound_http"`
	Store        StoreConfig        `toml:"store"`
	Cache        CacheConfig        `toml:"cache"`
	Invitations  InvitationsConfig  `toml:"invitations"`
	Directory    DirectoryConfig    `toml:"directory"`
	Logging      LoggingConfig      `toml:"logging"`

	// HTTP holds per-service HTTP configuration (Reva-style).
	HTTP HTTPConfig `toml:"http"`
}

// HTTPConfig holds per-service HTTP configuration.
// Services are configured under [http.services.<svcname>].
// Interceptors are configured under [http.interceptors.<name>].
type HTTPConfig struct {
	// Services maps service names to their raw config maps.
	// Each service decodes its own config via cfg.Decode() with Setter interface.
	Services map[string]map[string]any `toml:"services"`

	// Interceptors maps interceptor names to their raw config maps.
	// Ratelimit profiles live at [http.interceptors.ratelimit.profiles.<name>].
	// Per-service opt-in is [http.services.<svc>.ratelimit] with profile = "<name>".
	Interceptors map[string]map[string]any `toml:"interceptors"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `toml:"level"`
}

// InstanceConfig describes this provider as it appears in peer directories.
type InstanceConfig struct {
	// Name is the display name advertised in the self-description.
	Name string `toml:"name"`

	// UUID is the stable provider identity key. Generated at load when empty.
	UUID string `toml:"uuid"`

	// Domain overrides the provider domain. Defaults to the public origin host.
	Domain string `toml:"domain"`
}

// StoreConfig selects and configures the persistence driver.
type StoreConfig struct {
	// Driver is sqlite or postgres.
	Driver string `toml:"driver"`

	// DataDir holds the sqlite database file.
	DataDir string `toml:"data_dir"`

	// DSN is the postgres connection string.
	DSN string `toml:"dsn"`

	// MaxOpenConns caps the connection pool. Zero keeps the driver default.
	MaxOpenConns int `toml:"max_open_conns"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	// Driver is the cache driver name: "memory" (default) or "redis".
	Driver string `toml:"driver"`

	// Drivers holds per-driver configuration (Reva-style).
	// Example: [cache.drivers.redis] addr = "localhost:6379"
	Drivers map[string]any `toml:"drivers"`
}

// InvitationsConfig tunes the invitation protocol.
type InvitationsConfig struct {
	// ForwardEndpoint overrides the forward-invite URL embedded in invite links.
	// Default: {public_origin}{external_base_path}/mesh-registry/forward-invite
	ForwardEndpoint string `toml:"forward_endpoint"`

	// RequireKnownRecipientProvider rejects invite-accepted callbacks whose
	// recipientProvider is not in the provider directory.
	RequireKnownRecipientProvider bool `toml:"require_known_recipient_provider"`

	// NotificationTTLSeconds bounds how long a pending notification is kept.
	NotificationTTLSeconds int `toml:"notification_ttl_seconds"`
}

// DirectoryConfig controls provider directory onboarding.
type DirectoryConfig struct {
	// AllowInsecureEndpoints permits http:// provider endpoints (dev only).
	AllowInsecureEndpoints bool `toml:"allow_insecure_endpoints"`

	// VerifyPeers fetches the peer self-description before registering it.
	VerifyPeers bool `toml:"verify_peers"`
}

// ServerConfig holds server-level settings.
type ServerConfig struct {
	// TrustedProxies is a list of CIDR ranges for trusted reverse proxies.
	// X-Forwarded-* headers are only honored from these addresses.
	TrustedProxies []string `toml:"trusted_proxies"`

	// BootstrapAdmin holds super admin bootstrap configuration.
	BootstrapAdmin BootstrapAdminConfig `toml:"bootstrap_admin"`
}

// BootstrapAdminConfig holds bootstrap admin credentials.
type BootstrapAdminConfig struct {
	// Username for the super admin. Default: "admin"
	Username string `toml:"username"`

	// Password for the super admin. If empty on first boot, a random password is generated.
	Password string `toml:"password"`

	// Email and DisplayName are used as the sender identity of admin invitations.
	Email       string `toml:"email"`
	DisplayName string `toml:"display_name"`
}

// TLSConfig holds TLS-related settings.
type TLSConfig struct {
	// Mode is one of: off, static, selfsigned, acme
	Mode string `toml:"mode"`

	// CertFile and KeyFile for static mode
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`

	// HTTPPort for HTTP listener (used for ACME challenges and redirects)
	HTTPPort int `toml:"http_port"`

	// HTTPSPort for HTTPS listener
	HTTPSPort int `toml:"https_port"`

	// SelfSignedDir is where self-signed certs are stored
	SelfSignedDir string `toml:"self_signed_dir"`

	ACME ACMEConfig `toml:"acme"`
}

// ACMEConfig holds ACME/Let's Encrypt settings.
type ACMEConfig struct {
	Email      string `toml:"email"`
	Domain     string `toml:"domain"`
	Directory  string `toml:"directory"`
	StorageDir string `toml:"storage_dir"`
	UseStaging bool   `toml:"use_staging"`
}

// OutboundHTTPConfig holds settings for outbound HTTP requests.
type OutboundHTTPConfig struct {
	// SSRFMode is one of: strict, off
	SSRFMode string `toml:"ssrf_mode"`

	// TimeoutMS is the overall request timeout in milliseconds.
	// Peers that do not answer within it are treated as unreachable.
	TimeoutMS int `toml:"timeout_ms"`

	// ConnectTimeoutMS is the connection timeout in milliseconds
	ConnectTimeoutMS int `toml:"connect_timeout_ms"`

	// MaxRedirects is the maximum number of redirects to follow
	MaxRedirects int `toml:"max_redirects"`

	// MaxResponseBytes is the maximum response body size
	MaxResponseBytes int64 `toml:"max_response_bytes"`

	// GetRetries is how many times a failed peer GET is retried with
	// exponential backoff. POSTs are never retried.
	GetRetries int `toml:"get_retries"`

	// InsecureSkipVerify disables TLS verification (dev-only)
	InsecureSkipVerify bool `toml:"insecure_skip_verify"`

	// RootCAFile and RootCADir add PEM roots to the system pool for peer
	// calls and the ACME directory. Useful when peers run private CAs.
	RootCAFile string `toml:"root_ca_file"`
	RootCADir  string `toml:"root_ca_dir"`
}

// BuildServiceConfig returns the raw service config map for a given service name.
// Returns nil if the service is not configured in [http.services.<name>].
func (c *Config) BuildServiceConfig(serviceName string) map[string]any {
	if c.HTTP.Services == nil {
		return nil
	}
	svcCfg, ok := c.HTTP.Services[serviceName]
	if !ok {
		return nil
	}
	result := make(map[string]any, len(svcCfg))
	for k, v := range svcCfg {
		result[k] = v
	}
	return result
}

// Redacted returns a string representation of the config with secrets redacted.
func (c *Config) Redacted() string {
	var sb strings.Builder
	sb.WriteString("Config{\n")
	fmt.Fprintf(&sb, "  Mode: %q,\n", c.Mode)
	fmt.Fprintf(&sb, "  PublicOrigin: %q,\n", c.PublicOrigin)
	fmt.Fprintf(&sb, "  ExternalBasePath: %q,\n", c.ExternalBasePath)
	fmt.Fprintf(&sb, "  ListenAddr: %q,\n", c.ListenAddr)
	sb.WriteString("  Server: {\n")
	fmt.Fprintf(&sb, "    TrustedProxies: %v,\n", c.Server.TrustedProxies)
	fmt.Fprintf(&sb, "    BootstrapAdmin.Username: %q,\n", c.Server.BootstrapAdmin.Username)
	sb.WriteString("    BootstrapAdmin.Password: [REDACTED],\n")
	sb.WriteString("  },\n")
	sb.WriteString("  Instance: {\n")
	fmt.Fprintf(&sb, "    Name: %q,\n", c.Instance.Name)
	fmt.Fprintf(&sb, "    UUID: %q,\n", c.Instance.UUID)
	fmt.Fprintf(&sb, "    Domain: %q,\n", c.Instance.Domain)
	sb.WriteString("  },\n")
	sb.WriteString("  TLS: {\n")
	fmt.Fprintf(&sb, "    Mode: %q,\n", c.TLS.Mode)
	fmt.Fprintf(&sb, "    CertFile: %q,\n", c.TLS.CertFile)
	fmt.Fprintf(&sb, "    KeyFile: %q,\n", c.TLS.KeyFile)
	fmt.Fprintf(&sb, "    HTTPPort: %d,\n", c.TLS.HTTPPort)
	fmt.Fprintf(&sb, "    HTTPSPort: %d,\n", c.TLS.HTTPSPort)
	sb.WriteString("  },\n")
	sb.WriteString("  OutboundHTTP: {\n")
	fmt.Fprintf(&sb, "    SSRFMode: %q,\n", c.OutboundHTTP.SSRFMode)
	fmt.Fprintf(&sb, "    TimeoutMS: %d,\n", c.OutboundHTTP.TimeoutMS)
	fmt.Fprintf(&sb, "    MaxRedirects: %d,\n", c.OutboundHTTP.MaxRedirects)
	fmt.Fprintf(&sb, "    MaxResponseBytes: %d,\n", c.OutboundHTTP.MaxResponseBytes)
	fmt.Fprintf(&sb, "    InsecureSkipVerify: %v,\n", c.OutboundHTTP.InsecureSkipVerify)
	fmt.Fprintf(&sb, "    RootCAFile: %q,\n", c.OutboundHTTP.RootCAFile)
	sb.WriteString("  },\n")
	sb.WriteString("  Store: {\n")
	fmt.Fprintf(&sb, "    Driver: %q,\n", c.Store.Driver)
	fmt.Fprintf(&sb, "    DataDir: %q,\n", c.Store.DataDir)
	if c.Store.DSN != "" {
		sb.WriteString("    DSN: [REDACTED],\n")
	}
	sb.WriteString("  },\n")
	sb.WriteString("  Cache: {\n")
	fmt.Fprintf(&sb, "    Driver: %q,\n", c.Cache.Driver)
	fmt.Fprintf(&sb, "    DriversCount: %d,\n", len(c.Cache.Drivers))
	sb.WriteString("  },\n")
	sb.WriteString("  Invitations: {\n")
	fmt.Fprintf(&sb, "    ForwardEndpoint: %q,\n", c.Invitations.ForwardEndpoint)
	fmt.Fprintf(&sb, "    RequireKnownRecipientProvider: %v,\n", c.Invitations.RequireKnownRecipientProvider)
	fmt.Fprintf(&sb, "    NotificationTTLSeconds: %d,\n", c.Invitations.NotificationTTLSeconds)
	sb.WriteString("  },\n")
	sb.WriteString("  Directory: {\n")
	fmt.Fprintf(&sb, "    AllowInsecureEndpoints: %v,\n", c.Directory.AllowInsecureEndpoints)
	fmt.Fprintf(&sb, "    VerifyPeers: %v,\n", c.Directory.VerifyPeers)
	sb.WriteString("  },\n")
	fmt.Fprintf(&sb, "  Logging: {Level: %q},\n", c.Logging.Level)
	sb.WriteString("  HTTP: {\n")
	fmt.Fprintf(&sb, "    ServicesCount: %d,\n", len(c.HTTP.Services))
	fmt.Fprintf(&sb, "    InterceptorsCount: %d,\n", len(c.HTTP.Interceptors))
	sb.WriteString("  },\n")
	sb.WriteString("}")
	return sb.String()
}

// PublicScheme returns "http" or "https" from PublicOrigin.
// Returns "https" if PublicOrigin is empty or unparseable.
func (c *Config) PublicScheme() string {
	o, err := instanceid.Parse(c.PublicOrigin)
	if err != nil {
		return "https"
	}
	return o.Scheme
}

// PublicAuthority returns the lowercased host[:port] from PublicOrigin.
func (c *Config) PublicAuthority() string {
	fqdn, err := instanceid.ProviderFQDN(c.PublicOrigin)
	if err != nil {
		return ""
	}
	return fqdn
}

// ProviderDomain returns the domain this instance advertises to peers.
func (c *Config) ProviderDomain() string {
	if c.Instance.Domain != "" {
		return strings.ToLower(c.Instance.Domain)
	}
	return c.PublicAuthority()
}

// AppBaseURL returns the public origin joined with the external base path.
func (c *Config) AppBaseURL() string {
	return strings.TrimSuffix(c.PublicOrigin, "/") + c.ExternalBasePath
}

// ForwardInviteEndpoint returns the URL embedded in invite links.
func (c *Config) ForwardInviteEndpoint() string {
	if c.Invitations.ForwardEndpoint != "" {
		return c.Invitations.ForwardEndpoint
	}
	return c.AppBaseURL() + "/mesh-registry/forward-invite"
}
