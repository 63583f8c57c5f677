package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/samber/lo"
)

func (c *Config) validate() error {
	for _, e := range []struct {
		key     string
		value   string
		allowed []string
	}{
		{"tls.mode", c.TLS.Mode, []string{"off", "static", "selfsigned", "acme"}},
		{"outbound_http.ssrf_mode", c.OutboundHTTP.SSRFMode, []string{"strict", "off"}},
		{"cache.driver", c.Cache.Driver, []string{"", "memory", "redis"}},
		{"store.driver", c.Store.Driver, []string{"sqlite", "postgres"}},
		{"logging.level", c.Logging.Level, []string{"trace", "debug", "info", "warn", "error"}},
	} {
		if !lo.Contains(e.allowed, e.value) {
			return fmt.Errorf("invalid %s %q: must be one of %s", e.key, e.value, strings.Join(lo.Compact(e.allowed), ", "))
		}
	}

	if fe := c.Invitations.ForwardEndpoint; fe != "" {
		if u, err := url.Parse(fe); err != nil || !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("invalid invitations.forward_endpoint %q: must be an absolute URL", fe)
		}
	}
	if c.Invitations.NotificationTTLSeconds < 0 {
		return fmt.Errorf("invalid invitations.notification_ttl_seconds %d: must not be negative", c.Invitations.NotificationTTLSeconds)
	}

	if err := validateRatelimitConfig(c); err != nil {
		return err
	}
	if err := validatePublicOrigin(c); err != nil {
		return err
	}
	return validateStore(c)
}

func validateStore(cfg *Config) error {
	switch {
	case cfg.Store.Driver == "postgres" && cfg.Store.DSN == "":
		return fmt.Errorf("store.dsn is required when store.driver is postgres")
	case cfg.Store.Driver == "sqlite" && cfg.Store.DataDir == "":
		return fmt.Errorf("store.data_dir is required when store.driver is sqlite")
	}
	return nil
}

// validateRatelimitConfig checks that every [http.services.<svc>.ratelimit]
// profile names an entry under [http.interceptors.ratelimit.profiles].
func validateRatelimitConfig(cfg *Config) error {
	var profiles map[string]any
	if raw, ok := cfg.HTTP.Interceptors["ratelimit"]["profiles"]; ok {
		m, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("http.interceptors.ratelimit.profiles must be a map")
		}
		for name, p := range m {
			if _, ok := p.(map[string]any); !ok {
				return fmt.Errorf("http.interceptors.ratelimit.profiles.%s must be a map", name)
			}
		}
		profiles = m
	}

	for svcName, svcCfg := range cfg.HTTP.Services {
		rl, ok := svcCfg["ratelimit"].(map[string]any)
		if !ok {
			continue
		}
		if name, ok := rl["profile"].(string); ok {
			if _, found := profiles[name]; !found {
				return fmt.Errorf("http.services.%s.ratelimit references undefined profile %q", svcName, name)
			}
		}
	}
	return nil
}

// validatePublicOrigin requires a bare http(s) origin. A base path
// belongs in external_base_path. Surrounding whitespace is an error.
func validatePublicOrigin(cfg *Config) error {
	origin := cfg.PublicOrigin
	if origin == "" {
		return fmt.Errorf("public_origin is required")
	}
	if origin != strings.TrimSpace(origin) {
		return fmt.Errorf("invalid public_origin %q: must not contain leading or trailing whitespace", origin)
	}

	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid public_origin %q: %w", origin, err)
	}
	var problem string
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		problem = "scheme must be http or https"
	case u.Host == "":
		problem = "must include a host"
	case u.User != nil:
		problem = "must not include userinfo"
	case u.RawQuery != "" || u.ForceQuery:
		problem = "must not include a query string"
	case u.Fragment != "":
		problem = "must not include a fragment"
	case u.Path != "" && u.Path != "/":
		problem = "must not include a path (use external_base_path for base path)"
	}
	if problem != "" {
		return fmt.Errorf("invalid public_origin %q: %s", origin, problem)
	}
	return nil
}
