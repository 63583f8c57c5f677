package interceptors

import (
	"fmt"
	"log/slog"
	"maps"
)

// GetProfileConfig returns [http.interceptors.<interceptorName>.profiles.<profileName>]
// from the decoded interceptors table.
func GetProfileConfig(interceptorsCfg map[string]map[string]any, interceptorName, profileName string) (map[string]any, error) {
	if interceptorsCfg == nil {
		return nil, fmt.Errorf("no interceptors configured, cannot find %s profile %q", interceptorName, profileName)
	}
	section, ok := interceptorsCfg[interceptorName]
	if !ok {
		return nil, fmt.Errorf("no %s interceptor configured, cannot find profile %q", interceptorName, profileName)
	}
	if _, ok := section["profiles"]; !ok {
		return nil, fmt.Errorf("no %s profiles configured, cannot find profile %q", interceptorName, profileName)
	}
	profiles, ok := section["profiles"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s profiles is not a map, cannot find profile %q", interceptorName, profileName)
	}
	raw, found := profiles[profileName]
	if !found {
		return nil, fmt.Errorf("%s profile %q not found", interceptorName, profileName)
	}
	profile, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s profile %q is not a map", interceptorName, profileName)
	}
	return profile, nil
}

// Build constructs the named interceptor for one profile. The profile
// name is passed to the interceptor as "profile".
func Build(interceptorsCfg map[string]map[string]any, interceptorName, profileName string, log *slog.Logger) (Middleware, error) {
	profileConfig, err := GetProfileConfig(interceptorsCfg, interceptorName, profileName)
	if err != nil {
		return nil, err
	}
	newInterceptor, ok := Get(interceptorName)
	if !ok {
		return nil, fmt.Errorf("interceptor %q not registered", interceptorName)
	}
	conf := maps.Clone(profileConfig)
	if conf == nil {
		conf = map[string]any{}
	}
	conf["profile"] = profileName
	return newInterceptor(conf, log)
}

// BuildOrDefault is Build when profileName is set. Otherwise the
// interceptor runs with its own defaults under fallbackProfile.
func BuildOrDefault(interceptorsCfg map[string]map[string]any, interceptorName, profileName, fallbackProfile string, log *slog.Logger) (Middleware, error) {
	if profileName != "" {
		return Build(interceptorsCfg, interceptorName, profileName, log)
	}
	newInterceptor, ok := Get(interceptorName)
	if !ok {
		return nil, fmt.Errorf("interceptor %q not registered", interceptorName)
	}
	return newInterceptor(map[string]any{"profile": fallbackProfile}, log)
}
