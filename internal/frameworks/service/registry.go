package service

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/logutil"
)

// CoreServices are built on every start, with or without an
// [http.services.<name>] table.
var CoreServices = []string{"wellknown", "ocm", "registry", "api"}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]NewService)
)

// Register adds a service constructor under name. Service packages call
// MustRegister from init; Register is the error-returning form.
func Register(name string, newFunc NewService) error {
	switch {
	case name == "":
		return fmt.Errorf("service name is empty")
	case newFunc == nil:
		return fmt.Errorf("service %q has a nil constructor", name)
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		return fmt.Errorf("service %q already registered", name)
	}
	registry[name] = newFunc
	return nil
}

// MustRegister panics where Register would fail.
func MustRegister(name string, newFunc NewService) {
	if err := Register(name, newFunc); err != nil {
		panic(err)
	}
}

// Get returns the constructor registered under name, or nil.
func Get(name string) NewService {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[name]
}

// RegisteredServices returns the registered names in sorted order.
func RegisteredServices() []string {
	registryMu.RLock()
	names := lo.Keys(registry)
	registryMu.RUnlock()
	slices.Sort(names)
	return names
}

// BuildCore constructs every core service. confFor returns the raw
// [http.services.<name>] map, nil when absent. On failure the services
// built so far are closed.
func BuildCore(confFor func(name string) map[string]any, log *slog.Logger) (map[string]Service, error) {
	log = logutil.NoopIfNil(log)
	built := make(map[string]Service, len(CoreServices))
	for _, name := range CoreServices {
		newFunc := Get(name)
		if newFunc == nil {
			closeAll(built)
			return nil, fmt.Errorf("service %q is not registered", name)
		}
		conf := confFor(name)
		if conf == nil {
			conf = map[string]any{}
		}
		svc, err := newFunc(conf, log.With("service", name))
		if err != nil {
			closeAll(built)
			return nil, fmt.Errorf("service %q: %w", name, err)
		}
		built[name] = svc
	}
	return built, nil
}

func closeAll(built map[string]Service) {
	for _, svc := range built {
		_ = svc.Close()
	}
}

// resetRegistry empties the registry between tests.
func resetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]NewService)
}
