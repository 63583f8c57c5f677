// Package interceptors holds named HTTP middleware constructors. Each
// interceptor registers itself from init and is instantiated per profile
// from [http.interceptors.<name>.profiles.<profile>].
package interceptors

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// NewInterceptor builds a Middleware from a decoded profile map.
type NewInterceptor func(conf map[string]any, log *slog.Logger) (Middleware, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]NewInterceptor{}
)

// Register adds a constructor. Names are unique.
func Register(name string, fn NewInterceptor) error {
	if name == "" || fn == nil {
		return fmt.Errorf("interceptor registration needs a name and a constructor")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		return fmt.Errorf("interceptor %q already registered", name)
	}
	registry[name] = fn
	return nil
}

// MustRegister is Register for init functions.
func MustRegister(name string, fn NewInterceptor) {
	if err := Register(name, fn); err != nil {
		panic(err)
	}
}

// Get returns the constructor registered under name.
func Get(name string) (NewInterceptor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

// Names lists registered interceptors in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := lo.Keys(registry)
	slices.Sort(names)
	return names
}

// Identity passes requests through untouched.
func Identity(next http.Handler) http.Handler { return next }

// Chain applies mws so that the first one is outermost. Nil entries are
// skipped.
func Chain(mws ...Middleware) Middleware {
	mws = lo.Filter(mws, func(m Middleware, _ int) bool { return m != nil })
	return func(next http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
