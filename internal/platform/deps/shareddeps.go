// Package deps provides shared dependencies for all services.
package deps

import (
	"sync"

	"gorm.io/gorm"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/directory"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/federation"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/identity"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/invitations"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/notify"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/cache"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/config"
	httpclient "github.com/MahdiBaghbani/collabmesh-go/internal/platform/http/client"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/http/realip"
)

var (
	sharedDeps     *Deps
	sharedDepsOnce sync.Once
)

// Deps holds shared dependencies for all services. Services are
// constructed from the registry with only their config map, so everything
// else reaches them through here.
type Deps struct {
	Config *config.Config
	DB     *gorm.DB

	// Identity (for session-gated endpoints)
	PartyRepo   identity.PartyRepo
	SessionRepo identity.SessionRepo
	UserAuth    *identity.UserAuth

	// Invitation domain
	Directory   *directory.Directory
	Onboarder   *directory.Onboarder
	Invitations *invitations.Guard
	Coordinator *federation.Coordinator
	Inbox       *notify.Inbox

	HTTPClient httpclient.HTTPClient

	// Cache backs sessions, peer self-descriptions, notifications and
	// rate limiting.
	Cache cache.CacheWithCounter

	// RealIP is the single source of client identity for logging and
	// rate limiting.
	RealIP *realip.TrustedProxies
}

// SetDeps sets the shared dependencies. Must be called once at startup
// before any services are constructed.
func SetDeps(d *Deps) {
	sharedDepsOnce.Do(func() {
		sharedDeps = d
	})
}

// GetDeps returns the shared dependencies, or nil before SetDeps.
func GetDeps() *Deps {
	return sharedDeps
}

// ResetDeps is for testing only. Resets the singleton.
func ResetDeps() {
	sharedDeps = nil
	sharedDepsOnce = sync.Once{}
}
