package deps

import (
	"context"
	"fmt"
	"log/slog"
	"time"

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
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/logutil"
)

// WAYFPath is the chooser page relative to the application base URL.
const WAYFPath = "/mesh-registry/wayf"

// Components are the collaborators Wire cannot build itself.
type Components struct {
	DB         *gorm.DB
	Cache      cache.CacheWithCounter
	HTTPClient httpclient.HTTPClient
	Mailer     notify.Mailer
	UserAuth   *identity.UserAuth
}

// Wire builds the domain graph on top of opened infrastructure and records
// this instance in its own provider directory.
func Wire(ctx context.Context, cfg *config.Config, c Components, log *slog.Logger) (*Deps, error) {
	log = logutil.NoopIfNil(log)
	if c.Mailer == nil {
		c.Mailer = notify.NewLogMailer(log)
	}
	if c.UserAuth == nil {
		c.UserAuth = identity.NewUserAuth()
	}

	dir := directory.New(c.DB, directory.Options{AllowInsecureEndpoints: cfg.Directory.AllowInsecureEndpoints}, log)
	self, err := dir.EnsureSelf(ctx, directory.Provider{
		UUID:     cfg.Instance.UUID,
		Domain:   cfg.ProviderDomain(),
		Name:     cfg.Instance.Name,
		Endpoint: cfg.AppBaseURL(),
	})
	if err != nil {
		return nil, fmt.Errorf("register self in directory: %w", err)
	}

	peers := directory.NewPeerClient(c.HTTPClient, c.Cache, log)
	guard := invitations.NewGuard(invitations.NewStore(c.DB))
	inbox := notify.NewInbox(c.Cache, time.Duration(cfg.Invitations.NotificationTTLSeconds)*time.Second)

	coord := federation.New(federation.Config{
		ForwardEndpoint:               cfg.ForwardInviteEndpoint(),
		WAYFEndpoint:                  cfg.AppBaseURL() + WAYFPath,
		RequireKnownRecipientProvider: cfg.Invitations.RequireKnownRecipientProvider,
	}, guard, dir, c.HTTPClient, c.Mailer, inbox, log)

	log.Info("provider directory ready", "endpoint", self.Endpoint, "domain", self.Domain)

	return &Deps{
		Config:      cfg,
		DB:          c.DB,
		PartyRepo:   identity.NewGormPartyRepo(c.DB),
		SessionRepo: identity.NewCacheSessionRepo(c.Cache),
		UserAuth:    c.UserAuth,
		Directory:   dir,
		Onboarder:   directory.NewOnboarder(dir, peers, self.Endpoint, cfg.Directory.VerifyPeers),
		Invitations: guard,
		Coordinator: coord,
		Inbox:       inbox,
		HTTPClient:  c.HTTPClient,
		Cache:       c.Cache,
		RealIP:      realip.NewTrustedProxies(cfg.Server.TrustedProxies),
	}, nil
}
