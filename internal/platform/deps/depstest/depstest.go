// Package depstest wires a complete deps.Deps for service tests: sqlite
// in a temp dir, the memory cache and a recording mailer.
package depstest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/identity"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/notify"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/cache/memory"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/config"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/deps"
	httpclient "github.com/MahdiBaghbani/collabmesh-go/internal/platform/http/client"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/store/storetest"
)

// Mailer records every message it is asked to send.
type Mailer struct {
	mu   sync.Mutex
	Sent []notify.Message
}

func (m *Mailer) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, msg)
	return nil
}

// Env is a wired instance.
type Env struct {
	Deps   *deps.Deps
	Mailer *Mailer
}

// Config returns the dev preset pointed at origin.
func Config(origin string) *config.Config {
	cfg := config.DevConfig()
	cfg.PublicOrigin = origin
	cfg.Instance.Name = "Test Mesh"
	cfg.Directory.VerifyPeers = false
	return cfg
}

// New wires cfg and installs the result as the shared deps until the
// test ends.
func New(t *testing.T, cfg *config.Config) *Env {
	t.Helper()

	c := memory.New(time.Hour, time.Minute)
	t.Cleanup(func() { c.Close() })

	hcCfg := httpclient.DefaultConfig()
	hcCfg.SSRFMode = "off"
	mailer := &Mailer{}

	d, err := deps.Wire(context.Background(), cfg, deps.Components{
		DB:         storetest.NewDB(t),
		Cache:      c,
		HTTPClient: httpclient.New(&hcCfg),
		Mailer:     mailer,
		UserAuth:   identity.NewUserAuthFast(),
	}, nil)
	if err != nil {
		t.Fatalf("wire deps: %v", err)
	}

	deps.ResetDeps()
	deps.SetDeps(d)
	t.Cleanup(deps.ResetDeps)
	return &Env{Deps: d, Mailer: mailer}
}

// User creates a user with a password of "secret" and returns it with a
// live session token.
func (e *Env) User(t *testing.T, username, email, role string) (*identity.User, string) {
	t.Helper()
	ctx := context.Background()

	hash, err := e.Deps.UserAuth.HashPassword("secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &identity.User{
		ID:           identity.NewID(),
		Username:     username,
		Email:        email,
		DisplayName:  username,
		PasswordHash: hash,
		Role:         role,
	}
	if err := e.Deps.PartyRepo.Create(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	s, err := e.Deps.SessionRepo.Create(ctx, u.ID, time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return u, s.Token
}
