package identity_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/identity"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/cache/memory"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/store/storetest"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

func newRepo(t *testing.T) *identity.GormPartyRepo {
	t.Helper()
	return identity.NewGormPartyRepo(storetest.NewDB(t))
}

func TestGormPartyRepo_CRUD(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	user := &identity.User{
		Username:     "alice",
		Email:        "  Alice@Example.com ",
		DisplayName:  "Alice Smith",
		PasswordHash: "hashed",
		Role:         identity.RoleUser,
	}
	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if user.ID == "" {
		t.Error("ID should be assigned on create")
	}

	got, err := repo.Get(ctx, user.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Email != "alice@example.com" {
		t.Errorf("email not normalized: %q", got.Email)
	}

	if _, err := repo.GetByEmail(ctx, "ALICE@example.com"); err != nil {
		t.Errorf("GetByEmail: %v", err)
	}
	if _, err := repo.GetByEmail(ctx, ""); !errors.Is(err, identity.ErrUserNotFound) {
		t.Errorf("empty email should be not found, got %v", err)
	}

	got.DisplayName = "Alice S."
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	again, _ := repo.GetByUsername(ctx, "alice")
	if again.DisplayName != "Alice S." {
		t.Errorf("update not persisted: %q", again.DisplayName)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, identity.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestGormPartyRepo_Uniqueness(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	if err := repo.Create(ctx, &identity.User{Username: "bob", Email: "bob@example.com"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(ctx, &identity.User{Username: "bob"}); !errors.Is(err, identity.ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}
	if err := repo.Create(ctx, &identity.User{Username: "bobby", Email: "BOB@example.com"}); !errors.Is(err, identity.ErrEmailExists) {
		t.Errorf("expected ErrEmailExists, got %v", err)
	}
}

func TestCloudID(t *testing.T) {
	u := &identity.User{Username: "admin"}
	if got := u.CloudID("nc-1.example"); got != "admin@nc-1.example" {
		t.Errorf("CloudID = %q", got)
	}
}

func TestUserAuth_HashAndVerify(t *testing.T) {
	auth := identity.NewUserAuthFast()

	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Errorf("unexpected hash format %q", hash)
	}
	if err := auth.VerifyPassword(hash, "s3cret"); err != nil {
		t.Errorf("verify: %v", err)
	}
	if err := auth.VerifyPassword(hash, "wrong"); !errors.Is(err, identity.ErrInvalidPassword) {
		t.Errorf("expected ErrInvalidPassword, got %v", err)
	}
	if err := auth.VerifyPassword("garbage", "s3cret"); !errors.Is(err, identity.ErrInvalidPassword) {
		t.Errorf("expected ErrInvalidPassword for malformed hash, got %v", err)
	}
}

func TestUserAuth_Authenticate(t *testing.T) {
	repo := newRepo(t)
	auth := identity.NewUserAuthFast()
	ctx := context.Background()

	hash, _ := auth.HashPassword("pw")
	repo.Create(ctx, &identity.User{Username: "carol", PasswordHash: hash})

	if _, err := auth.Authenticate(ctx, repo, "carol", "pw"); err != nil {
		t.Errorf("Authenticate: %v", err)
	}
	if _, err := auth.Authenticate(ctx, repo, "carol", "nope"); !errors.Is(err, identity.ErrInvalidPassword) {
		t.Errorf("bad password: %v", err)
	}
	if _, err := auth.Authenticate(ctx, repo, "nobody", "pw"); !errors.Is(err, identity.ErrInvalidPassword) {
		t.Errorf("unknown user should look like a bad password, got %v", err)
	}
}

func TestUserAuth_MalformedHashes(t *testing.T) {
	auth := identity.NewUserAuthFast()
	good, _ := auth.HashPassword("pw")
	parts := strings.Split(good, "$")

	bad := map[string]string{
		"empty":         "",
		"wrong variant": strings.Replace(good, "argon2id", "argon2i", 1),
		"wrong version": strings.Replace(good, "v=19", "v=16", 1),
		"bad params":    strings.Replace(good, parts[3], "m=x,t=1,p=1", 1),
		"bad salt":      strings.Replace(good, parts[4], "!!", 1),
		"empty key":     strings.TrimSuffix(good, parts[5]),
		"extra field":   good + "$more",
	}
	for name, hash := range bad {
		t.Run(name, func(t *testing.T) {
			if err := auth.VerifyPassword(hash, "pw"); !errors.Is(err, identity.ErrInvalidPassword) {
				t.Errorf("VerifyPassword = %v", err)
			}
			if !auth.NeedsRehash(hash) {
				t.Error("malformed hash should need a rehash")
			}
		})
	}
}

func TestUserAuth_RehashOnLogin(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	weak := identity.NewUserAuthWithParams(identity.Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16})
	current := identity.NewUserAuthFast()

	old, _ := weak.HashPassword("pw")
	if !current.NeedsRehash(old) {
		t.Fatal("hash with weaker params should need a rehash")
	}
	repo.Create(ctx, &identity.User{Username: "dave", PasswordHash: old})

	if _, err := current.Authenticate(ctx, repo, "dave", "pw"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	stored, err := repo.GetByUsername(ctx, "dave")
	if err != nil {
		t.Fatal(err)
	}
	if stored.PasswordHash == old || current.NeedsRehash(stored.PasswordHash) {
		t.Errorf("hash not upgraded: %q", stored.PasswordHash)
	}
	if err := current.VerifyPassword(stored.PasswordHash, "pw"); err != nil {
		t.Errorf("upgraded hash does not verify: %v", err)
	}
}

func TestCacheSessionRepo(t *testing.T) {
	c := memory.New(time.Minute, 0)
	t.Cleanup(func() { c.Close() })
	repo := identity.NewCacheSessionRepo(c)
	ctx := context.Background()

	s, err := repo.Create(ctx, "user-123", time.Hour)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.Token == "" {
		t.Fatal("token should be assigned")
	}

	got, err := repo.Get(ctx, s.Token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "user-123" || got.Token != s.Token {
		t.Errorf("unexpected session %+v", got)
	}

	if err := repo.Delete(ctx, s.Token); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Get(ctx, s.Token); !errors.Is(err, identity.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := repo.Get(ctx, ""); !errors.Is(err, identity.ErrSessionNotFound) {
		t.Errorf("empty token: %v", err)
	}
}

func TestCacheSessionRepo_Expired(t *testing.T) {
	c := memory.New(time.Minute, 0)
	t.Cleanup(func() { c.Close() })
	repo := identity.NewCacheSessionRepo(c)
	ctx := context.Background()

	s, _ := repo.Create(ctx, "user-123", time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	if _, err := repo.Get(ctx, s.Token); !errors.Is(err, identity.ErrSessionExpired) {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}
}

func TestBootstrap_EnsureSuperAdmin(t *testing.T) {
	repo := newRepo(t)
	auth := identity.NewUserAuthFast()
	b := identity.NewBootstrap(repo, auth, testLogger)
	ctx := context.Background()

	admin, err := b.EnsureSuperAdmin(ctx, identity.SeededUser{
		Username: "admin",
		Password: "first",
		Email:    "admin@nc-1.example",
	}, true)
	if err != nil {
		t.Fatalf("EnsureSuperAdmin: %v", err)
	}
	if !admin.IsSuperAdmin() || admin.DisplayName == "" {
		t.Errorf("unexpected admin %+v", admin)
	}

	again, err := b.EnsureSuperAdmin(ctx, identity.SeededUser{Username: "admin", Password: "second"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != admin.ID {
		t.Error("second call must not create another super admin")
	}
	if _, err := auth.Authenticate(ctx, repo, "admin", "first"); err != nil {
		t.Errorf("password must not rotate without explicit flag: %v", err)
	}

	if _, err := b.EnsureSuperAdmin(ctx, identity.SeededUser{Username: "admin", Password: "second"}, true); err != nil {
		t.Fatal(err)
	}
	if _, err := auth.Authenticate(ctx, repo, "admin", "second"); err != nil {
		t.Errorf("password should rotate: %v", err)
	}
}

func TestBootstrap_Seed(t *testing.T) {
	repo := newRepo(t)
	b := identity.NewBootstrap(repo, identity.NewUserAuthFast(), testLogger)
	ctx := context.Background()

	seeded := []identity.SeededUser{
		{Username: "lex", Password: "p", Email: "lex@nc-2.example"},
		{Username: "marie", Password: "p"},
	}
	n, err := b.Seed(ctx, seeded)
	if err != nil || n != 2 {
		t.Fatalf("Seed = %d, %v", n, err)
	}
	n, err = b.Seed(ctx, seeded)
	if err != nil || n != 0 {
		t.Errorf("second Seed = %d, %v", n, err)
	}

	u, _ := repo.GetByUsername(ctx, "lex")
	if u.Role != identity.RoleUser {
		t.Errorf("default role = %q", u.Role)
	}
}
