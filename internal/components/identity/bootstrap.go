package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"

	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/logutil"
)

// SeededUser describes an account created at startup.
type SeededUser struct {
	Username    string
	Password    string
	Email       string
	DisplayName string
	Role        string
}

// Bootstrap creates the super admin and seeded users idempotently.
type Bootstrap struct {
	repo PartyRepo
	auth *UserAuth
	log  *slog.Logger
}

func NewBootstrap(repo PartyRepo, auth *UserAuth, log *slog.Logger) *Bootstrap {
	log = logutil.NoopIfNil(log)
	return &Bootstrap{
		repo: repo,
		auth: auth,
		log:  log,
	}
}

// Seed creates any missing users; returns the count created.
func (b *Bootstrap) Seed(ctx context.Context, users []SeededUser) (int, error) {
	var created int
	for _, s := range users {
		n, err := b.ensureUser(ctx, s)
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

// EnsureSuperAdmin creates the super admin when none exists.
// An empty password is replaced by a random one that is logged once.
// An existing super admin only gets its password rotated when
// explicitPasswordSet is true.
func (b *Bootstrap) EnsureSuperAdmin(ctx context.Context, admin SeededUser, explicitPasswordSet bool) (*User, error) {
	if admin.Username == "" {
		admin.Username = "admin"
	}
	users, err := b.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, u := range users {
		if !u.IsSuperAdmin() {
			continue
		}
		if explicitPasswordSet && admin.Password != "" {
			hash, err := b.auth.HashPassword(admin.Password)
			if err != nil {
				return nil, err
			}
			u.PasswordHash = hash
			if err := b.repo.Update(ctx, u); err != nil {
				return nil, err
			}
			b.log.Info("super admin password rotated", "username", u.Username)
		}
		return u, nil
	}

	generated := false
	if admin.Password == "" {
		admin.Password = generateRandomPassword()
		generated = true
	}
	if admin.DisplayName == "" {
		admin.DisplayName = "Super Administrator"
	}
	admin.Role = RoleSuperAdmin

	u, err := b.create(ctx, admin)
	if err != nil {
		return nil, err
	}

	if generated {
		b.log.Info("super admin created with auto-generated password",
			"username", u.Username,
			"password", admin.Password,
			"user_id", u.ID)
	} else {
		b.log.Info("super admin created", "username", u.Username, "user_id", u.ID)
	}
	return u, nil
}

func generateRandomPassword() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "changeme-" + NewID()
	}
	return base64.URLEncoding.EncodeToString(b)
}

func (b *Bootstrap) ensureUser(ctx context.Context, s SeededUser) (int, error) {
	_, err := b.repo.GetByUsername(ctx, s.Username)
	if err == nil {
		b.log.Debug("user already exists", "username", s.Username)
		return 0, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return 0, err
	}
	if s.Role == "" {
		s.Role = RoleUser
	}
	if _, err := b.create(ctx, s); err != nil {
		return 0, err
	}
	b.log.Info("created user", "username", s.Username, "role", s.Role)
	return 1, nil
}

func (b *Bootstrap) create(ctx context.Context, s SeededUser) (*User, error) {
	hash, err := b.auth.HashPassword(s.Password)
	if err != nil {
		return nil, err
	}
	u := &User{
		ID:           NewID(),
		Username:     s.Username,
		Email:        s.Email,
		DisplayName:  s.DisplayName,
		PasswordHash: hash,
		Role:         s.Role,
	}
	if err := b.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
