// Package identity provides user management, authentication, and session handling.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/store"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrUserExists           = errors.New("user already exists")
	ErrEmailExists          = errors.New("email already in use")
	ErrInvalidPassword      = errors.New("invalid password")
	ErrSessionExpired       = errors.New("session expired")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSuperAdminRoleChange = errors.New("super admin role cannot be changed")
)

const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

func init() {
	store.RegisterModel(&User{})
}

// User is a local account.
type User struct {
	ID           string    `json:"id" gorm:"primaryKey"`                  // UUIDv7
	Username     string    `json:"username" gorm:"uniqueIndex;not null"`  // login name
	Email        string    `json:"email" gorm:"index"`                    // normalized, may be empty
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin || u.Role == RoleSuperAdmin
}

func (u *User) IsSuperAdmin() bool {
	return u.Role == RoleSuperAdmin
}

// CloudID is the user's federated address on the given provider domain.
func (u *User) CloudID(providerDomain string) string {
	return u.Username + "@" + providerDomain
}

// PartyRepo provides user storage operations.
type PartyRepo interface {
	// Create creates a new user. Returns ErrUserExists if username is taken.
	Create(ctx context.Context, user *User) error

	// Get retrieves a user by ID. Returns ErrUserNotFound if not found.
	Get(ctx context.Context, id string) (*User, error)

	// GetByUsername retrieves a user by username. Returns ErrUserNotFound if not found.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive, trimmed).
	// Returns ErrUserNotFound if not found or if email is empty.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// Update updates an existing user.
	Update(ctx context.Context, user *User) error

	// List returns all users ordered by username.
	List(ctx context.Context) ([]*User, error)
}

// NewID returns a time-ordered UUIDv7 string.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GormPartyRepo stores users in the shared database.
type GormPartyRepo struct {
	db *gorm.DB
}

func NewGormPartyRepo(db *gorm.DB) *GormPartyRepo {
	return &GormPartyRepo{db: db}
}

func (r *GormPartyRepo) Create(ctx context.Context, user *User) error {
	user.Email = normalizeEmail(user.Email)
	if user.Email != "" {
		if _, err := r.GetByEmail(ctx, user.Email); err == nil {
			return ErrEmailExists
		} else if !errors.Is(err, ErrUserNotFound) {
			return err
		}
	}
	if user.ID == "" {
		user.ID = NewID()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if store.IsDuplicate(err) {
			return ErrUserExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *GormPartyRepo) first(ctx context.Context, query string, arg any) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).Where(query, arg).First(&u).Error; err != nil {
		if store.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (r *GormPartyRepo) Get(ctx context.Context, id string) (*User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *GormPartyRepo) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.first(ctx, "username = ?", username)
}

func (r *GormPartyRepo) GetByEmail(ctx context.Context, email string) (*User, error) {
	norm := normalizeEmail(email)
	if norm == "" {
		return nil, ErrUserNotFound
	}
	return r.first(ctx, "email = ?", norm)
}

func (r *GormPartyRepo) Update(ctx context.Context, user *User) error {
	existing, err := r.Get(ctx, user.ID)
	if err != nil {
		return err
	}
	if existing.IsSuperAdmin() && user.Role != RoleSuperAdmin {
		return ErrSuperAdminRoleChange
	}

	user.Email = normalizeEmail(user.Email)
	if user.Email != "" && user.Email != existing.Email {
		if other, err := r.GetByEmail(ctx, user.Email); err == nil && other.ID != user.ID {
			return ErrEmailExists
		}
	}

	if err := r.db.WithContext(ctx).Save(user).Error; err != nil {
		if store.IsDuplicate(err) {
			return ErrUserExists
		}
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (r *GormPartyRepo) List(ctx context.Context) ([]*User, error) {
	var users []*User
	if err := r.db.WithContext(ctx).Order("username").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

var _ PartyRepo = (*GormPartyRepo)(nil)
