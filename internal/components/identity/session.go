package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/cache"
)

const sessionKeyPrefix = "session:"

// Session represents an active login.
type Session struct {
	Token     string    `json:"-"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// SessionRepo provides session storage operations.
type SessionRepo interface {
	// Create creates a new session for the user.
	Create(ctx context.Context, userID string, ttl time.Duration) (*Session, error)

	// Get retrieves a session by token. Returns ErrSessionNotFound if not found.
	Get(ctx context.Context, token string) (*Session, error)

	// Delete removes a session (logout).
	Delete(ctx context.Context, token string) error
}

// GenerateToken creates a cryptographically secure random token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CacheSessionRepo keeps sessions in the shared cache so that every
// instance behind the same redis sees the same logins.
type CacheSessionRepo struct {
	c cache.Cache
}

func NewCacheSessionRepo(c cache.Cache) *CacheSessionRepo {
	return &CacheSessionRepo{c: c}
}

func (r *CacheSessionRepo) Create(ctx context.Context, userID string, ttl time.Duration) (*Session, error) {
	if ttl <= 0 {
		ttl = cache.TTLSession
	}
	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	s := &Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	if err := r.c.Set(ctx, sessionKeyPrefix+token, raw, ttl); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return s, nil
}

func (r *CacheSessionRepo) Get(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}
	raw, err := r.c.Get(ctx, sessionKeyPrefix+token)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return nil, ErrSessionNotFound
	case errors.Is(err, cache.ErrExpired):
		return nil, ErrSessionExpired
	case err != nil:
		return nil, fmt.Errorf("load session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, ErrSessionNotFound
	}
	s.Token = token
	if s.IsExpired() {
		return nil, ErrSessionExpired
	}
	return &s, nil
}

func (r *CacheSessionRepo) Delete(ctx context.Context, token string) error {
	return r.c.Delete(ctx, sessionKeyPrefix+token)
}

var _ SessionRepo = (*CacheSessionRepo)(nil)
