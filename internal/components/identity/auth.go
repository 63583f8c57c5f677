package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2Params are the Argon2id cost settings used for new hashes.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

// DefaultArgon2Params follow the OWASP password storage guidance.
var DefaultArgon2Params = Argon2Params{Time: 3, Memory: 64 * 1024, Threads: 4, KeyLen: 32, SaltLen: 16}

// FastArgon2Params keep tests quick. Never use them in production.
var FastArgon2Params = Argon2Params{Time: 1, Memory: 16 * 1024, Threads: 2, KeyLen: 32, SaltLen: 16}

// UserAuth hashes and checks passwords. Hashes are PHC strings:
// $argon2id$v=19$m=65536,t=3,p=4$<salt>$<key>.
type UserAuth struct {
	params Argon2Params
	log    *slog.Logger
}

// NewUserAuth uses DefaultArgon2Params.
func NewUserAuth() *UserAuth { return NewUserAuthWithParams(DefaultArgon2Params) }

// NewUserAuthFast uses FastArgon2Params.
func NewUserAuthFast() *UserAuth { return NewUserAuthWithParams(FastArgon2Params) }

func NewUserAuthWithParams(p Argon2Params) *UserAuth {
	return &UserAuth{params: p, log: slog.Default()}
}

// phc is a decoded argon2id hash string.
type phc struct {
	version int
	params  Argon2Params
	salt    []byte
	key     []byte
}

func parsePHC(encoded string) (phc, error) {
	var h phc
	fields := strings.Split(strings.TrimPrefix(encoded, "$"), "$")
	if len(fields) != 5 || fields[0] != "argon2id" {
		return h, ErrInvalidPassword
	}
	if _, err := fmt.Sscanf(fields[1], "v=%d", &h.version); err != nil || h.version != argon2.Version {
		return h, ErrInvalidPassword
	}
	p := &h.params
	if _, err := fmt.Sscanf(fields[2], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return h, ErrInvalidPassword
	}
	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(fields[3]); err != nil {
		return h, ErrInvalidPassword
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(fields[4]); err != nil || len(h.key) == 0 {
		return h, ErrInvalidPassword
	}
	p.SaltLen = uint32(len(h.salt))
	p.KeyLen = uint32(len(h.key))
	return h, nil
}

func (h phc) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		h.version, h.params.Memory, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(h.salt),
		base64.RawStdEncoding.EncodeToString(h.key))
}

// HashPassword returns a fresh PHC hash of password.
func (a *UserAuth) HashPassword(password string) (string, error) {
	salt := make([]byte, a.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	p := a.params
	h := phc{
		version: argon2.Version,
		params:  p,
		salt:    salt,
		key:     argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen),
	}
	return h.String(), nil
}

// VerifyPassword returns ErrInvalidPassword unless password matches
// encodedHash. Malformed hashes never match.
func (a *UserAuth) VerifyPassword(encodedHash, password string) error {
	h, err := parsePHC(encodedHash)
	if err != nil {
		return err
	}
	p := h.params
	computed := argon2.IDKey([]byte(password), h.salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	if subtle.ConstantTimeCompare(h.key, computed) != 1 {
		return ErrInvalidPassword
	}
	return nil
}

// NeedsRehash reports whether encodedHash was made with other parameters.
func (a *UserAuth) NeedsRehash(encodedHash string) bool {
	h, err := parsePHC(encodedHash)
	if err != nil {
		return true
	}
	return h.params != a.params
}

// Authenticate checks username and password against repo. Unknown users
// and wrong passwords both yield ErrInvalidPassword. A stored hash made
// with outdated parameters is replaced after a successful check.
func (a *UserAuth) Authenticate(ctx context.Context, repo PartyRepo, username, password string) (*User, error) {
	user, err := repo.GetByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		// Spend the same time as a real check.
		_, _ = a.HashPassword(password)
		return nil, ErrInvalidPassword
	}
	if err != nil {
		return nil, err
	}

	if err := a.VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, err
	}

	if a.NeedsRehash(user.PasswordHash) {
		if hash, err := a.HashPassword(password); err == nil {
			user.PasswordHash = hash
			if err := repo.Update(ctx, user); err != nil {
				a.log.Warn("password rehash not stored", "user", user.Username, "error", err)
			}
		}
	}
	return user, nil
}
