package tls

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/config"
)

func serveChallenge(a *ACME, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.ChallengeHandler().ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

func TestChallengeHandler(t *testing.T) {
	a := NewACME(&config.ACMEConfig{StorageDir: t.TempDir()}, nil, nil)

	// Before any challenge is presented nothing is served.
	if rec := serveChallenge(a, ChallengePrefix+"tok"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown token = %d", rec.Code)
	}

	if err := a.challenges.Present("mesh.test", "tok", "tok.key-auth"); err != nil {
		t.Fatal(err)
	}
	rec := serveChallenge(a, ChallengePrefix+"tok")
	if rec.Code != http.StatusOK || rec.Body.String() != "tok.key-auth" {
		t.Errorf("served = %d %q", rec.Code, rec.Body.String())
	}

	for _, path := range []string{ChallengePrefix, "/elsewhere/tok", ChallengePrefix + "other"} {
		if rec := serveChallenge(a, path); rec.Code != http.StatusNotFound {
			t.Errorf("%s = %d, want 404", path, rec.Code)
		}
	}

	if err := a.challenges.CleanUp("mesh.test", "tok", ""); err != nil {
		t.Fatal(err)
	}
	if rec := serveChallenge(a, ChallengePrefix+"tok"); rec.Code != http.StatusNotFound {
		t.Errorf("after cleanup = %d", rec.Code)
	}
}

func TestChallengeExpires(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := NewACME(&config.ACMEConfig{}, nil, nil)
	a.challenges.now = func() time.Time { return now }

	if err := a.challenges.Present("mesh.test", "tok", "auth"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(challengeTTL + time.Second)
	if rec := serveChallenge(a, ChallengePrefix+"tok"); rec.Code != http.StatusNotFound {
		t.Errorf("expired token = %d", rec.Code)
	}
	if _, ok := a.challenges.tokens["tok"]; ok {
		t.Error("expired token not removed")
	}
}

func TestObtain_RequiresDomainAndEmail(t *testing.T) {
	dir := t.TempDir()
	if err := NewACME(&config.ACMEConfig{StorageDir: dir, Email: "ops@mesh.test"}, nil, nil).Obtain(context.Background()); err == nil || !strings.Contains(err.Error(), "domain") {
		t.Errorf("missing domain = %v", err)
	}
	if err := NewACME(&config.ACMEConfig{StorageDir: dir, Domain: "mesh.test"}, nil, nil).Obtain(context.Background()); err == nil || !strings.Contains(err.Error(), "email") {
		t.Errorf("missing email = %v", err)
	}
}

func TestObtain_ReusesStoredCertificate(t *testing.T) {
	dir := t.TempDir()
	// A self-signed pair in the storage dir stands in for an issued one.
	s := &SelfSigned{Dir: dir, Hostname: "mesh.test"}
	if _, err := s.Certificate(nil); err != nil {
		t.Fatal(err)
	}

	a := NewACME(&config.ACMEConfig{StorageDir: dir, Domain: "mesh.test", Email: "ops@mesh.test", Directory: "https://acme.invalid/directory"}, nil, nil)
	if err := a.Obtain(context.Background()); err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	if cert, err := a.GetCertificate(nil); err != nil || cert == nil {
		t.Errorf("GetCertificate = %v, %v", cert, err)
	}
	if a.ServerConfig().GetCertificate == nil {
		t.Error("server config must use GetCertificate")
	}
}

func TestDirectoryURL(t *testing.T) {
	tests := []struct {
		cfg  config.ACMEConfig
		want string
	}{
		{config.ACMEConfig{}, letsEncryptProduction},
		{config.ACMEConfig{UseStaging: true}, letsEncryptStaging},
		{config.ACMEConfig{Directory: "https://pebble:14000/dir", UseStaging: true}, "https://pebble:14000/dir"},
	}
	for _, tt := range tests {
		a := NewACME(&tt.cfg, nil, nil)
		if got := a.directoryURL(); got != tt.want {
			t.Errorf("directoryURL(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}
