package tls

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	cryptotls "crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/config"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/logutil"
)

const (
	letsEncryptStaging    = "https://acme-staging-v02.api.letsencrypt.org/directory"
	letsEncryptProduction = "https://acme-v02.api.letsencrypt.org/directory"

	// ChallengePrefix is where HTTP-01 tokens are served.
	ChallengePrefix = "/.well-known/acme-challenge/"

	challengeTTL = 10 * time.Minute
)

// account is the persisted ACME registration. It implements lego's User.
type account struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration,omitempty"`
	KeyPEM       string                 `json:"key_pem"`
	key          crypto.PrivateKey
}

func (a *account) GetEmail() string                        { return a.Email }
func (a *account) GetRegistration() *registration.Resource { return a.Registration }
func (a *account) GetPrivateKey() crypto.PrivateKey        { return a.key }

type pendingChallenge struct {
	keyAuth string
	expires time.Time
}

// challenges is lego's HTTP-01 provider. Tokens live in memory and are
// served by the server's own HTTP listener.
type challenges struct {
	mu     sync.Mutex
	tokens map[string]pendingChallenge
	now    func() time.Time
}

func (c *challenges) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// Present implements challenge.Provider.
func (c *challenges) Present(_, token, keyAuth string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		c.tokens = make(map[string]pendingChallenge)
	}
	c.tokens[token] = pendingChallenge{keyAuth: keyAuth, expires: c.clock().Add(challengeTTL)}
	return nil
}

// CleanUp implements challenge.Provider.
func (c *challenges) CleanUp(_, token, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, token)
	return nil
}

func (c *challenges) lookup(token string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.tokens[token]
	if !ok {
		return "", false
	}
	if c.clock().After(p.expires) {
		delete(c.tokens, token)
		return "", false
	}
	return p.keyAuth, true
}

// ACME obtains and serves a certificate for one domain through lego.
type ACME struct {
	cfg   *config.ACMEConfig
	log   *slog.Logger
	roots *x509.CertPool

	challenges challenges

	mu   sync.RWMutex
	cert *cryptotls.Certificate
}

// NewACME creates an ACME source. roots verifies the ACME directory; nil
// means the system roots.
func NewACME(cfg *config.ACMEConfig, log *slog.Logger, roots *x509.CertPool) *ACME {
	return &ACME{cfg: cfg, log: logutil.NoopIfNil(log), roots: roots}
}

func (a *ACME) file(name string) string {
	return filepath.Join(a.cfg.StorageDir, name)
}

// Obtain makes a certificate available. A stored certificate that is not
// close to expiry is reused without contacting the directory. The
// challenge handler must already be reachable when Obtain runs.
func (a *ACME) Obtain(ctx context.Context) error {
	if a.cfg.Domain == "" {
		return errors.New("acme: domain is required")
	}
	if a.cfg.Email == "" {
		return errors.New("acme: email is required")
	}
	if err := os.MkdirAll(a.cfg.StorageDir, 0o700); err != nil {
		return fmt.Errorf("acme: create storage dir: %w", err)
	}

	if cert, err := cryptotls.LoadX509KeyPair(a.file("cert.pem"), a.file("key.pem")); err == nil && usable(cert, a.cfg.Domain, time.Now()) {
		a.setCertificate(&cert)
		a.log.Info("loaded stored ACME certificate", "domain", a.cfg.Domain)
		return nil
	}

	acct, err := a.loadAccount()
	if err != nil {
		return err
	}

	legoCfg := lego.NewConfig(acct)
	legoCfg.CADirURL = a.directoryURL()
	legoCfg.Certificate.KeyType = certcrypto.EC256
	if a.roots != nil {
		legoCfg.HTTPClient = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &cryptotls.Config{RootCAs: a.roots, MinVersion: cryptotls.VersionTLS12},
			},
		}
	}

	client, err := lego.NewClient(legoCfg)
	if err != nil {
		return fmt.Errorf("acme: client: %w", err)
	}
	if err := client.Challenge.SetHTTP01Provider(&a.challenges); err != nil {
		return fmt.Errorf("acme: http-01 provider: %w", err)
	}

	if acct.Registration == nil {
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return fmt.Errorf("acme: register account: %w", err)
		}
		acct.Registration = reg
		if err := a.saveAccount(acct); err != nil {
			a.log.Warn("failed to persist ACME account", "error", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	a.log.Info("requesting ACME certificate", "domain", a.cfg.Domain, "directory", legoCfg.CADirURL)
	res, err := client.Certificate.Obtain(certificate.ObtainRequest{Domains: []string{a.cfg.Domain}, Bundle: true})
	if err != nil {
		return fmt.Errorf("acme: obtain: %w", err)
	}
	if err := os.WriteFile(a.file("cert.pem"), res.Certificate, 0o644); err != nil {
		return fmt.Errorf("acme: save certificate: %w", err)
	}
	if err := os.WriteFile(a.file("key.pem"), res.PrivateKey, 0o600); err != nil {
		return fmt.Errorf("acme: save key: %w", err)
	}
	cert, err := cryptotls.X509KeyPair(res.Certificate, res.PrivateKey)
	if err != nil {
		return fmt.Errorf("acme: parse certificate: %w", err)
	}
	a.setCertificate(&cert)
	a.log.Info("obtained ACME certificate", "domain", a.cfg.Domain)
	return nil
}

func (a *ACME) directoryURL() string {
	switch {
	case a.cfg.Directory != "":
		return a.cfg.Directory
	case a.cfg.UseStaging:
		return letsEncryptStaging
	default:
		return letsEncryptProduction
	}
}

func (a *ACME) setCertificate(cert *cryptotls.Certificate) {
	a.mu.Lock()
	a.cert = cert
	a.mu.Unlock()
}

// GetCertificate serves the current certificate to TLS handshakes.
func (a *ACME) GetCertificate(*cryptotls.ClientHelloInfo) (*cryptotls.Certificate, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.cert == nil {
		return nil, errors.New("acme: no certificate yet")
	}
	return a.cert, nil
}

// ServerConfig returns a listener config backed by GetCertificate.
func (a *ACME) ServerConfig() *cryptotls.Config {
	return &cryptotls.Config{GetCertificate: a.GetCertificate, MinVersion: cryptotls.VersionTLS12}
}

// ChallengeHandler answers HTTP-01 requests under ChallengePrefix.
func (a *ACME) ChallengeHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.URL.Path, ChallengePrefix)
		if !ok || token == "" {
			http.NotFound(w, r)
			return
		}
		keyAuth, ok := a.challenges.lookup(token)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(keyAuth))
	})
}

func (a *ACME) loadAccount() (*account, error) {
	if data, err := os.ReadFile(a.file("account.json")); err == nil {
		var acct account
		if err := json.Unmarshal(data, &acct); err == nil && acct.Email == a.cfg.Email {
			if key, err := certcrypto.ParsePEMPrivateKey([]byte(acct.KeyPEM)); err == nil {
				acct.key = key
				return &acct, nil
			}
		}
		a.log.Warn("ignoring unusable ACME account file", "path", a.file("account.json"))
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("acme: account key: %w", err)
	}
	return &account{Email: a.cfg.Email, key: key}, nil
}

func (a *ACME) saveAccount(acct *account) error {
	acct.KeyPEM = string(certcrypto.PEMEncode(acct.key))
	data, err := json.MarshalIndent(acct, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(a.file("account.json"), data, 0o600)
}
