package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	cryptotls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/logutil"
)

const (
	selfSignedValidity = 90 * 24 * time.Hour
	// renewBefore is how close to expiry a stored certificate is replaced.
	renewBefore = 14 * 24 * time.Hour
)

// SelfSigned keeps a development certificate for Hostname under Dir. A
// stored pair is reused while it still covers Hostname and is not about to
// expire; otherwise a new one is written.
type SelfSigned struct {
	Dir      string
	Hostname string

	// Now defaults to time.Now.
	Now func() time.Time
}

func (s *SelfSigned) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *SelfSigned) paths() (certFile, keyFile string) {
	return filepath.Join(s.Dir, "cert.pem"), filepath.Join(s.Dir, "key.pem")
}

// Certificate loads or regenerates the pair.
func (s *SelfSigned) Certificate(log *slog.Logger) (cryptotls.Certificate, error) {
	log = logutil.NoopIfNil(log)
	certFile, keyFile := s.paths()

	if cert, err := cryptotls.LoadX509KeyPair(certFile, keyFile); err == nil {
		if usable(cert, s.Hostname, s.now()) {
			log.Info("loaded self-signed certificate", "cert_file", certFile)
			return cert, nil
		}
		log.Info("replacing stale self-signed certificate", "cert_file", certFile)
	}

	certPEM, keyPEM, err := s.generate()
	if err != nil {
		return cryptotls.Certificate{}, err
	}
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("create cert directory: %w", err)
	}
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("write certificate: %w", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("write key: %w", err)
	}
	log.Info("generated self-signed certificate", "hostname", s.Hostname, "cert_file", certFile)

	return cryptotls.X509KeyPair(certPEM, keyPEM)
}

func (s *SelfSigned) generate() (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("generate serial: %w", err)
	}

	now := s.now()
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"CollabMesh development"}, CommonName: s.Hostname},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(selfSignedValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	if ip := net.ParseIP(s.Hostname); ip != nil {
		tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
	} else if s.Hostname != "" {
		tmpl.DNSNames = append(tmpl.DNSNames, s.Hostname)
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), nil
}

// usable reports whether cert covers hostname (when set) and stays valid
// past the renewal window.
func usable(cert cryptotls.Certificate, hostname string, now time.Time) bool {
	leaf := cert.Leaf
	if leaf == nil {
		if len(cert.Certificate) == 0 {
			return false
		}
		var err error
		if leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return false
		}
	}
	if now.Add(renewBefore).After(leaf.NotAfter) {
		return false
	}
	return hostname == "" || leaf.VerifyHostname(hostname) == nil
}
