package tls_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	tlspkg "github.com/MahdiBaghbani/collabmesh-go/internal/platform/http/tls"
)

var quietLog = slog.New(slog.NewTextHandler(io.Discard, nil))

func caPEM(t *testing.T, name string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func write(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestRootCAs(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(t.TempDir(), "peer-ca.pem")
	write(t, file, caPEM(t, "Peer CA"))
	write(t, filepath.Join(dir, "a.crt"), caPEM(t, "Dir CA"))
	write(t, filepath.Join(dir, "notes.txt"), []byte("not a cert"))

	tests := []struct {
		name    string
		file    string
		dir     string
		wantNil bool
		wantErr bool
	}{
		{name: "neither", wantNil: true},
		{name: "file", file: file},
		{name: "dir skips non cert files", dir: dir},
		{name: "both", file: file, dir: dir},
		{name: "missing file", file: filepath.Join(dir, "missing.pem"), wantErr: true},
		{name: "missing dir", dir: filepath.Join(dir, "nope"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := tlspkg.RootCAs(tt.file, tt.dir)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (pool == nil) != tt.wantNil {
				t.Errorf("pool nil = %v, want %v", pool == nil, tt.wantNil)
			}
		})
	}
}

func TestRootCAs_InvalidPEM(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "broken.pem"), []byte("-----BEGIN NOTHING-----"))
	if _, err := tlspkg.RootCAs("", dir); err == nil {
		t.Error("expected error for a .pem file without certificates")
	}
}
