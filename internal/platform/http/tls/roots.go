package tls

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RootCAs returns the system pool extended with the PEM certificates in
// file and in the *.pem / *.crt regular files of dir. It returns nil when
// both are empty so callers keep the default roots.
func RootCAs(file, dir string) (*x509.CertPool, error) {
	if file == "" && dir == "" {
		return nil, nil
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	var paths []string
	if file != "" {
		paths = append(paths, file)
	}
	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("root_ca_dir: %w", err)
		}
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".pem", ".crt":
				paths = append(paths, filepath.Join(dir, e.Name()))
			}
		}
	}

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read root CA %q: %w", p, err)
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("root CA %q: %w", p, errNoPEM)
		}
	}
	return pool, nil
}

var errNoPEM = errors.New("no PEM certificates found")
