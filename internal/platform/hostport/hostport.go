// Package hostport canonicalizes host[:port] authorities so provider
// endpoints and domains compare equal however they were typed. Default
// ports are scheme-aware and internationalized names become punycode.
package hostport

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

var defaultPorts = map[string]string{"https": "443", "http": "80"}

// Normalize lowercases authority, punycodes its host and drops the port
// when it is the default for scheme. Authorities carry no scheme or path.
// IPv6 hosts keep their brackets.
func Normalize(authority, scheme string) (string, error) {
	host, port, err := split(strings.TrimSpace(authority))
	if err != nil {
		return "", fmt.Errorf("hostport: %q: %w", authority, err)
	}
	if port == defaultPorts[strings.ToLower(scheme)] {
		port = ""
	}
	return join(host, port), nil
}

// Domain is Normalize without a scheme, so every port is kept.
func Domain(domain string) (string, error) {
	return Normalize(domain, "")
}

func split(authority string) (host, port string, err error) {
	switch {
	case authority == "":
		return "", "", errors.New("empty authority")
	case strings.Contains(authority, "://"):
		return "", "", errors.New("must not contain a scheme")
	case strings.ContainsAny(authority, "/?#@"):
		return "", "", errors.New("must be a bare host[:port]")
	}

	host = authority
	if h, p, splitErr := net.SplitHostPort(authority); splitErr == nil {
		host, port = h, p
		if n, convErr := strconv.Atoi(p); convErr != nil || n < 1 || n > 65535 {
			return "", "", fmt.Errorf("invalid port %q", p)
		}
	} else if strings.HasPrefix(authority, "[") && strings.HasSuffix(authority, "]") {
		host = authority[1 : len(authority)-1]
	}

	host, err = canonicalHost(host)
	return host, port, err
}

func canonicalHost(host string) (string, error) {
	if host == "" {
		return "", errors.New("no host")
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.WithZone("").String(), nil
	}
	ascii, err := idna.Lookup.ToASCII(strings.TrimSuffix(host, "."))
	if err != nil {
		return "", fmt.Errorf("invalid hostname %q: %w", host, err)
	}
	return strings.ToLower(ascii), nil
}

func join(host, port string) string {
	if port != "" {
		return net.JoinHostPort(host, port)
	}
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}
