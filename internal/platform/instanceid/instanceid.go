// Package instanceid derives the identity an instance presents to peers
// from its configured public origin.
package instanceid

import (
	"fmt"
	"net/url"
	"strings"
)

// Origin is a parsed public origin. Scheme and host are lowercased and
// any path is dropped. Default ports are kept as written.
type Origin struct {
	Scheme string
	Host   string // host[:port]
}

// Parse validates publicOrigin as an absolute http(s) URL.
func Parse(publicOrigin string) (Origin, error) {
	u, err := url.Parse(strings.TrimSpace(publicOrigin))
	if err != nil {
		return Origin{}, fmt.Errorf("instanceid: invalid public origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Origin{}, fmt.Errorf("instanceid: public origin must be an absolute URL with scheme and host: %q", publicOrigin)
	}
	o := Origin{Scheme: strings.ToLower(u.Scheme), Host: strings.ToLower(u.Host)}
	if o.Scheme != "http" && o.Scheme != "https" {
		return Origin{}, fmt.Errorf("instanceid: unsupported scheme %q", u.Scheme)
	}
	return o, nil
}

func (o Origin) String() string { return o.Scheme + "://" + o.Host }

// Hostname strips the port and IPv6 brackets. TLS certificates are
// issued for this name.
func (o Origin) Hostname() string {
	return (&url.URL{Host: o.Host}).Hostname()
}

// Port returns the explicit port or the scheme default.
func (o Origin) Port() string {
	if p := (&url.URL{Host: o.Host}).Port(); p != "" {
		return p
	}
	if o.Scheme == "http" {
		return "80"
	}
	return "443"
}

// NormalizePublicOrigin returns Parse(publicOrigin).String().
func NormalizePublicOrigin(publicOrigin string) (string, error) {
	o, err := Parse(publicOrigin)
	if err != nil {
		return "", err
	}
	return o.String(), nil
}

// ProviderFQDN returns the host[:port] peers use to name this instance.
func ProviderFQDN(publicOrigin string) (string, error) {
	o, err := Parse(publicOrigin)
	if err != nil {
		return "", err
	}
	return o.Host, nil
}

// Hostname is Parse(publicOrigin).Hostname().
func Hostname(publicOrigin string) (string, error) {
	o, err := Parse(publicOrigin)
	if err != nil {
		return "", err
	}
	return o.Hostname(), nil
}
