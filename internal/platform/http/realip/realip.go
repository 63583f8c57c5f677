// Package realip resolves the client address of a request, honoring
// X-Forwarded-For and X-Real-IP only when the direct peer is a trusted proxy.
package realip

import (
	"net"
	"net/http"
	"strings"
)

// TrustedProxies holds the networks whose forwarding headers are believed.
type TrustedProxies struct {
	networks []*net.IPNet
}

// NewTrustedProxies parses CIDRs and bare IPs. Unparseable entries are skipped.
func NewTrustedProxies(entries []string) *TrustedProxies {
	tp := &TrustedProxies{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if _, network, err := net.ParseCIDR(entry); err == nil {
			tp.networks = append(tp.networks, network)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 128
		if ip.To4() != nil {
			ip = ip.To4()
			bits = 32
		}
		tp.networks = append(tp.networks, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return tp
}

// IsTrusted reports whether ip falls inside a trusted network.
func (tp *TrustedProxies) IsTrusted(ip net.IP) bool {
	if tp == nil || ip == nil {
		return false
	}
	for _, network := range tp.networks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the effective client IP of r.
func (tp *TrustedProxies) ClientIP(r *http.Request) net.IP {
	direct := parseRemoteAddr(r.RemoteAddr)
	if direct == nil || !tp.IsTrusted(direct) {
		return direct
	}

	// The leftmost X-Forwarded-For entry is the originating client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
				return ip
			}
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
			return ip
		}
	}
	return direct
}

// ClientIPString returns the client IP for logging and rate limiting.
func (tp *TrustedProxies) ClientIPString(r *http.Request) string {
	ip := tp.ClientIP(r)
	if ip == nil {
		return "unknown"
	}
	return ip.String()
}

func parseRemoteAddr(addr string) net.IP {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.ParseIP(addr)
	}
	return net.ParseIP(host)
}
