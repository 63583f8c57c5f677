package directory

import (
	"net/url"
	"strings"

	"github.com/samber/lo"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/apperr"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/hostport"
)

// NormalizeEndpoint canonicalizes a provider endpoint URL. A missing
// scheme means https. The host is lowercased and punycoded, default ports
// are dropped, and trailing slashes are trimmed from the path. Query,
// fragment and userinfo are rejected.
func NormalizeEndpoint(raw string, allowInsecure bool) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", apperr.Validation(CodeEndpointInvalid, "endpoint is required")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" || u.Opaque != "" {
		return "", apperr.Validation(CodeEndpointInvalid, "endpoint is not a valid URL")
	}

	scheme := strings.ToLower(u.Scheme)
	allowed := lo.Ternary(allowInsecure, []string{"https", "http"}, []string{"https"})
	if !lo.Contains(allowed, scheme) {
		return "", apperr.Validation(CodeEndpointInvalid, "endpoint scheme must be "+strings.Join(allowed, " or "))
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || u.ForceQuery {
		return "", apperr.Validation(CodeEndpointInvalid, "endpoint must not carry credentials, query or fragment")
	}

	host, err := hostport.Normalize(u.Host, scheme)
	if err != nil {
		return "", apperr.Validation(CodeEndpointInvalid, "endpoint host is invalid")
	}

	return scheme + "://" + host + strings.TrimRight(u.EscapedPath(), "/"), nil
}

// NormalizeDomain canonicalizes a provider domain. Empty stays empty.
func NormalizeDomain(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	d, err := hostport.Domain(raw)
	if err != nil {
		return "", apperr.Validation(CodeDomainInvalid, "provider domain is invalid")
	}
	return d, nil
}
