package client

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/hostport"
)

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// sameAuthority compares hosts with default ports folded away, so
// https://a and https://a:443 match.
func sameAuthority(a, b *url.URL) bool {
	if a.Scheme != b.Scheme && !(a.Scheme == "http" && b.Scheme == "https") {
		return false
	}
	ha, errA := hostport.Normalize(a.Host, a.Scheme)
	hb, errB := hostport.Normalize(b.Host, b.Scheme)
	if errA != nil || errB != nil {
		return false
	}
	if a.Scheme != b.Scheme {
		// An http to https upgrade may move between default ports.
		return (&url.URL{Host: ha}).Hostname() == (&url.URL{Host: hb}).Hostname()
	}
	return ha == hb
}

// follow chases resp's redirects. Only GET and HEAD get here. Each hop
// must stay on the same host, never downgrade to http and goes through
// the SSRF guard again. Authorization is not carried over.
func (c *Client) follow(req *http.Request, resp *http.Response) (*http.Response, error) {
	limit := max(c.cfg.MaxRedirects, 1)

	for hop := 0; isRedirect(resp.StatusCode); hop++ {
		location := resp.Header.Get("Location")
		resp.Body.Close()

		if hop >= limit {
			return nil, fmt.Errorf("%w: exceeded limit of %d", ErrTooManyRedirects, limit)
		}
		if location == "" {
			return nil, fmt.Errorf("%w: no Location header", ErrRedirectBlocked)
		}
		next, err := req.URL.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid Location: %v", ErrRedirectBlocked, err)
		}
		if req.URL.Scheme == "https" && next.Scheme != "https" {
			return nil, fmt.Errorf("%w: %s -> %s", ErrRedirectDowngrade, req.URL.Scheme, next.Scheme)
		}
		if !sameAuthority(req.URL, next) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrRedirectNotSameHost, req.URL.Host, next.Host)
		}

		hopReq, err := http.NewRequestWithContext(req.Context(), req.Method, next.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedirectBlocked, err)
		}
		for _, h := range []string{"User-Agent", "Accept"} {
			if v := req.Header.Get(h); v != "" {
				hopReq.Header.Set(h, v)
			}
		}
		if err := c.preflight(hopReq); err != nil {
			return nil, err
		}

		req = hopReq
		if resp, err = c.httpClient.Do(req); err != nil {
			return nil, err
		}
	}
	return resp, nil
}
