// Package client is the outbound HTTP client for calls to peer providers.
//
// Peer URLs come from invite links, onboarding input and callbacks, so in
// strict mode every target and redirect hop must resolve to public
// addresses. Proxy variables are ignored and bodies are bounded.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/config"
)

var (
	ErrSSRFBlocked         = errors.New("request blocked by SSRF protection")
	ErrTooManyRedirects    = errors.New("too many redirects")
	ErrResponseTooLarge    = errors.New("response body too large")
	ErrInvalidURL          = errors.New("invalid URL")
	ErrRedirectBlocked     = errors.New("redirect blocked by policy")
	ErrRedirectNotSameHost = errors.New("redirect to different host blocked")
	ErrRedirectDowngrade   = errors.New("redirect from https to http blocked")
	ErrHostUnresolvable    = errors.New("host could not be resolved")
)

const userAgent = "collabmesh-go"

// HTTPClient is what components need for peer calls.
type HTTPClient interface {
	GetJSON(ctx context.Context, urlStr string) ([]byte, int, error)
	PostJSON(ctx context.Context, urlStr string, payload any) ([]byte, int, error)
}

// Client implements HTTPClient.
type Client struct {
	cfg        config.OutboundHTTPConfig
	httpClient *http.Client
	tlsConfig  *tls.Config
	guard      guard
	retryBase  time.Duration
}

// DefaultConfig returns the strict outbound settings.
func DefaultConfig() config.OutboundHTTPConfig {
	return config.OutboundHTTPConfig{
		SSRFMode:         "strict",
		TimeoutMS:        10_000,
		ConnectTimeoutMS: 2_000,
		MaxRedirects:     1,
		MaxResponseBytes: 1 << 20,
		GetRetries:       2,
	}
}

func withDefaults(cfg *config.OutboundHTTPConfig) config.OutboundHTTPConfig {
	def := DefaultConfig()
	if cfg == nil {
		return def
	}
	out := *cfg
	if out.SSRFMode == "" {
		out.SSRFMode = def.SSRFMode
	}
	if out.TimeoutMS <= 0 {
		out.TimeoutMS = def.TimeoutMS
	}
	if out.ConnectTimeoutMS <= 0 {
		out.ConnectTimeoutMS = def.ConnectTimeoutMS
	}
	if out.MaxResponseBytes <= 0 {
		out.MaxResponseBytes = def.MaxResponseBytes
	}
	out.GetRetries = max(out.GetRetries, 0)
	return out
}

// New builds a Client. Zero numeric settings take DefaultConfig values.
func New(cfg *config.OutboundHTTPConfig) *Client {
	c := &Client{
		cfg:       withDefaults(cfg),
		retryBase: 200 * time.Millisecond,
	}
	c.tlsConfig = &tls.Config{InsecureSkipVerify: c.cfg.InsecureSkipVerify}

	dialer := &net.Dialer{Timeout: time.Duration(c.cfg.ConnectTimeoutMS) * time.Millisecond}
	c.httpClient = &http.Client{
		Timeout: time.Duration(c.cfg.TimeoutMS) * time.Millisecond,
		Transport: &http.Transport{
			Proxy: nil,
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				// Checked again at connect time: DNS may have changed since
				// the preflight.
				if c.strict() {
					host, _, err := net.SplitHostPort(addr)
					if err != nil {
						host = addr
					}
					if err := c.guard.check(ctx, host); err != nil {
						return nil, err
					}
				}
				return dialer.DialContext(ctx, network, addr)
			},
			TLSClientConfig:     c.tlsConfig,
			TLSHandshakeTimeout: dialer.Timeout * 2,
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return c
}

// SetRootCAs verifies peers against pool. Nil keeps the system roots.
func (c *Client) SetRootCAs(pool *x509.CertPool) {
	if pool != nil {
		c.tlsConfig.RootCAs = pool
	}
}

// SetResolver replaces DNS resolution for the SSRF guard.
func (c *Client) SetResolver(r Resolver) {
	c.guard.resolver = r
}

func (c *Client) strict() bool {
	return c.cfg.SSRFMode == "strict"
}

func (c *Client) preflight(req *http.Request) error {
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, req.URL.Scheme)
	}
	if c.strict() {
		return c.guard.check(req.Context(), req.URL.Hostname())
	}
	return nil
}

// Do sends req through the SSRF guard. GET and HEAD follow same-host
// redirects. Other methods get ErrRedirectBlocked on a 3xx because their
// body cannot be replayed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.preflight(req); err != nil {
		return nil, err
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if !isRedirect(resp.StatusCode) {
		return resp, nil
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s received %d", ErrRedirectBlocked, req.Method, resp.StatusCode)
	}
	return c.follow(req, resp)
}

// GetJSON fetches urlStr and returns the bounded body and status. Network
// failures and 502/503/504 are retried up to GetRetries times.
func (c *Client) GetJSON(ctx context.Context, urlStr string) ([]byte, int, error) {
	return c.withRetry(ctx, func() ([]byte, int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrInvalidURL, err)
		}
		req.Header.Set("Accept", "application/json")
		return c.roundTrip(req)
	})
}

// PostJSON sends payload once. Non-2xx statuses are returned, not errors.
func (c *Client) PostJSON(ctx context.Context, urlStr string, payload any) ([]byte, int, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, bytes.NewReader(raw))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.roundTrip(req)
}

func (c *Client) roundTrip(req *http.Request) ([]byte, int, error) {
	resp, err := c.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes+1))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if int64(len(body)) > c.cfg.MaxResponseBytes {
		return nil, resp.StatusCode, ErrResponseTooLarge
	}
	return body, resp.StatusCode, nil
}

// IsSSRFError reports whether err came from the SSRF guard.
func IsSSRFError(err error) bool {
	return errors.Is(err, ErrSSRFBlocked) || errors.Is(err, ErrHostUnresolvable)
}

// IsRedirectError reports whether err came from the redirect policy.
func IsRedirectError(err error) bool {
	return errors.Is(err, ErrRedirectBlocked) ||
		errors.Is(err, ErrRedirectNotSameHost) ||
		errors.Is(err, ErrRedirectDowngrade) ||
		errors.Is(err, ErrTooManyRedirects)
}

var _ HTTPClient = (*Client)(nil)
