package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/identity"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/invitations"
	"github.com/MahdiBaghbani/collabmesh-go/internal/frameworks/service"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/deps/depstest"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/http/server"
	_ "github.com/MahdiBaghbani/collabmesh-go/internal/services/loader"
)

var quietLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

// instance is a complete server running in-process behind httptest.
type instance struct {
	t      *testing.T
	env    *depstest.Env
	ts     *httptest.Server
	domain string
}

// startInstance builds the full middleware chain and every core service.
// Services capture the shared deps at construction, so instances must be
// started one after the other.
func startInstance(t *testing.T, domain string) *instance {
	t.Helper()

	// The listener exists before Start, so the origin is known up front.
	ts := httptest.NewUnstartedServer(nil)
	t.Cleanup(ts.Close)

	cfg := depstest.Config("http://" + ts.Listener.Addr().String())
	cfg.Instance.Domain = domain
	cfg.Instance.Name = strings.ToUpper(domain[:1]) + " mesh"
	env := depstest.New(t, cfg)

	services, err := service.BuildCore(cfg.BuildServiceConfig, quietLogger)
	if err != nil {
		t.Fatalf("BuildCore: %v", err)
	}
	srv, err := server.New(cfg, quietLogger, services)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ts.Config.Handler = srv.Handler()
	ts.Start()

	return &instance{t: t, env: env, ts: ts, domain: domain}
}

func (in *instance) do(method, path, token string, body any) *http.Response {
	in.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			in.t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, in.ts.URL+path, rd)
	if err != nil {
		in.t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	if err != nil {
		in.t.Fatalf("%s %s: %v", method, path, err)
	}
	in.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestTwoInstanceDiscovery(t *testing.T) {
	a := startInstance(t, "a.test")
	b := startInstance(t, "b.test")

	for _, in := range []*instance{a, b} {
		resp := in.do("GET", "/.well-known/ocm", "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s discovery status = %d", in.domain, resp.StatusCode)
		}
		disc := decodeBody[map[string]any](t, resp)
		if disc["enabled"] != true {
			t.Errorf("%s discovery = %v", in.domain, disc)
		}
		if dialog, _ := disc["inviteAcceptDialog"].(string); dialog != in.ts.URL+"/api/invitations/handle" {
			t.Errorf("%s inviteAcceptDialog = %q", in.domain, dialog)
		}
	}
}

func TestTwoInstanceAuthGate(t *testing.T) {
	a := startInstance(t, "a.test")

	if resp := a.do("GET", "/api/me", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("/api/me without session = %d", resp.StatusCode)
	}
	if resp := a.do("GET", "/api/healthz", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("/api/healthz = %d", resp.StatusCode)
	}
	if resp := a.do("GET", "/mesh-registry/provider", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("/mesh-registry/provider = %d", resp.StatusCode)
	}
	if resp := a.do("POST", "/mesh-registry/providers", "", map[string]string{"endpoint": "https://x.test"}); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous onboard = %d", resp.StatusCode)
	}
}

func TestTwoInstanceInvitationHandshake(t *testing.T) {
	a := startInstance(t, "a.test")
	b := startInstance(t, "b.test")

	_, adminA := a.env.User(t, "root", "root@a.test", identity.RoleAdmin)
	_, adminB := b.env.User(t, "root", "root@b.test", identity.RoleAdmin)
	_, alice := a.env.User(t, "alice", "alice@a.test", identity.RoleUser)
	_, bob := b.env.User(t, "bob", "bob@b.test", identity.RoleUser)

	// Each side onboards the other.
	if resp := a.do("POST", "/mesh-registry/providers", adminA, map[string]string{
		"endpoint": b.ts.URL, "name": "B mesh", "domain": "b.test",
	}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("onboard b on a = %d", resp.StatusCode)
	}
	if resp := b.do("POST", "/mesh-registry/providers", adminB, map[string]string{
		"endpoint": a.ts.URL, "name": "A mesh", "domain": "a.test",
	}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("onboard a on b = %d", resp.StatusCode)
	}

	// Alice invites Bob.
	resp := a.do("POST", "/api/invitations", alice, map[string]string{
		"recipientEmail": "bob@b.test", "recipientName": "Bob",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d", resp.StatusCode)
	}
	sent := decodeBody[invitations.Invitation](t, resp)
	link, err := url.Parse(resp.Header.Get("InviteLink"))
	if err != nil || link.Query().Get("token") != sent.Token || link.Query().Get("providerDomain") != "a.test" {
		t.Fatalf("invite link = %q", resp.Header.Get("InviteLink"))
	}

	// Following the link lands on the chooser.
	resp = a.do("GET", link.RequestURI(), "", nil)
	if resp.StatusCode != http.StatusFound || !strings.Contains(resp.Header.Get("Location"), "/mesh-registry/wayf") {
		t.Fatalf("forward-invite = %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	// Bob picks his provider and lands on the handle endpoint.
	resp = b.do("GET", "/api/invitations/handle?token="+url.QueryEscape(sent.Token)+"&providerDomain=a.test", bob, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("handle = %d", resp.StatusCode)
	}
	if got := decodeBody[invitations.Invitation](t, resp); got.Status != invitations.StatusOpen {
		t.Errorf("received status = %s", got.Status)
	}

	resp = b.do("POST", "/api/invitations/"+url.PathEscape(sent.Token)+"/accept", bob, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept = %d", resp.StatusCode)
	}
	if got := decodeBody[invitations.Invitation](t, resp); got.Status != invitations.StatusAccepted || got.SenderCloudID != "alice@a.test" {
		t.Errorf("accepted on b = %+v", got)
	}

	resp = a.do("GET", "/api/invitations/"+url.PathEscape(sent.Token), alice, nil)
	origin := decodeBody[invitations.Invitation](t, resp)
	if origin.Status != invitations.StatusAccepted || origin.RecipientCloudID != "bob@b.test" || origin.RemoteProvider != b.ts.URL {
		t.Errorf("origin row = %+v", origin)
	}

	// Replays are refused on both sides.
	if resp := b.do("POST", "/api/invitations/"+url.PathEscape(sent.Token)+"/accept", bob, nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("second accept = %d", resp.StatusCode)
	}
}
