package ocm

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/api"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/federation"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/identity"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/invitations"
	"github.com/MahdiBaghbani/collabmesh-go/internal/frameworks/service"
	_ "github.com/MahdiBaghbani/collabmesh-go/internal/interceptors/ratelimit"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/deps"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/deps/depstest"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

func newService(t *testing.T, env *depstest.Env, conf map[string]any) service.Service {
	t.Helper()
	svc, err := New(conf, testLogger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func post(svc service.Service, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", "/invite-accepted", bytes.NewReader(b))
	req.RemoteAddr = "192.0.2.10:4000"
	rr := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env api.ErrorEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, rr.Body.String())
	}
	return env.ErrorCode
}

func openInvite(t *testing.T, env *depstest.Env) string {
	t.Helper()
	alice, _ := env.User(t, "alice", "alice@mesh.test", identity.RoleUser)
	inv, _, err := env.Deps.Coordinator.CreateInvite(context.Background(), alice, federation.CreateRequest{
		RecipientEmail: "bob@b.test",
		RecipientName:  "Bob",
	})
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	return inv.Token
}

func TestNew_FailsWithoutSharedDeps(t *testing.T) {
	deps.ResetDeps()
	if _, err := New(map[string]any{}, testLogger); err == nil {
		t.Error("expected error when SharedDeps not initialized")
	}
}

func TestServiceSurface(t *testing.T) {
	env := depstest.New(t, depstest.Config("https://mesh.test"))
	svc := newService(t, env, map[string]any{})

	if svc.Prefix() != "ocm" {
		t.Errorf("prefix = %q", svc.Prefix())
	}
	if u := svc.Unprotected(); len(u) != 1 || u[0] != "/invite-accepted" {
		t.Errorf("unprotected = %v", u)
	}
}

func TestInviteAccepted(t *testing.T) {
	env := depstest.New(t, depstest.Config("https://mesh.test"))
	svc := newService(t, env, map[string]any{})
	token := openInvite(t, env)

	body := federation.InviteAcceptedRequest{
		RecipientProvider: "https://b.test",
		Token:             token,
		UserID:            "bob@b.test",
		Email:             "bob@b.test",
		Name:              "Bob",
	}
	rr := post(svc, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp federation.InviteAcceptedResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.UserID != "alice@mesh.test" || resp.Name != "alice" || resp.Email != "alice@mesh.test" {
		t.Errorf("response = %+v", resp)
	}

	inv, err := env.Deps.Invitations.Get(context.Background(), invitations.Unscoped(), token)
	if err != nil {
		t.Fatal(err)
	}
	if inv.Status != invitations.StatusAccepted || inv.RecipientCloudID != "bob@b.test" {
		t.Errorf("stored invitation = %+v", inv)
	}

	// Replays are refused and leave the row alone.
	rr = post(svc, body)
	if rr.Code == http.StatusOK || errorCode(t, rr) != invitations.CodeAcceptNotOpen {
		t.Errorf("replay = %d %s", rr.Code, rr.Body.String())
	}
}

func TestInviteAcceptedRejectsBadRequests(t *testing.T) {
	env := depstest.New(t, depstest.Config("https://mesh.test"))
	svc := newService(t, env, map[string]any{})

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"not json", "nope", http.StatusBadRequest, api.CodeInvalidBody},
		{"missing provider", federation.InviteAcceptedRequest{Token: "t", UserID: "u", Email: "e@x.test", Name: "n"}, http.StatusBadRequest, federation.CodeAcceptedMissingProvider},
		{"missing token", federation.InviteAcceptedRequest{RecipientProvider: "https://b.test", UserID: "u", Email: "e@x.test", Name: "n"}, http.StatusBadRequest, federation.CodeAcceptedMissingToken},
		{"unknown token", federation.InviteAcceptedRequest{RecipientProvider: "https://b.test", Token: invitations.NewToken(), UserID: "u", Email: "e@x.test", Name: "n"}, http.StatusNotFound, federation.CodeAcceptedNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := post(svc, tt.body)
			if rr.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", rr.Code, tt.status, rr.Body.String())
			}
			if got := errorCode(t, rr); got != tt.code {
				t.Errorf("errorCode = %q, want %q", got, tt.code)
			}
		})
	}
}

func TestInviteAcceptedIsRateLimited(t *testing.T) {
	cfg := depstest.Config("https://mesh.test")
	cfg.HTTP.Interceptors = map[string]map[string]any{
		"ratelimit": {"profiles": map[string]any{
			"tight": map[string]any{"requests_per_window": 2, "window_seconds": 60},
		}},
	}
	env := depstest.New(t, cfg)
	svc := newService(t, env, map[string]any{"ratelimit": map[string]any{"profile": "tight"}})

	body := federation.InviteAcceptedRequest{}
	for i := 0; i < 2; i++ {
		if rr := post(svc, body); rr.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d limited too early", i+1)
		}
	}
	if rr := post(svc, body); rr.Code != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", rr.Code)
	}
}
