package directory_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/apperr"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/directory"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/cache/memory"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/config"
	httpclient "github.com/MahdiBaghbani/collabmesh-go/internal/platform/http/client"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/store/storetest"
)

// fakePeer serves a self-description; describe may rewrite it per test.
func fakePeer(t *testing.T, describe func(base string) any) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != directory.SelfDescriptionPath {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(describe(srv.URL))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newOnboarder(t *testing.T, verify bool) (*directory.Onboarder, *directory.Directory) {
	t.Helper()
	dir := directory.New(storetest.NewDB(t), directory.Options{AllowInsecureEndpoints: true}, testLogger)
	c := memory.New(time.Minute, 0)
	t.Cleanup(func() { c.Close() })
	hc := httpclient.New(&config.OutboundHTTPConfig{SSRFMode: "off", TimeoutMS: 2000})
	peers := directory.NewPeerClient(hc, c, testLogger)
	return directory.NewOnboarder(dir, peers, "https://nc-1.example", verify), dir
}

func TestOnboardVerifiedPeer(t *testing.T) {
	srv, hits := fakePeer(t, func(base string) any {
		return directory.SelfDescription{UUID: "peer-uuid", Domain: "nc-2.example", Name: "Nextcloud 2", Endpoint: base}
	})
	o, dir := newOnboarder(t, true)
	ctx := context.Background()

	p, err := o.Onboard(ctx, directory.OnboardRequest{Endpoint: srv.URL, Name: "ignored"})
	if err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	if p.Name != "Nextcloud 2" || p.Domain != "nc-2.example" || p.UUID != "peer-uuid" {
		t.Errorf("record = %+v", p)
	}

	_, err = o.Onboard(ctx, directory.OnboardRequest{Endpoint: srv.URL})
	if apperr.CodeOf(err) != directory.CodeProviderExists {
		t.Errorf("expected exists error, got %v", err)
	}

	if _, err := dir.Delete(ctx, srv.URL); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Onboard(ctx, directory.OnboardRequest{Endpoint: srv.URL}); err != nil {
		t.Fatalf("re-onboard: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("self-description should be cached, fetched %d times", hits.Load())
	}
}

func TestOnboardRejectsSelf(t *testing.T) {
	o, _ := newOnboarder(t, true)
	_, err := o.Onboard(context.Background(), directory.OnboardRequest{Endpoint: "https://NC-1.example/"})
	if apperr.CodeOf(err) != directory.CodeNotRemote {
		t.Errorf("expected %s, got %v", directory.CodeNotRemote, err)
	}
}

func TestOnboardInvalidSelfDescription(t *testing.T) {
	tests := []struct {
		name     string
		describe func(base string) any
	}{
		{"missing name", func(base string) any {
			return directory.SelfDescription{Domain: "nc-2.example", Endpoint: base}
		}},
		{"endpoint mismatch", func(base string) any {
			return directory.SelfDescription{Domain: "nc-2.example", Name: "x", Endpoint: "https://elsewhere.example"}
		}},
		{"not json", func(base string) any { return "just a string" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := fakePeer(t, tt.describe)
			o, _ := newOnboarder(t, true)
			_, err := o.Onboard(context.Background(), directory.OnboardRequest{Endpoint: srv.URL})
			if apperr.CodeOf(err) != directory.CodePeerInvalid || apperr.KindOf(err) != apperr.KindTransport {
				t.Errorf("expected %s transport error, got %v", directory.CodePeerInvalid, err)
			}
		})
	}
}

func TestOnboardUnreachablePeer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	o, _ := newOnboarder(t, true)
	_, err := o.Onboard(context.Background(), directory.OnboardRequest{Endpoint: url})
	if apperr.CodeOf(err) != directory.CodePeerUnreachable {
		t.Errorf("expected %s, got %v", directory.CodePeerUnreachable, err)
	}
}

func TestOnboardWithoutVerification(t *testing.T) {
	o, _ := newOnboarder(t, false)
	ctx := context.Background()

	_, err := o.Onboard(ctx, directory.OnboardRequest{Endpoint: "https://nc-4.example"})
	if apperr.CodeOf(err) != directory.CodeNameMissing {
		t.Errorf("expected name required, got %v", err)
	}

	p, err := o.Onboard(ctx, directory.OnboardRequest{Endpoint: "https://nc-4.example", Name: "Four", Domain: "nc-4.example"})
	if err != nil || p.Name != "Four" {
		t.Errorf("Onboard = %+v, %v", p, err)
	}
}
