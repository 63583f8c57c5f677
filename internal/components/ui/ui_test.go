package ui

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/directory"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/federation"
)

func TestWAYFPage(t *testing.T) {
	p, err := New("Mesh A")
	if err != nil {
		t.Fatal(err)
	}
	rr := httptest.NewRecorder()
	p.WAYF(rr, &federation.WAYF{
		Origin: directory.Provider{Name: "Mesh A"},
		Choices: []federation.Choice{
			{Name: "Mesh <B>", Domain: "b.test", URL: "https://b.test/api/invitations/handle?token=t&providerDomain=a.test"},
		},
	})

	body := rr.Body.String()
	if rr.Code != http.StatusOK || !strings.Contains(rr.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("status=%d type=%q", rr.Code, rr.Header().Get("Content-Type"))
	}
	if !strings.Contains(body, `href="https://b.test/api/invitations/handle?token=t&amp;providerDomain=a.test"`) {
		t.Errorf("choice link missing: %s", body)
	}
	if !strings.Contains(body, "Mesh &lt;B&gt;") {
		t.Error("provider name must be escaped")
	}
}

func TestWAYFPageWithoutChoices(t *testing.T) {
	p, err := New("Mesh A")
	if err != nil {
		t.Fatal(err)
	}
	rr := httptest.NewRecorder()
	p.WAYF(rr, &federation.WAYF{Origin: directory.Provider{Domain: "a.test"}})
	if !strings.Contains(rr.Body.String(), "No other providers") {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestErrorPage(t *testing.T) {
	p, err := New("Mesh A")
	if err != nil {
		t.Fatal(err)
	}
	rr := httptest.NewRecorder()
	p.Error(rr, http.StatusNotFound, "FORWARD_INVITE_PROVIDER_NOT_FOUND", "unknown provider")

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "FORWARD_INVITE_PROVIDER_NOT_FOUND") || !strings.Contains(body, "unknown provider") {
		t.Errorf("body = %s", body)
	}
}
