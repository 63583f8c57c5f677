package httpwrap

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestClearRawPathDecodesParams(t *testing.T) {
	r := chi.NewRouter()
	var got string
	r.Get("/users/{id}", func(w http.ResponseWriter, req *http.Request) {
		got = chi.URLParam(req, "id")
	})

	req := httptest.NewRequest(http.MethodGet, "/users/alice%40mesh.test", nil)
	rec := httptest.NewRecorder()
	ClearRawPath(r).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got != "alice@mesh.test" {
		t.Errorf("id = %q, want alice@mesh.test", got)
	}
	if req.URL.RawPath == "" {
		t.Error("caller's request was mutated")
	}
}
