package directory_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/apperr"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/directory"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/store/storetest"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

func newDirectory(t *testing.T) *directory.Directory {
	t.Helper()
	return directory.New(storetest.NewDB(t), directory.Options{}, testLogger)
}

func mustRegister(t *testing.T, d *directory.Directory, p directory.Provider) *directory.Provider {
	t.Helper()
	out, err := d.Register(context.Background(), p)
	if err != nil {
		t.Fatalf("Register(%s): %v", p.Endpoint, err)
	}
	return out
}

func TestRegisterNormalizesAndRejectsDuplicates(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()

	p := mustRegister(t, d, directory.Provider{Endpoint: "NC-2.example:443/", Domain: "NC-2.example", Name: "Nextcloud 2"})
	if p.Endpoint != "https://nc-2.example" {
		t.Errorf("endpoint = %q", p.Endpoint)
	}
	if p.Domain != "nc-2.example" {
		t.Errorf("domain = %q", p.Domain)
	}

	_, err := d.Register(ctx, directory.Provider{Endpoint: "https://nc-2.example", Name: "again"})
	if !errors.Is(err, directory.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	_, err = d.Register(ctx, directory.Provider{Endpoint: "https://other.example", Domain: "nc-2.example"})
	if apperr.CodeOf(err) != directory.CodeIdentityTaken {
		t.Errorf("expected identity conflict, got %v", err)
	}

	_, err = d.Register(ctx, directory.Provider{Endpoint: "http://plain.example"})
	if apperr.CodeOf(err) != directory.CodeEndpointInvalid {
		t.Errorf("http endpoint should be rejected, got %v", err)
	}
}

func TestRegisterDefaultsName(t *testing.T) {
	d := newDirectory(t)
	p := mustRegister(t, d, directory.Provider{Endpoint: "https://nc-3.example", Domain: "nc-3.example"})
	if p.Name != "nc-3.example" {
		t.Errorf("name = %q", p.Name)
	}
}

func TestFindANDsCriteria(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()

	mustRegister(t, d, directory.Provider{Endpoint: "https://a.example", Domain: "a.example", UUID: "11111111-1111-1111-1111-111111111111", Name: "A"})
	mustRegister(t, d, directory.Provider{Endpoint: "https://b.example", Domain: "b.example", Name: "B"})

	p, err := d.Find(ctx, directory.Criteria{Domain: "A.example"})
	if err != nil || p.Name != "A" {
		t.Fatalf("Find by domain = %+v, %v", p, err)
	}

	p, err = d.Find(ctx, directory.Criteria{UUID: "11111111-1111-1111-1111-111111111111", Domain: "a.example"})
	if err != nil || p.Name != "A" {
		t.Errorf("Find by uuid+domain = %+v, %v", p, err)
	}

	_, err = d.Find(ctx, directory.Criteria{UUID: "11111111-1111-1111-1111-111111111111", Domain: "b.example"})
	if !errors.Is(err, directory.ErrNotFound) {
		t.Errorf("mismatched criteria should be not found, got %v", err)
	}

	_, err = d.Find(ctx, directory.Criteria{})
	if !errors.Is(err, directory.ErrNotFound) {
		t.Errorf("empty criteria should be not found, got %v", err)
	}

	p, err = d.FindByKey(ctx, "11111111-1111-1111-1111-111111111111")
	if err != nil || p.Name != "A" {
		t.Errorf("FindByKey uuid = %+v, %v", p, err)
	}
	p, err = d.FindByKey(ctx, "b.example")
	if err != nil || p.Name != "B" {
		t.Errorf("FindByKey domain = %+v, %v", p, err)
	}
}

func TestFindAmbiguousIsNotFound(t *testing.T) {
	db := storetest.NewDB(t)
	d := directory.New(db, directory.Options{}, testLogger)
	ctx := context.Background()

	// Rows written around Register can still share a domain.
	for _, ep := range []string{"https://x.example/one", "https://x.example/two"} {
		if err := db.Create(&directory.Provider{Endpoint: ep, Domain: "x.example", Name: ep}).Error; err != nil {
			t.Fatal(err)
		}
	}

	if _, err := d.Find(ctx, directory.Criteria{Domain: "x.example"}); !errors.Is(err, directory.ErrNotFound) {
		t.Errorf("ambiguous lookup should be not found, got %v", err)
	}
	if _, err := d.Find(ctx, directory.Criteria{Domain: "x.example", Endpoint: "https://x.example/one"}); err != nil {
		t.Errorf("endpoint narrows the match: %v", err)
	}
}

func TestAllOrdered(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()

	mustRegister(t, d, directory.Provider{Endpoint: "https://z.example", Name: "Beta"})
	mustRegister(t, d, directory.Provider{Endpoint: "https://b.example", Name: "Alpha"})
	mustRegister(t, d, directory.Provider{Endpoint: "https://a.example", Name: "Beta"})

	all, err := d.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"https://b.example", "https://a.example", "https://z.example"}
	if len(all) != len(want) {
		t.Fatalf("got %d providers", len(all))
	}
	for i, p := range all {
		if p.Endpoint != want[i] {
			t.Errorf("all[%d] = %s, want %s", i, p.Endpoint, want[i])
		}
	}
}

func TestUpdateDeleteIsKnown(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()

	mustRegister(t, d, directory.Provider{Endpoint: "https://nc-2.example", Domain: "nc-2.example", Name: "old"})
	mustRegister(t, d, directory.Provider{Endpoint: "https://nc-3.example", Domain: "nc-3.example", Name: "three"})

	name := "new"
	p, err := d.Update(ctx, "https://nc-2.example/", directory.ProviderUpdate{Name: &name})
	if err != nil || p.Name != "new" {
		t.Fatalf("Update = %+v, %v", p, err)
	}

	taken := "nc-3.example"
	_, err = d.Update(ctx, "https://nc-2.example", directory.ProviderUpdate{Domain: &taken})
	if apperr.CodeOf(err) != directory.CodeIdentityTaken {
		t.Errorf("expected identity conflict, got %v", err)
	}

	_, err = d.Update(ctx, "https://missing.example", directory.ProviderUpdate{Name: &name})
	if !errors.Is(err, directory.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	known, err := d.IsKnown(ctx, "nc-2.example")
	if err != nil || !known {
		t.Errorf("IsKnown = %v, %v", known, err)
	}

	deleted, err := d.Delete(ctx, "https://nc-2.example")
	if err != nil || deleted.Name != "new" {
		t.Fatalf("Delete = %+v, %v", deleted, err)
	}
	if known, _ := d.IsKnown(ctx, "https://nc-2.example"); known {
		t.Error("deleted provider still known")
	}
	if _, err := d.Delete(ctx, "https://nc-2.example"); !errors.Is(err, directory.ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestEnsureSelf(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()

	self := directory.Provider{Endpoint: "https://nc-1.example", Domain: "nc-1.example", Name: "One", UUID: "u-1"}
	if _, err := d.EnsureSelf(ctx, self); err != nil {
		t.Fatal(err)
	}
	self.Name = "One renamed"
	if _, err := d.EnsureSelf(ctx, self); err != nil {
		t.Fatal(err)
	}

	got, err := d.Self(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Self || got.Name != "One renamed" {
		t.Errorf("self = %+v", got)
	}
	all, _ := d.All(ctx)
	if len(all) != 1 {
		t.Errorf("EnsureSelf must not duplicate, got %d rows", len(all))
	}

	if _, err := d.Delete(ctx, self.Endpoint); apperr.CodeOf(err) != directory.CodeNotRemote {
		t.Errorf("deleting self = %v, want %s", err, directory.CodeNotRemote)
	}
}

func TestEnsureSelfMovesOrigin(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()

	if _, err := d.EnsureSelf(ctx, directory.Provider{Endpoint: "https://old.example", Domain: "old.example"}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.EnsureSelf(ctx, directory.Provider{Endpoint: "https://new.example", Domain: "new.example"}); err != nil {
		t.Fatal(err)
	}

	got, err := d.Self(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Endpoint != "https://new.example" {
		t.Errorf("self endpoint = %q", got.Endpoint)
	}
	old, err := d.Find(ctx, directory.Criteria{Endpoint: "https://old.example"})
	if err != nil || old.Self {
		t.Errorf("old row = %+v, %v", old, err)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		in       string
		insecure bool
		want     string
		wantErr  bool
	}{
		{"nc.example", false, "https://nc.example", false},
		{" https://NC.example:443/ ", false, "https://nc.example", false},
		{"https://nc.example:", false, "https://nc.example", false},
		{"https://nc.example/base/", false, "https://nc.example/base", false},
		{"https://bücher.example", false, "https://xn--bcher-kva.example", false},
		{"http://nc.example:80", true, "http://nc.example", false},
		{"http://nc.example", false, "", true},
		{"ftp://nc.example", true, "", true},
		{"https://nc.example/?x=1", false, "", true},
		{"https://user@nc.example", false, "", true},
		{"", false, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := directory.NormalizeEndpoint(tt.in, tt.insecure)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
