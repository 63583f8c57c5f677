package hostport

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		authority, scheme, want string
	}{
		{"example.org:443", "https", "example.org"},
		{"example.org:80", "http", "example.org"},
		{"example.org:8443", "https", "example.org:8443"},
		{"example.org:443", "http", "example.org:443"},
		{"example.org:443", "HTTPS", "example.org"},
		{"EXAMPLE.ORG", "https", "example.org"},
		{"example.org.", "https", "example.org"},
		{"  example.org  ", "https", "example.org"},
		{"bücher.example", "https", "xn--bcher-kva.example"},
		{"BÜCHER.example:9200", "https", "xn--bcher-kva.example:9200"},
		{"192.0.2.1:443", "https", "192.0.2.1"},
		{"[::1]", "https", "[::1]"},
		{"[::1]:443", "https", "[::1]"},
		{"[::1]:9200", "https", "[::1]:9200"},
		{"[2001:DB8::1]", "https", "[2001:db8::1]"},
	}
	for _, tt := range tests {
		t.Run(tt.authority+"/"+tt.scheme, func(t *testing.T) {
			got, err := Normalize(tt.authority, tt.scheme)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	for _, authority := range []string{
		"",
		"   ",
		"https://example.org",
		"example.org/path",
		"user@example.org",
		"example.org?x=1",
		"example.org:0",
		"example.org:99999",
		"example.org:https",
		":443",
		"[]",
		"exa mple.org",
	} {
		if got, err := Normalize(authority, "https"); err == nil {
			t.Errorf("Normalize(%q) = %q, want error", authority, got)
		}
	}
}

func TestBareAndDefaultPortAreEqual(t *testing.T) {
	bare, _ := Normalize("Example.org", "https")
	withPort, _ := Normalize("example.org:443", "https")
	if bare == "" || bare != withPort {
		t.Errorf("%q != %q", bare, withPort)
	}
}

func TestDomainKeepsPort(t *testing.T) {
	got, err := Domain("Nc-1.Example:443")
	if err != nil || got != "nc-1.example:443" {
		t.Errorf("Domain = %q, %v", got, err)
	}
}
