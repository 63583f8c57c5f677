package cfg

import (
	"strings"
	"testing"
	"time"
)

type ratelimitProfile struct {
	RequestsPerWindow int64         `mapstructure:"requests_per_window" validate:"gte=1"`
	Window            time.Duration `mapstructure:"window"`
	Exempt            []string      `mapstructure:"exempt"`
}

func (p *ratelimitProfile) ApplyDefaults() {
	if p.RequestsPerWindow == 0 {
		p.RequestsPerWindow = 60
	}
	if p.Window == 0 {
		p.Window = time.Minute
	}
}

type serviceConfig struct {
	Ratelimit struct {
		Profile string `mapstructure:"profile" validate:"omitempty,alphanum"`
	} `mapstructure:"ratelimit"`
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
		want  ratelimitProfile
	}{
		{
			name:  "defaults",
			input: map[string]any{},
			want:  ratelimitProfile{RequestsPerWindow: 60, Window: time.Minute},
		},
		{
			name:  "toml integers",
			input: map[string]any{"requests_per_window": int64(5), "window": "30s"},
			want:  ratelimitProfile{RequestsPerWindow: 5, Window: 30 * time.Second},
		},
		{
			name:  "environment strings",
			input: map[string]any{"requests_per_window": "7", "exempt": "10.0.0.1,10.0.0.2"},
			want:  ratelimitProfile{RequestsPerWindow: 7, Window: time.Minute, Exempt: []string{"10.0.0.1", "10.0.0.2"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ratelimitProfile
			if err := Decode(tt.input, &got); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.RequestsPerWindow != tt.want.RequestsPerWindow || got.Window != tt.want.Window ||
				strings.Join(got.Exempt, ",") != strings.Join(tt.want.Exempt, ",") {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecode_Validation(t *testing.T) {
	var p ratelimitProfile
	err := Decode(map[string]any{"requests_per_window": -1}, &p)
	if err == nil || !strings.Contains(err.Error(), "RequestsPerWindow") {
		t.Errorf("negative limit: err = %v", err)
	}

	var s serviceConfig
	if err := Decode(map[string]any{"ratelimit": map[string]any{"profile": "bad name!"}}, &s); err == nil {
		t.Error("expected profile name validation error")
	}
	if err := Decode(map[string]any{"ratelimit": map[string]any{"profile": "ocm"}}, &s); err != nil || s.Ratelimit.Profile != "ocm" {
		t.Errorf("valid profile: %+v, %v", s, err)
	}
}

func TestDecode_TypeMismatch(t *testing.T) {
	var p ratelimitProfile
	if err := Decode(map[string]any{"requests_per_window": "many"}, &p); err == nil {
		t.Error("expected decode error")
	}
}

func TestDecodeWithUnused(t *testing.T) {
	var s serviceConfig
	unused, err := DecodeWithUnused(map[string]any{
		"ratelimit": map[string]any{"profile": "registry"},
		"zeta":      1,
		"alpha":     true,
	}, &s)
	if err != nil {
		t.Fatalf("DecodeWithUnused: %v", err)
	}
	if strings.Join(unused, ",") != "alpha,zeta" {
		t.Errorf("unused = %v", unused)
	}
}

func TestMustDecodeStrict(t *testing.T) {
	var s serviceConfig
	if err := MustDecodeStrict(map[string]any{"ratelimit": map[string]any{}}, &s); err != nil {
		t.Errorf("clean config: %v", err)
	}
	if err := MustDecodeStrict(map[string]any{"ratelimt": map[string]any{}}, &s); err == nil {
		t.Error("expected error for misspelled key")
	}
}

func TestDecode_NonStructTarget(t *testing.T) {
	var m map[string]any
	if err := Decode(map[string]any{"a": 1}, &m); err != nil || m["a"] != 1 {
		t.Errorf("map target: %v, %v", m, err)
	}
}
