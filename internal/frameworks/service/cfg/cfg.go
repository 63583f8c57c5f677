// Package cfg decodes the raw [http.services.<name>] and interceptor maps
// into typed config structs.
//
// Decoding is weakly typed, so values arriving as strings from the
// environment still fill numeric and boolean fields, and "30s" style
// strings fill time.Duration fields. After decoding, ApplyDefaults runs
// when the struct implements Setter, then `validate` tags are checked.
package cfg

import (
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// Setter is implemented by config structs that fill their own defaults.
type Setter interface {
	ApplyDefaults()
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func decode(input map[string]any, c any, md *mapstructure.Metadata) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         md,
		Result:           c,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return err
	}

	if s, ok := c.(Setter); ok {
		s.ApplyDefaults()
	}

	if err := validate.Struct(c); err != nil {
		if _, invalid := err.(*validator.InvalidValidationError); invalid {
			// Non-struct targets carry no tags to check.
			return nil
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Decode decodes input into the pointer c.
func Decode(input map[string]any, c any) error {
	return decode(input, c, nil)
}

// DecodeWithUnused decodes input into c and returns the keys nothing
// consumed, sorted, so callers can warn about them.
func DecodeWithUnused(input map[string]any, c any) ([]string, error) {
	var md mapstructure.Metadata
	if err := decode(input, c, &md); err != nil {
		return nil, err
	}
	unused := slices.Clone(md.Unused)
	slices.Sort(unused)
	return unused, nil
}

// MustDecodeStrict is DecodeWithUnused that treats unused keys as an error.
func MustDecodeStrict(input map[string]any, c any) error {
	unused, err := DecodeWithUnused(input, c)
	if err != nil {
		return err
	}
	if len(unused) > 0 {
		return fmt.Errorf("unused config keys: %v", unused)
	}
	return nil
}
