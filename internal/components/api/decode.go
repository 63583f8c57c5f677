package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/apperr"
)

// MaxBodyBytes caps JSON request bodies.
const MaxBodyBytes = 1 << 20

// CodeInvalidBody is returned for undecodable or structurally invalid bodies.
const CodeInvalidBody = "INVALID_REQUEST_BODY"

// Validate is the shared validator for request DTOs. Field names in
// messages use the json tag.
var Validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeJSON reads a JSON body into dst and runs struct validation.
// Both failures come back as a validation error with CodeInvalidBody.
func DecodeJSON(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation(CodeInvalidBody, "request body is empty")
		}
		return apperr.Validation(CodeInvalidBody, "request body is not valid JSON")
	}

	if err := Validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return apperr.Validation(CodeInvalidBody, fmt.Sprintf("field %q failed %q", fe.Field(), fe.Tag()))
		}
		return apperr.Validation(CodeInvalidBody, err.Error())
	}
	return nil
}

// IsEmail reports whether s is a syntactically valid email address.
func IsEmail(s string) bool {
	return Validate.Var(s, "required,email") == nil
}
