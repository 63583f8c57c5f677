// Package httpwrap holds the handler wrappers every service applies.
package httpwrap

import "net/http"

// ClearRawPath drops r.URL.RawPath so chi routes on the decoded path.
// Tokens and user ids may arrive percent-encoded.
func ClearRawPath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawPath != "" {
			u := *r.URL
			u.RawPath = ""
			r2 := r.Clone(r.Context())
			r2.URL = &u
			r = r2
		}
		next.ServeHTTP(w, r)
	})
}
