// Package tokenauth guards routes with a shared token carried in a header.
package tokenauth

import (
	"crypto/subtle"
	"net/http"
)

// Require returns middleware that passes a request on only when header
// carries token. Other requests are handed to reject. An empty token
// disables the check.
func Require(header, token string, reject http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if subtle.ConstantTimeCompare([]byte(r.Header.Get(header)), want) != 1 {
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
