package middleware

import (
	"crypto/subtle"
	"net/http"
)

// APIKeyHeader carries the curator API key
const APIKeyHeader = "X-API-Key"

// Authentication rejects requests whose X-API-Key does not match apiKey.
// Preflight requests pass through so CORS keeps working.
func Authentication(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			given := r.Header.Get(APIKeyHeader)
			if given == "" || subtle.ConstantTimeCompare([]byte(given), []byte(apiKey)) != 1 {
				w.Header().Set("WWW-Authenticate", `APIKey header="`+APIKeyHeader+`"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
