package auth

import (
	"encoding/json"
	"net/http"
)

// APIKeyMiddleware is the HTTP counterpart of APIKeyInterceptor. Requests
// without the expected key in header get 401 with a JSON error body.
// The WebSocket upgrade also accepts the key as the "api_key" query
// parameter, since browsers cannot set headers on it.
func APIKeyMiddleware(mode, header, key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled(mode, key) {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(header)
			if got == "" {
				got = r.URL.Query().Get("api_key")
			}
			if got == "" || !keyMatches(got, key) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
