package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAPIKeyMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		mode   string
		key    string
		header string // value sent in x-api-key
		target string
		want   int
	}{
		{"disabled", "none", "secret", "", "/api/v1/stations", http.StatusNoContent},
		{"no key configured", "apikey", "", "", "/api/v1/stations", http.StatusNoContent},
		{"header ok", "apikey", "secret", "secret", "/api/v1/stations", http.StatusNoContent},
		{"header wrong", "apikey", "secret", "nope", "/api/v1/stations", http.StatusUnauthorized},
		{"missing", "apikey", "secret", "", "/api/v1/stations", http.StatusUnauthorized},
		{"query ok", "apikey", "secret", "", "/ws?api_key=secret", http.StatusNoContent},
		{"query wrong", "apikey", "secret", "", "/ws?api_key=bad", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := APIKeyMiddleware(tt.mode, "x-api-key", tt.key)(okHandler())
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("X-Api-Key", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status: got %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized {
				if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
					t.Errorf("Content-Type: got %q, want application/json", ct)
				}
			}
		})
	}
}
