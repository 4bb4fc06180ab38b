package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func authedHandler(t *testing.T, apiKey string) http.Handler {
	t.Helper()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return APIKeyAuth(apiKey, "X-API-Key")(next)
}

func TestAPIKeyAuth(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		target     string
		header     string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "health is exempt",
			apiKey:     "secret",
			target:     "/health",
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing key is rejected",
			apiKey:     "secret",
			target:     "/api/sync/status",
			wantStatus: http.StatusUnauthorized,
			wantBody:   "API key is required.",
		},
		{
			name:       "wrong key is rejected",
			apiKey:     "secret",
			target:     "/api/sync/status",
			header:     "wrong",
			wantStatus: http.StatusUnauthorized,
			wantBody:   "Invalid API key.",
		},
		{
			name:       "correct key passes",
			apiKey:     "secret",
			target:     "/api/sync/status",
			header:     "secret",
			wantStatus: http.StatusOK,
		},
		{
			name:       "websocket upgrade requires the key",
			apiKey:     "secret",
			target:     "/ws",
			wantStatus: http.StatusUnauthorized,
			wantBody:   "API key is required.",
		},
		{
			name:       "websocket accepts the key as query parameter",
			apiKey:     "secret",
			target:     "/ws?api_key=secret",
			wantStatus: http.StatusOK,
		},
		{
			name:       "empty configured key disables the check",
			apiKey:     "",
			target:     "/api/sync/status",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := authedHandler(t, tt.apiKey)

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
		})
	}
}
