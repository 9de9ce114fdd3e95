package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newAuthServer(token string) *Server {
	return &Server{
		config: Config{AuthToken: token},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_NoToken_NoOp(t *testing.T) {
	handler := newAuthServer("").authMiddleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/maven2/release/org/example/demo/1.0/demo-1.0.jar", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	handler := newAuthServer("test-token-123").authMiddleware(okHandler())

	for _, header := range []string{"Bearer test-token-123", "bearer test-token-123"} {
		req := httptest.NewRequest(http.MethodGet, "/maven2/release/org/example/demo/1.0/demo-1.0.jar", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, header)
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	handler := newAuthServer("test-token-123").authMiddleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/maven2/release/org/example/demo/1.0/demo-1.0.jar", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, `Bearer realm="artifact-cache"`, rec.Header().Get("WWW-Authenticate"))

	var body map[string]string
	err := json.NewDecoder(rec.Body).Decode(&body)
	require.NoError(t, err)
	require.Equal(t, "unauthorized", body["error"])
}

func TestAuthMiddleware_Rejected(t *testing.T) {
	handler := newAuthServer("test-token-123").authMiddleware(okHandler())

	for name, header := range map[string]string{
		"missing":      "",
		"wrong scheme": "Basic dXNlcjpwYXNz",
		"empty token":  "Bearer ",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/maven2/release/org/example/demo/1.0/demo-1.0.jar", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuthMiddleware_ExemptPaths(t *testing.T) {
	handler := newAuthServer("test-token-123").authMiddleware(okHandler())

	for _, path := range []string{"/health", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, "path %s should be exempt from auth", path)
		})
	}
}

func TestAuthMiddleware_ProtectedPaths(t *testing.T) {
	handler := newAuthServer("test-token-123").authMiddleware(okHandler())

	for _, path := range []string{"/stats", "/maven2/release/org/example/maven-metadata.xml", "/health/extra"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, http.StatusUnauthorized, rec.Code, "path %s should require auth", path)
		})
	}
}
