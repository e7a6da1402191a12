package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsRequest(t *testing.T, origins []string, method, origin string) *httptest.ResponseRecorder {
	t.Helper()
	handler := CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(method, "/api/health", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCORSExplicitOriginGetsCredentials(t *testing.T) {
	t.Parallel()
	rec := corsRequest(t, []string{"https://app.example.com"}, http.MethodGet, "https://app.example.com")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q, want echoed origin", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q, want %q", got, "true")
	}
}

func TestCORSWildcardAllowsWithoutCredentials(t *testing.T) {
	t.Parallel()
	rec := corsRequest(t, []string{"*"}, http.MethodGet, "https://elsewhere.example.com")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://elsewhere.example.com" {
		t.Errorf("Allow-Origin = %q, want echoed origin", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("Allow-Credentials = %q, want unset for wildcard match", got)
	}
}

func TestCORSUnlistedOriginGetsNoHeaders(t *testing.T) {
	t.Parallel()
	rec := corsRequest(t, []string{"https://app.example.com"}, http.MethodGet, "https://evil.example.com")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want unset for unlisted origin", got)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want request to still reach the handler", rec.Code)
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	t.Parallel()
	rec := corsRequest(t, []string{"https://app.example.com"}, http.MethodOptions, "https://app.example.com")

	if rec.Code != http.StatusOK {
		t.Errorf("preflight status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
		t.Errorf("Allow-Methods = %q", got)
	}
}
