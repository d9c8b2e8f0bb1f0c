package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func applySecurityHeaders(t *testing.T, env string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	handler := SecurityHeaders(SecurityHeadersConfig{Env: env})
	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/", nil)
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()

	handler(testHandler).ServeHTTP(w, req)
	return w
}

func TestSecurityHeaders_BaselineSet(t *testing.T) {
	w := applySecurityHeaders(t, "development", nil)

	tests := []struct {
		header   string
		expected string
	}{
		{"X-Frame-Options", "DENY"},
		{"X-Content-Type-Options", "nosniff"},
		{"Referrer-Policy", "no-referrer"},
		{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
		{"Cross-Origin-Opener-Policy", "same-origin"},
		{"Cross-Origin-Resource-Policy", "same-origin"},
		{"X-DNS-Prefetch-Control", "off"},
		{"Cache-Control", "no-store"},
	}

	for _, tt := range tests {
		if got := w.Header().Get(tt.header); got != tt.expected {
			t.Errorf("Header %s: got %q, want %q", tt.header, got, tt.expected)
		}
	}
}

func TestSecurityHeaders_HSTSOnlyInProductionOverTLS(t *testing.T) {
	// Development never sends HSTS.
	w := applySecurityHeaders(t, "development", func(r *http.Request) {
		r.Header.Set("X-Forwarded-Proto", "https")
	})
	if hsts := w.Header().Get("Strict-Transport-Security"); hsts != "" {
		t.Errorf("development should not send HSTS, got %q", hsts)
	}

	// Production over plain HTTP does not either.
	w = applySecurityHeaders(t, "production", nil)
	if hsts := w.Header().Get("Strict-Transport-Security"); hsts != "" {
		t.Errorf("production over HTTP should not send HSTS, got %q", hsts)
	}

	// Production behind a TLS-terminating proxy does.
	w = applySecurityHeaders(t, "production", func(r *http.Request) {
		r.Header.Set("X-Forwarded-Proto", "https")
	})
	hsts := w.Header().Get("Strict-Transport-Security")
	if hsts == "" {
		t.Fatal("production over TLS should send HSTS")
	}
	if !hasString(hsts, "max-age=31536000") {
		t.Errorf("HSTS max-age missing: %q", hsts)
	}
}

func hasString(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
