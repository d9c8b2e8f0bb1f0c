package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimitByIP_AllowsWithinLimit(t *testing.T) {
	limiter := RateLimitByIP(RateLimitConfig{Requests: 3, Window: time.Minute})

	handler := limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/verify", nil)
		req.RemoteAddr = "203.0.113.10:40000"
		recorder := httptest.NewRecorder()

		handler.ServeHTTP(recorder, req)
		if recorder.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i+1, recorder.Code)
		}
	}
}

func TestRateLimitByIP_RejectsPastLimit(t *testing.T) {
	limiter := RateLimitByIP(RateLimitConfig{Requests: 2, Window: time.Minute})

	handler := limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/verify", nil)
		req.RemoteAddr = "203.0.113.11:40000"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
	}

	if last.Code != http.StatusTooManyRequests {
		t.Errorf("third request: expected status 429, got %d", last.Code)
	}
	if ct := last.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("429 Content-Type: got %q, want application/json", ct)
	}
}

func TestRateLimitByIP_SeparateIPsSeparateBudgets(t *testing.T) {
	limiter := RateLimitByIP(RateLimitConfig{Requests: 1, Window: time.Minute})

	handler := limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRequest("POST", "/verify", nil)
	first.RemoteAddr = "203.0.113.20:40000"
	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, first)

	second := httptest.NewRequest("POST", "/verify", nil)
	second.RemoteAddr = "203.0.113.21:40000"
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, second)

	if w1.Code != http.StatusOK || w2.Code != http.StatusOK {
		t.Errorf("distinct IPs should each get a fresh budget: got %d and %d", w1.Code, w2.Code)
	}
}

func TestDefaultVerifyRateLimit(t *testing.T) {
	cfg := DefaultVerifyRateLimit()
	if cfg.Requests != 10 {
		t.Errorf("Requests: got %d, want 10", cfg.Requests)
	}
	if cfg.Window != time.Minute {
		t.Errorf("Window: got %v, want 1m", cfg.Window)
	}
}
