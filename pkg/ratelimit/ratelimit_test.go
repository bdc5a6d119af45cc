package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiterAllow(t *testing.T) {
	limiter := NewLimiter(1, 2)

	// Burst of 2 allowed, third denied
	if !limiter.Allow("client-a") {
		t.Error("First request should be allowed")
	}
	if !limiter.Allow("client-a") {
		t.Error("Second request within burst should be allowed")
	}
	if limiter.Allow("client-a") {
		t.Error("Third request should be denied")
	}

	// Separate key has its own bucket
	if !limiter.Allow("client-b") {
		t.Error("Different key should have a fresh bucket")
	}
}

func TestMiddleware(t *testing.T) {
	limiter := NewLimiter(1, 1)
	handler := limiter.Middleware(IPKeyFunc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/predict", nil)
	req.RemoteAddr = "10.0.0.1:9999"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("First request: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Second request: expected 429, got %d", rec.Code)
	}
}

func TestIPKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.10:1234"

	if key := IPKeyFunc(req); key != "192.168.1.10:1234" {
		t.Errorf("Expected RemoteAddr key, got %s", key)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	if key := IPKeyFunc(req); key != "203.0.113.7" {
		t.Errorf("Expected X-Forwarded-For key, got %s", key)
	}
}

func TestCleanupOldLimiters(t *testing.T) {
	limiter := NewLimiter(1, 1)

	limiter.Allow("stale-client")
	limiter.mu.Lock()
	limiter.limiters["stale-client"].lastSeen = time.Now().Add(-1 * time.Hour)
	limiter.mu.Unlock()

	limiter.Allow("fresh-client")

	removed := limiter.CleanupOldLimiters(10 * time.Minute)
	if removed != 1 {
		t.Errorf("Expected 1 limiter removed, got %d", removed)
	}

	limiter.mu.RLock()
	_, staleExists := limiter.limiters["stale-client"]
	_, freshExists := limiter.limiters["fresh-client"]
	limiter.mu.RUnlock()

	if staleExists {
		t.Error("Stale limiter should have been removed")
	}
	if !freshExists {
		t.Error("Fresh limiter should have been kept")
	}
}
