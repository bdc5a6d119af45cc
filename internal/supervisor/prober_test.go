package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"
)

func proberFor(t *testing.T, ts *httptest.Server, timeout time.Duration) *Prober {
	t.Helper()
	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parsing test server port: %v", err)
	}
	return NewProber(port, timeout)
}

func TestProberURL(t *testing.T) {
	p := NewProber(8000, time.Second)
	if got := p.URL(); got != "http://localhost:8000/health" {
		t.Errorf("URL() = %q, want http://localhost:8000/health", got)
	}

	p = NewProber(9137, time.Second)
	if got := p.URL(); got != "http://localhost:9137/health" {
		t.Errorf("URL() = %q, want http://localhost:9137/health", got)
	}
}

func TestProbeSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("probe path = %q, want /health", r.URL.Path)
		}
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer ts.Close()

	result := proberFor(t, ts, time.Second).Probe(context.Background())
	if !result.Success {
		t.Errorf("probe failed: %s", result.Error)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", result.StatusCode)
	}
	if result.CheckedAt.IsZero() {
		t.Error("CheckedAt not set")
	}
}

func TestProbeFailureStatuses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		success bool
	}{
		{"200 ok", http.StatusOK, true},
		{"204 no content", http.StatusNoContent, true},
		{"302 redirect-ish", http.StatusFound, true},
		{"400 bad request", http.StatusBadRequest, false},
		{"500 server error", http.StatusInternalServerError, false},
		{"503 unavailable", http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer ts.Close()

			result := proberFor(t, ts, time.Second).Probe(context.Background())
			if result.Success != tt.success {
				t.Errorf("success = %v, want %v (status %d)", result.Success, tt.success, tt.status)
			}
		})
	}
}

func TestProbeConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	p := proberFor(t, ts, time.Second)
	ts.Close()

	result := p.Probe(context.Background())
	if result.Success {
		t.Error("probe against a closed port should fail")
	}
	if result.Error == "" {
		t.Error("failed probe should carry an error")
	}
}

func TestProbeTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(400 * time.Millisecond)
	}))
	defer ts.Close()

	result := proberFor(t, ts, 50*time.Millisecond).Probe(context.Background())
	if result.Success {
		t.Error("probe should time out")
	}
}

func TestProbeContextCancel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result := proberFor(t, ts, 10*time.Second).Probe(ctx)
	if result.Success {
		t.Error("cancelled probe should fail")
	}
	if time.Since(start) > time.Second {
		t.Error("cancel did not abort the in-flight probe")
	}
}
