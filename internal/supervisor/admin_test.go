package supervisor

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/platewatch/platewatch/pkg/auth"
	"github.com/platewatch/platewatch/pkg/models"
)

func adminTestServer(t *testing.T, s *Supervisor, keyHash string) *httptest.Server {
	t.Helper()
	admin := NewAdminServer(s, keyHash, quietLogger())
	r := mux.NewRouter()
	admin.RegisterRoutes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func healthySupervisor(t *testing.T) *Supervisor {
	t.Helper()
	var status atomic.Int64
	status.Store(http.StatusOK)
	port := healthServer(t, &status, nil)

	s, _ := startSupervisor(t, testConfig(port))
	waitFor(t, 5*time.Second, func() bool {
		return s.State() == models.StateHealthy
	}, "service never became healthy")
	return s
}

func TestAdminStatus(t *testing.T) {
	s := healthySupervisor(t)
	ts := adminTestServer(t, s, "")

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var st models.ServiceStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if st.Name != "probe-target" {
		t.Errorf("name = %q, want probe-target", st.Name)
	}
	if st.State != models.StateHealthy {
		t.Errorf("state = %s, want healthy", st.State)
	}
	if st.PID == 0 {
		t.Error("status should include the child PID")
	}
}

func TestAdminHealth(t *testing.T) {
	s := healthySupervisor(t)
	ts := adminTestServer(t, s, "")

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAdminMetrics(t *testing.T) {
	s := healthySupervisor(t)
	ts := adminTestServer(t, s, "")

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	body := string(raw)

	for _, want := range []string{
		"platewatchd_state{",
		`platewatchd_service_up{service="probe-target"} 1`,
		"platewatchd_probes_total{",
		"platewatchd_restarts_total{",
		"platewatchd_service_memory_limit_bytes{",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestAdminStopAndStart(t *testing.T) {
	s := healthySupervisor(t)
	ts := adminTestServer(t, s, "")

	resp, err := http.Post(ts.URL+"/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /stop: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", resp.StatusCode)
	}
	if st := s.State(); st != models.StateStopped {
		t.Fatalf("state after stop = %s, want stopped", st)
	}

	// start while stopped succeeds
	resp, err = http.Post(ts.URL+"/start", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /start: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want 200", resp.StatusCode)
	}

	waitFor(t, 5*time.Second, func() bool {
		return s.State() == models.StateHealthy
	}, "service never became healthy after admin start")

	// start while running conflicts
	resp, err = http.Post(ts.URL+"/start", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /start: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("start-while-running status = %d, want 409", resp.StatusCode)
	}
}

func TestAdminAPIKeyGatesWrites(t *testing.T) {
	key, hash, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}

	s := healthySupervisor(t)
	ts := adminTestServer(t, s, hash)

	// GETs stay open
	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("unauthenticated GET /status = %d, want 200", resp.StatusCode)
	}

	// POST without a key is rejected
	resp, err = http.Post(ts.URL+"/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /stop: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated POST /stop = %d, want 401", resp.StatusCode)
	}
	if st := s.State(); st == models.StateStopped {
		t.Error("unauthenticated stop must not stop the service")
	}

	// POST with the key succeeds
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/stop", nil)
	req.Header.Set("X-API-Key", key)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authenticated POST /stop: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated POST /stop = %d, want 200", resp.StatusCode)
	}
	if st := s.State(); st != models.StateStopped {
		t.Errorf("state = %s, want stopped", st)
	}
}

