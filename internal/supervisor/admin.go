package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platewatch/platewatch/pkg/auth"
	"github.com/platewatch/platewatch/pkg/logging"
	"github.com/platewatch/platewatch/pkg/models"
)

// AdminServer exposes the operator surface of the supervisor:
// status, metrics, liveness, stop and start.
type AdminServer struct {
	sup      *Supervisor
	verifier *auth.KeyVerifier
	log      *logging.Logger
}

// NewAdminServer creates the admin API handler. An empty keyHash
// leaves the POST endpoints unauthenticated.
func NewAdminServer(sup *Supervisor, keyHash string, log *logging.Logger) *AdminServer {
	return &AdminServer{
		sup:      sup,
		verifier: auth.NewKeyVerifier(keyHash),
		log:      log,
	}
}

// RegisterRoutes registers all admin endpoints on the router
func (a *AdminServer) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/status", a.handleStatus).Methods("GET")
	r.HandleFunc("/metrics", a.handleMetrics).Methods("GET")
	r.HandleFunc("/health", a.handleHealth).Methods("GET")
	r.HandleFunc("/stop", a.requireKey(a.handleStop)).Methods("POST")
	r.HandleFunc("/start", a.requireKey(a.handleStart)).Methods("POST")
}

// Server builds an http.Server for the admin API
func (a *AdminServer) Server(addr string) *http.Server {
	r := mux.NewRouter()
	a.RegisterRoutes(r)

	return &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// requireKey gates mutating endpoints behind the API key when one is
// configured. GET endpoints stay open: /health must work for probers.
func (a *AdminServer) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.verifier.Enabled() {
			next(w, r)
			return
		}

		key := auth.ExtractKey(r)
		if err := a.verifier.Verify(key); err != nil {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":{"code":"UNAUTHORIZED","message":"missing or invalid API key"}}`, http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

func (a *AdminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(a.sup.Status())
}

func (a *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (a *AdminServer) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := a.sup.OperatorStop(ctx); err != nil {
		a.log.Error("operator stop failed", map[string]interface{}{"error": err.Error()})
		http.Error(w, fmt.Sprintf("stop failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": string(models.StateStopped)})
}

func (a *AdminServer) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := a.sup.OperatorStart(ctx); err != nil {
		http.Error(w, fmt.Sprintf("start failed: %v", err), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": string(models.StateStarting)})
}

// handleMetrics serves supervisor metrics in Prometheus text format
func (a *AdminServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	st := a.sup.Status()
	name := st.Name

	fmt.Fprintf(w, "# HELP platewatchd_state Service lifecycle state (one-hot)\n")
	fmt.Fprintf(w, "# TYPE platewatchd_state gauge\n")
	for _, state := range []models.ServiceState{
		models.StateStarting, models.StateProbing, models.StateHealthy,
		models.StateUnhealthy, models.StateRestarting, models.StateStopped,
	} {
		v := 0
		if st.State == state {
			v = 1
		}
		fmt.Fprintf(w, "platewatchd_state{service=%q,state=%q} %d\n", name, state, v)
	}

	fmt.Fprintf(w, "\n# HELP platewatchd_service_up Whether the service is healthy (1) or not (0)\n")
	fmt.Fprintf(w, "# TYPE platewatchd_service_up gauge\n")
	up := 0
	if st.State == models.StateHealthy {
		up = 1
	}
	fmt.Fprintf(w, "platewatchd_service_up{service=%q} %d\n", name, up)

	fmt.Fprintf(w, "\n# HELP platewatchd_probes_total Health probes issued\n")
	fmt.Fprintf(w, "# TYPE platewatchd_probes_total counter\n")
	fmt.Fprintf(w, "platewatchd_probes_total{service=%q} %d\n", name, st.ProbesTotal)

	fmt.Fprintf(w, "\n# HELP platewatchd_probe_failures_total Health probes that failed\n")
	fmt.Fprintf(w, "# TYPE platewatchd_probe_failures_total counter\n")
	fmt.Fprintf(w, "platewatchd_probe_failures_total{service=%q} %d\n", name, st.ProbeFailuresTotal)

	fmt.Fprintf(w, "\n# HELP platewatchd_consecutive_probe_failures Current consecutive probe failures\n")
	fmt.Fprintf(w, "# TYPE platewatchd_consecutive_probe_failures gauge\n")
	fmt.Fprintf(w, "platewatchd_consecutive_probe_failures{service=%q} %d\n", name, st.ConsecutiveFailures)

	fmt.Fprintf(w, "\n# HELP platewatchd_restarts_total Times the service was relaunched\n")
	fmt.Fprintf(w, "# TYPE platewatchd_restarts_total counter\n")
	fmt.Fprintf(w, "platewatchd_restarts_total{service=%q} %d\n", name, st.Restarts)

	fmt.Fprintf(w, "\n# HELP platewatchd_service_uptime_seconds Uptime of the current service process\n")
	fmt.Fprintf(w, "# TYPE platewatchd_service_uptime_seconds gauge\n")
	fmt.Fprintf(w, "platewatchd_service_uptime_seconds{service=%q} %d\n", name, st.UptimeSeconds)

	fmt.Fprintf(w, "\n# HELP platewatchd_service_memory_rss_bytes Resident set size of the service process\n")
	fmt.Fprintf(w, "# TYPE platewatchd_service_memory_rss_bytes gauge\n")
	fmt.Fprintf(w, "platewatchd_service_memory_rss_bytes{service=%q} %d\n", name, st.MemoryRSSBytes)

	fmt.Fprintf(w, "\n# HELP platewatchd_service_memory_limit_bytes Configured memory ceiling\n")
	fmt.Fprintf(w, "# TYPE platewatchd_service_memory_limit_bytes gauge\n")
	fmt.Fprintf(w, "platewatchd_service_memory_limit_bytes{service=%q} %d\n", name, st.MemoryLimitBytes)

	if st.LastProbe != nil {
		fmt.Fprintf(w, "\n# HELP platewatchd_last_probe_latency_ms Latency of the most recent probe\n")
		fmt.Fprintf(w, "# TYPE platewatchd_last_probe_latency_ms gauge\n")
		fmt.Fprintf(w, "platewatchd_last_probe_latency_ms{service=%q} %d\n", name, st.LastProbe.LatencyMS)
	}
}
