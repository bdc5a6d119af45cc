// Package prometheus serves lprd service metrics in Prometheus text
// format: hand-written service counters first, then everything
// registered with the client_golang default registry (the bandwidth
// histograms live there).
package prometheus

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/platewatch/platewatch/pkg/store"
)

// Collector aggregates service counters and serves them at /metrics.
type Collector struct {
	store     store.Store
	startTime time.Time
	proc      *process.Process

	mu             sync.RWMutex
	requests       map[requestKey]int64
	predictions    int64
	platesDetected int64
	decisions      map[string]int64
	cleanupRecords int64
	cleanupFiles   int64
	vacuumRuns     int64
}

type requestKey struct {
	method string
	route  string
	status int
}

// NewCollector creates a metrics collector backed by the record store.
func NewCollector(s store.Store) *Collector {
	c := &Collector{
		store:     s,
		startTime: time.Now(),
		requests:  make(map[requestKey]int64),
		decisions: make(map[string]int64),
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		c.proc = proc
	}
	return c
}

// Middleware counts requests by method, route template and status.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		key := requestKey{method: r.Method, route: routeTemplate(r), status: rw.status}
		c.mu.Lock()
		c.requests[key]++
		c.mu.Unlock()
	})
}

// RecordPrediction counts one completed prediction and the plates it
// returned.
func (c *Collector) RecordPrediction(plates int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.predictions++
	c.platesDetected += int64(plates)
}

// RecordDecision counts one OCR ensemble outcome by its source.
func (c *Collector) RecordDecision(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisions[source]++
}

// RecordCleanup counts records and local files removed by retention.
func (c *Collector) RecordCleanup(records, files int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupRecords += int64(records)
	c.cleanupFiles += int64(files)
}

// RecordVacuum counts one store vacuum run.
func (c *Collector) RecordVacuum() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vacuumRuns++
}

// ServeHTTP serves Prometheus-compatible metrics.
func (c *Collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	c.mu.RLock()
	requests := make(map[requestKey]int64, len(c.requests))
	for k, v := range c.requests {
		requests[k] = v
	}
	decisions := make(map[string]int64, len(c.decisions))
	for k, v := range c.decisions {
		decisions[k] = v
	}
	predictions := c.predictions
	platesDetected := c.platesDetected
	cleanupRecords := c.cleanupRecords
	cleanupFiles := c.cleanupFiles
	vacuumRuns := c.vacuumRuns
	c.mu.RUnlock()

	fmt.Fprintf(w, "# HELP lpr_uptime_seconds Time since the service started\n")
	fmt.Fprintf(w, "# TYPE lpr_uptime_seconds gauge\n")
	fmt.Fprintf(w, "lpr_uptime_seconds %d\n", int64(time.Since(c.startTime).Seconds()))

	fmt.Fprintf(w, "\n# HELP lpr_requests_total HTTP requests by method, route and status\n")
	fmt.Fprintf(w, "# TYPE lpr_requests_total counter\n")
	for _, key := range sortedRequestKeys(requests) {
		fmt.Fprintf(w, "lpr_requests_total{method=%q,route=%q,status=\"%d\"} %d\n",
			key.method, key.route, key.status, requests[key])
	}

	fmt.Fprintf(w, "\n# HELP lpr_predictions_total Completed prediction requests\n")
	fmt.Fprintf(w, "# TYPE lpr_predictions_total counter\n")
	fmt.Fprintf(w, "lpr_predictions_total %d\n", predictions)

	fmt.Fprintf(w, "\n# HELP lpr_plates_detected_total Plates returned across all predictions\n")
	fmt.Fprintf(w, "# TYPE lpr_plates_detected_total counter\n")
	fmt.Fprintf(w, "lpr_plates_detected_total %d\n", platesDetected)

	fmt.Fprintf(w, "\n# HELP lpr_ocr_decisions_total OCR ensemble outcomes by source\n")
	fmt.Fprintf(w, "# TYPE lpr_ocr_decisions_total counter\n")
	for _, source := range sortedKeys(decisions) {
		fmt.Fprintf(w, "lpr_ocr_decisions_total{source=%q} %d\n", source, decisions[source])
	}

	storeUp := 1
	if err := c.store.HealthCheck(); err != nil {
		storeUp = 0
	}
	fmt.Fprintf(w, "\n# HELP lpr_store_up Whether the record store responds (1=yes, 0=no)\n")
	fmt.Fprintf(w, "# TYPE lpr_store_up gauge\n")
	fmt.Fprintf(w, "lpr_store_up %d\n", storeUp)

	if total, err := c.store.CountRecords(store.ListOptions{}); err == nil {
		fmt.Fprintf(w, "\n# HELP lpr_plate_records Plate records currently stored\n")
		fmt.Fprintf(w, "# TYPE lpr_plate_records gauge\n")
		fmt.Fprintf(w, "lpr_plate_records %d\n", total)
	}

	fmt.Fprintf(w, "\n# HELP lpr_cleanup_deleted_records_total Records removed by retention cleanup\n")
	fmt.Fprintf(w, "# TYPE lpr_cleanup_deleted_records_total counter\n")
	fmt.Fprintf(w, "lpr_cleanup_deleted_records_total %d\n", cleanupRecords)

	fmt.Fprintf(w, "\n# HELP lpr_cleanup_deleted_files_total Local upload files removed by retention cleanup\n")
	fmt.Fprintf(w, "# TYPE lpr_cleanup_deleted_files_total counter\n")
	fmt.Fprintf(w, "lpr_cleanup_deleted_files_total %d\n", cleanupFiles)

	fmt.Fprintf(w, "\n# HELP lpr_store_vacuum_runs_total Store vacuum runs\n")
	fmt.Fprintf(w, "# TYPE lpr_store_vacuum_runs_total counter\n")
	fmt.Fprintf(w, "lpr_store_vacuum_runs_total %d\n", vacuumRuns)

	c.writeHardwareMetrics(w)

	// Append everything registered with the default registry.
	fmt.Fprintf(w, "\n")
	metricFamilies, err := promclient.DefaultGatherer.Gather()
	if err != nil {
		fmt.Fprintf(w, "# Error gathering registry metrics: %v\n", err)
		return
	}
	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range metricFamilies {
		if err := encoder.Encode(mf); err != nil {
			fmt.Fprintf(w, "# Error encoding metric %s: %v\n", mf.GetName(), err)
		}
	}
}

// writeHardwareMetrics samples process and system usage. Sampling
// failures just omit the affected metrics.
func (c *Collector) writeHardwareMetrics(w http.ResponseWriter) {
	if c.proc != nil {
		if mi, err := c.proc.MemoryInfo(); err == nil {
			fmt.Fprintf(w, "\n# HELP lpr_process_memory_bytes Resident set size of the service process\n")
			fmt.Fprintf(w, "# TYPE lpr_process_memory_bytes gauge\n")
			fmt.Fprintf(w, "lpr_process_memory_bytes %d\n", mi.RSS)
		}
		if pct, err := c.proc.CPUPercent(); err == nil {
			fmt.Fprintf(w, "\n# HELP lpr_process_cpu_percent CPU usage of the service process (0-100)\n")
			fmt.Fprintf(w, "# TYPE lpr_process_cpu_percent gauge\n")
			fmt.Fprintf(w, "lpr_process_cpu_percent %.2f\n", pct)
		}
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		fmt.Fprintf(w, "\n# HELP lpr_system_memory_used_bytes System memory in use\n")
		fmt.Fprintf(w, "# TYPE lpr_system_memory_used_bytes gauge\n")
		fmt.Fprintf(w, "lpr_system_memory_used_bytes %d\n", vm.Used)

		fmt.Fprintf(w, "\n# HELP lpr_system_memory_percent System memory usage percentage (0-100)\n")
		fmt.Fprintf(w, "# TYPE lpr_system_memory_percent gauge\n")
		fmt.Fprintf(w, "lpr_system_memory_percent %.2f\n", vm.UsedPercent)
	}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		fmt.Fprintf(w, "\n# HELP lpr_system_cpu_percent System CPU usage percentage (0-100)\n")
		fmt.Fprintf(w, "# TYPE lpr_system_cpu_percent gauge\n")
		fmt.Fprintf(w, "lpr_system_cpu_percent %.2f\n", cpuPercent[0])
	}
}

func sortedRequestKeys(m map[requestKey]int64) []requestKey {
	keys := make([]requestKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].route != keys[j].route {
			return keys[i].route < keys[j].route
		}
		if keys[i].method != keys[j].method {
			return keys[i].method < keys[j].method
		}
		return keys[i].status < keys[j].status
	})
	return keys
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// routeTemplate prefers the mux route template over the raw path so
// parameterized routes do not explode label cardinality.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil && tmpl != "" {
			return tmpl
		}
	}
	return r.URL.Path
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}
