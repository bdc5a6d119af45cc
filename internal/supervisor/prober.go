package supervisor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/platewatch/platewatch/pkg/models"
)

// Prober issues sequential HTTP health probes against the service.
// One probe is in flight at a time; a timeout counts as a failure.
type Prober struct {
	url    string
	client *http.Client
}

// NewProber builds a prober for http://localhost:<port>/health
func NewProber(port int, timeout time.Duration) *Prober {
	return &Prober{
		url: fmt.Sprintf("http://localhost:%d/health", port),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// URL returns the probe target
func (p *Prober) URL() string {
	return p.url
}

// Probe issues a single health check. Success means a response with a
// status below 400, matching curl -f semantics.
func (p *Prober) Probe(ctx context.Context) models.ProbeResult {
	result := models.ProbeResult{CheckedAt: time.Now()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	result.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	// drain so the connection can be reused between probes
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	result.StatusCode = resp.StatusCode
	result.Success = resp.StatusCode < 400
	if !result.Success {
		result.Error = fmt.Sprintf("status %d", resp.StatusCode)
	}

	return result
}
