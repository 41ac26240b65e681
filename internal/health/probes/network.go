package probes

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/miradorstack/mirador-autoops/internal/models"
)

// HTTP probes an endpoint with GET. 5xx and transport errors are unhealthy, other
// statuses that differ from the expectation are degraded.
type HTTP struct {
	url    string
	expect int
	client *http.Client
}

// NewHTTP creates an HTTP probe. expect 0 accepts any status below 400.
func NewHTTP(url string, expect int) *HTTP {
	return &HTTP{url: url, expect: expect, client: &http.Client{}}
}

// Probe issues one request bounded by ctx.
func (p *HTTP) Probe(ctx context.Context) (models.ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return models.ProbeResult{}, fmt.Errorf("build request: %w", err)
	}
	started := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return reachability(started, err, "request failed"), nil
	}
	defer resp.Body.Close()

	result := models.ProbeResult{
		Status: models.HealthHealthy,
		Metrics: map[string]float64{
			"latency_ms":  millis(time.Since(started)),
			"status_code": float64(resp.StatusCode),
		},
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		result.Status = models.HealthUnhealthy
		result.Message = resp.Status
	case p.expect != 0 && resp.StatusCode != p.expect:
		result.Status = models.HealthDegraded
		result.Message = fmt.Sprintf("expected status %d, got %d", p.expect, resp.StatusCode)
	case p.expect == 0 && resp.StatusCode >= http.StatusBadRequest:
		result.Status = models.HealthDegraded
		result.Message = resp.Status
	}
	return result, nil
}

// TCP probes that a host:port accepts connections.
type TCP struct {
	addr   string
	dialer net.Dialer
}

// NewTCP creates a TCP probe.
func NewTCP(addr string) *TCP {
	return &TCP{addr: addr}
}

// Probe dials once bounded by ctx.
func (p *TCP) Probe(ctx context.Context) (models.ProbeResult, error) {
	started := time.Now()
	conn, err := p.dialer.DialContext(ctx, "tcp", p.addr)
	if err == nil {
		conn.Close()
	}
	return reachability(started, err, "dial "+p.addr), nil
}
