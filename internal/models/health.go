package models

import (
	"maps"
	"time"
)

// HealthStatus is the externally visible state of a health check.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// ResourceKind is the class of resource a check watches.
type ResourceKind string

const (
	KindService   ResourceKind = "service"
	KindNetwork   ResourceKind = "network"
	KindStorage   ResourceKind = "storage"
	KindDatabase  ResourceKind = "database"
	KindHost      ResourceKind = "host"
	KindContainer ResourceKind = "container"
)

// HealthCheck is the state of one registered probe loop.
type HealthCheck struct {
	ID                  string             `json:"id"`
	Name                string             `json:"name"`
	Kind                ResourceKind       `json:"kind"`
	Status              HealthStatus       `json:"status"`
	Interval            time.Duration      `json:"interval"`
	Timeout             time.Duration      `json:"timeout"`
	FailureThreshold    int                `json:"failureThreshold"`
	ConsecutiveFailures int                `json:"consecutiveFailures"`
	LastRunAt           time.Time          `json:"lastRunAt,omitzero"`
	LastMetrics         map[string]float64 `json:"lastMetrics,omitempty"`
	LastMessage         string             `json:"lastMessage,omitempty"`
	LastError           string             `json:"lastError,omitempty"`
	ProbeLatency        ProbeLatency       `json:"probeLatency"`
}

// ProbeLatency summarizes the recent probe durations of a check.
type ProbeLatency struct {
	Samples int           `json:"samples"`
	Last    time.Duration `json:"last"`
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
	Max     time.Duration `json:"max"`
}

// Clone returns a copy that shares no mutable state with c.
func (c HealthCheck) Clone() HealthCheck {
	c.LastMetrics = maps.Clone(c.LastMetrics)
	return c
}

// Attributes exposes the fields self-healing predicates match on.
func (c HealthCheck) Attributes() Attributes {
	return Attributes{
		"check_id": c.ID,
		"name":     c.Name,
		"kind":     string(c.Kind),
		"status":   string(c.Status),
	}
}

// ProbeResult is what a probe reports for a single run.
type ProbeResult struct {
	Status  HealthStatus       `json:"status"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
	Message string             `json:"message,omitempty"`
}
