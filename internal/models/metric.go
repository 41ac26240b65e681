package models

import "time"

// MetricSample is a single observation appended to a key's baseline history.
type MetricSample struct {
	Key       string            `json:"key"`
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (1) to critical (4). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ParseSeverity maps a string onto a known Severity.
func ParseSeverity(value string) (Severity, bool) {
	s := Severity(value)
	return s, s.Rank() > 0
}

// Category classifies an anomaly or threat by the signal family it came from.
type Category string

const (
	CategoryResource  Category = "resource_anomaly"
	CategoryNetwork   Category = "network_anomaly"
	CategoryTraffic   Category = "traffic_anomaly"
	CategoryError     Category = "error_anomaly"
	CategoryIntrusion Category = "intrusion_attempt"
	CategoryUnknown   Category = "unknown"
)

// ModelVerdict is one scorer's contribution to an ensemble evaluation.
type ModelVerdict struct {
	Model      string  `json:"model"`
	Raw        float64 `json:"raw"`
	Normalized float64 `json:"normalized"`
	Threshold  float64 `json:"threshold"`
	Anomalous  bool    `json:"anomalous"`
}

// AnomalyVerdict is the consensus of the scorer ensemble for one evaluation. Never persisted.
type AnomalyVerdict struct {
	Key         string         `json:"key"`
	IsAnomalous bool           `json:"isAnomalous"`
	Score       float64        `json:"score"`
	Confidence  float64        `json:"confidence"`
	Category    Category       `json:"category"`
	Severity    Severity       `json:"severity"`
	Models      []ModelVerdict `json:"models"`
	EvaluatedAt time.Time      `json:"evaluatedAt"`
}

// Attributes flattens the sample into predicate-matchable fields.
func (s MetricSample) Attributes() Attributes {
	attrs := Attributes{"key": s.Key}
	for k, v := range s.Tags {
		attrs["tag."+k] = v
	}
	return attrs
}
