package api

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-autoops/internal/models"
)

// MetricRequest carries one sample for RecordMetric and DetectThreat.
type MetricRequest struct {
	Key       string            `json:"key"`
	Value     float64           `json:"value"`
	Timestamp string            `json:"timestamp,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// PredictRequest asks for a forecast of Key over Horizon (a Go duration string).
type PredictRequest struct {
	Key     string `json:"key"`
	Horizon string `json:"horizon,omitempty"`
}

// ThreatRequest addresses one threat, with an optional note for lifecycle calls.
type ThreatRequest struct {
	ThreatID string `json:"threatId"`
	Note     string `json:"note,omitempty"`
}

// ListThreatsRequest filters ListThreats. Empty fields match everything.
type ListThreatsRequest struct {
	Status      string `json:"status,omitempty"`
	Category    string `json:"category,omitempty"`
	MinSeverity string `json:"minSeverity,omitempty"`
}

// PlanRequest creates a response plan. Empty Actions use the category playbook.
type PlanRequest struct {
	ThreatID string          `json:"threatId"`
	Actions  []models.Action `json:"actions,omitempty"`
}

// CheckRequest addresses one health check.
type CheckRequest struct {
	CheckID string `json:"checkId"`
}

// PolicyRequest addresses one self-healing policy.
type PolicyRequest struct {
	PolicyID string `json:"policyId"`
}

// TaskRequest schedules a maintenance task. ScheduledAt is RFC3339; empty means now.
type TaskRequest struct {
	ID          string   `json:"id,omitempty"`
	Kind        string   `json:"kind,omitempty"`
	Target      string   `json:"target"`
	Description string   `json:"description,omitempty"`
	Priority    int      `json:"priority,omitempty"`
	Steps       []string `json:"steps,omitempty"`
	ScheduledAt string   `json:"scheduledAt,omitempty"`
}

// TaskIDRequest addresses one maintenance task.
type TaskIDRequest struct {
	TaskID string `json:"taskId"`
}

// Decode maps a structpb payload onto out through its JSON field names.
func Decode(in *structpb.Struct, out any) error {
	if in == nil {
		return fmt.Errorf("request is nil")
	}
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// Encode maps v onto a structpb payload through its JSON form. v must encode as an object.
func Encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("response is not an object: %w", err)
	}
	return structpb.NewStruct(fields)
}

// ToSample converts a metric request into a domain sample.
func ToSample(req MetricRequest) (models.MetricSample, error) {
	if req.Key == "" {
		return models.MetricSample{}, fmt.Errorf("key is required")
	}
	sample := models.MetricSample{Key: req.Key, Value: req.Value, Tags: req.Tags}
	if req.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			return models.MetricSample{}, fmt.Errorf("timestamp: %w", err)
		}
		sample.Timestamp = ts.UTC()
	}
	return sample, nil
}

// ToHorizon parses a forecast horizon. Empty means the configured default (zero).
func ToHorizon(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("horizon: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("horizon must not be negative")
	}
	return d, nil
}

// ToThreatFilter validates and converts a list filter.
func ToThreatFilter(req ListThreatsRequest) (models.ThreatFilter, error) {
	filter := models.ThreatFilter{
		Status:   models.ThreatStatus(req.Status),
		Category: models.Category(req.Category),
	}
	if req.MinSeverity != "" {
		severity, ok := models.ParseSeverity(req.MinSeverity)
		if !ok {
			return models.ThreatFilter{}, fmt.Errorf("unknown severity %q", req.MinSeverity)
		}
		filter.MinSeverity = severity
	}
	return filter, nil
}

// ToTask converts a schedule request into a maintenance task.
func ToTask(req TaskRequest) (models.MaintenanceTask, error) {
	task := models.MaintenanceTask{
		ID:          req.ID,
		Kind:        models.TaskKind(req.Kind),
		Target:      req.Target,
		Description: req.Description,
		Priority:    req.Priority,
		Steps:       append([]string(nil), req.Steps...),
	}
	switch task.Kind {
	case "", models.TaskPreventive, models.TaskPredictive, models.TaskCorrective:
	default:
		return models.MaintenanceTask{}, fmt.Errorf("unknown task kind %q", req.Kind)
	}
	if req.ScheduledAt != "" {
		at, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			return models.MaintenanceTask{}, fmt.Errorf("scheduledAt: %w", err)
		}
		task.ScheduledAt = at.UTC()
	}
	return task, nil
}
