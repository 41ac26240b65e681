package models

import (
	"slices"
	"time"
)

// TaskKind distinguishes why a maintenance task exists.
type TaskKind string

const (
	TaskPreventive TaskKind = "preventive"
	TaskPredictive TaskKind = "predictive"
	TaskCorrective TaskKind = "corrective"
)

// TaskStatus is the lifecycle state of a maintenance task.
type TaskStatus string

const (
	TaskScheduled  TaskStatus = "scheduled"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskScheduled:  {TaskInProgress, TaskCancelled},
	TaskInProgress: {TaskCompleted, TaskCancelled},
}

// CanTransition reports whether a task in s may move to next.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	return slices.Contains(taskTransitions[s], next)
}

// Urgency ranks how soon a forecast needs attention.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// MaintenanceTask is a scheduled unit of maintenance work.
type MaintenanceTask struct {
	ID          string          `json:"id"`
	Kind        TaskKind        `json:"kind"`
	Status      TaskStatus      `json:"status"`
	Target      string          `json:"target"`
	Description string          `json:"description,omitempty"`
	Urgency     Urgency         `json:"urgency,omitempty"`
	Priority    int             `json:"priority"`
	Steps       []string        `json:"steps"`
	Outcomes    []ActionOutcome `json:"outcomes,omitempty"`
	ScheduledAt time.Time       `json:"scheduledAt"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   time.Time       `json:"startedAt,omitzero"`
	FinishedAt  time.Time       `json:"finishedAt,omitzero"`
	Note        string          `json:"note,omitempty"`
}

// Clone returns a deep copy.
func (t MaintenanceTask) Clone() MaintenanceTask {
	t.Steps = slices.Clone(t.Steps)
	t.Outcomes = slices.Clone(t.Outcomes)
	return t
}

// Open reports whether the task has not reached a terminal state.
func (t MaintenanceTask) Open() bool {
	return t.Status == TaskScheduled || t.Status == TaskInProgress
}

// Trend is the direction of a forecast relative to the current value.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// ForecastModel is one estimator's contribution to a forecast.
type ForecastModel struct {
	Name       string  `json:"name"`
	Predicted  float64 `json:"predicted"`
	Confidence float64 `json:"confidence"`
}

// Forecast is the predictive maintenance view of one metric key.
type Forecast struct {
	Key                string          `json:"key"`
	Current            float64         `json:"current"`
	Predicted          float64         `json:"predicted"`
	Horizon            time.Duration   `json:"horizon"`
	Confidence         float64         `json:"confidence"`
	AnomalyProbability float64         `json:"anomalyProbability"`
	ChangePercent      float64         `json:"changePercent"`
	Trend              Trend           `json:"trend"`
	Urgency            Urgency         `json:"urgency"`
	Recommendation     string          `json:"recommendation"`
	Models             []ForecastModel `json:"models"`
	GeneratedAt        time.Time       `json:"generatedAt"`
}
