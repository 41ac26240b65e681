package events

import (
	"time"

	"github.com/miradorstack/mirador-autoops/internal/models"
)

// Type names an event on the bus. It doubles as the NATS subject suffix.
type Type string

const (
	TypeHealthCheckDegraded        Type = "health_check_degraded"
	TypeHealthCheckFailed          Type = "health_check_failed"
	TypeProbeError                 Type = "probe_error"
	TypeSelfHealingStarted         Type = "self_healing_started"
	TypeSelfHealingCompleted       Type = "self_healing_completed"
	TypeThreatDetected             Type = "threat_detected"
	TypeCriticalThreat             Type = "critical_threat"
	TypeThreatResolved             Type = "threat_resolved"
	TypePredictiveAlert            Type = "predictive_alert"
	TypeMaintenanceTaskScheduled   Type = "maintenance_task_scheduled"
	TypeMaintenanceTaskCompleted   Type = "maintenance_task_completed"
	TypeAutomatedResponseTriggered Type = "automated_response_triggered"
	TypeResponsePlanCompleted      Type = "response_plan_completed"
	TypeNotification               Type = "notification"
)

// Event is implemented by every payload published on the bus.
type Event interface {
	Type() Type
	// Subject is the id of the entity the event is about.
	Subject() string
	OccurredAt() time.Time
}

// HealthCheckDegraded is emitted when a check moves into degraded.
type HealthCheckDegraded struct {
	Check models.HealthCheck `json:"check"`
	At    time.Time          `json:"at"`
}

func (e HealthCheckDegraded) Type() Type            { return TypeHealthCheckDegraded }
func (e HealthCheckDegraded) Subject() string       { return e.Check.ID }
func (e HealthCheckDegraded) OccurredAt() time.Time { return e.At }

// HealthCheckFailed is emitted each time a check escalates to unhealthy.
type HealthCheckFailed struct {
	Check models.HealthCheck `json:"check"`
	At    time.Time          `json:"at"`
}

func (e HealthCheckFailed) Type() Type            { return TypeHealthCheckFailed }
func (e HealthCheckFailed) Subject() string       { return e.Check.ID }
func (e HealthCheckFailed) OccurredAt() time.Time { return e.At }

// ProbeError reports a probe that failed to produce a result.
type ProbeError struct {
	CheckID string    `json:"checkId"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

func (e ProbeError) Type() Type            { return TypeProbeError }
func (e ProbeError) Subject() string       { return e.CheckID }
func (e ProbeError) OccurredAt() time.Time { return e.At }

// SelfHealingStarted is emitted before a policy's actions run.
type SelfHealingStarted struct {
	PolicyID string             `json:"policyId"`
	Check    models.HealthCheck `json:"check"`
	At       time.Time          `json:"at"`
}

func (e SelfHealingStarted) Type() Type            { return TypeSelfHealingStarted }
func (e SelfHealingStarted) Subject() string       { return e.PolicyID }
func (e SelfHealingStarted) OccurredAt() time.Time { return e.At }

// SelfHealingCompleted carries the per-action outcomes of a policy firing.
type SelfHealingCompleted struct {
	PolicyID string                 `json:"policyId"`
	Check    models.HealthCheck     `json:"check"`
	Outcomes []models.ActionOutcome `json:"outcomes"`
	At       time.Time              `json:"at"`
}

func (e SelfHealingCompleted) Type() Type            { return TypeSelfHealingCompleted }
func (e SelfHealingCompleted) Subject() string       { return e.PolicyID }
func (e SelfHealingCompleted) OccurredAt() time.Time { return e.At }

// ThreatDetected is emitted for every new threat.
type ThreatDetected struct {
	Threat models.Threat `json:"threat"`
	At     time.Time     `json:"at"`
}

func (e ThreatDetected) Type() Type            { return TypeThreatDetected }
func (e ThreatDetected) Subject() string       { return e.Threat.ID }
func (e ThreatDetected) OccurredAt() time.Time { return e.At }

// CriticalThreat is emitted in addition to ThreatDetected for critical threats.
type CriticalThreat struct {
	Threat models.Threat `json:"threat"`
	At     time.Time     `json:"at"`
}

func (e CriticalThreat) Type() Type            { return TypeCriticalThreat }
func (e CriticalThreat) Subject() string       { return e.Threat.ID }
func (e CriticalThreat) OccurredAt() time.Time { return e.At }

// ThreatResolved is emitted when a threat is resolved.
type ThreatResolved struct {
	Threat models.Threat `json:"threat"`
	At     time.Time     `json:"at"`
}

func (e ThreatResolved) Type() Type            { return TypeThreatResolved }
func (e ThreatResolved) Subject() string       { return e.Threat.ID }
func (e ThreatResolved) OccurredAt() time.Time { return e.At }

// PredictiveAlert carries a forecast whose urgency is above low.
type PredictiveAlert struct {
	Forecast models.Forecast `json:"forecast"`
	At       time.Time       `json:"at"`
}

func (e PredictiveAlert) Type() Type            { return TypePredictiveAlert }
func (e PredictiveAlert) Subject() string       { return e.Forecast.Key }
func (e PredictiveAlert) OccurredAt() time.Time { return e.At }

// MaintenanceTaskScheduled is emitted when a task enters the schedule.
type MaintenanceTaskScheduled struct {
	Task models.MaintenanceTask `json:"task"`
	At   time.Time              `json:"at"`
}

func (e MaintenanceTaskScheduled) Type() Type            { return TypeMaintenanceTaskScheduled }
func (e MaintenanceTaskScheduled) Subject() string       { return e.Task.ID }
func (e MaintenanceTaskScheduled) OccurredAt() time.Time { return e.At }

// MaintenanceTaskCompleted is emitted when a task reaches a terminal state after running.
type MaintenanceTaskCompleted struct {
	Task models.MaintenanceTask `json:"task"`
	At   time.Time              `json:"at"`
}

func (e MaintenanceTaskCompleted) Type() Type            { return TypeMaintenanceTaskCompleted }
func (e MaintenanceTaskCompleted) Subject() string       { return e.Task.ID }
func (e MaintenanceTaskCompleted) OccurredAt() time.Time { return e.At }

// AutomatedResponseTriggered is emitted when a reflex rule fires for a threat.
type AutomatedResponseTriggered struct {
	RuleID   string                 `json:"ruleId"`
	ThreatID string                 `json:"threatId"`
	Outcomes []models.ActionOutcome `json:"outcomes"`
	At       time.Time              `json:"at"`
}

func (e AutomatedResponseTriggered) Type() Type            { return TypeAutomatedResponseTriggered }
func (e AutomatedResponseTriggered) Subject() string       { return e.ThreatID }
func (e AutomatedResponseTriggered) OccurredAt() time.Time { return e.At }

// ResponsePlanCompleted is emitted once a plan has run every action.
type ResponsePlanCompleted struct {
	Plan models.ResponsePlan `json:"plan"`
	At   time.Time           `json:"at"`
}

func (e ResponsePlanCompleted) Type() Type            { return TypeResponsePlanCompleted }
func (e ResponsePlanCompleted) Subject() string       { return e.Plan.ThreatID }
func (e ResponsePlanCompleted) OccurredAt() time.Time { return e.At }

// Notification is emitted by notify actions for downstream paging or chat integrations.
type Notification struct {
	Action  models.Action     `json:"action"`
	Context models.Attributes `json:"context"`
	At      time.Time         `json:"at"`
}

func (e Notification) Type() Type            { return TypeNotification }
func (e Notification) Subject() string       { return e.Action.Target }
func (e Notification) OccurredAt() time.Time { return e.At }
