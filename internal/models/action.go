package models

import (
	"maps"
	"time"
)

// ActionKind names a remediation or response step. The registry maps kinds to handlers.
type ActionKind string

const (
	ActionRestart          ActionKind = "restart"
	ActionScale            ActionKind = "scale"
	ActionRollback         ActionKind = "rollback"
	ActionReconfigure      ActionKind = "reconfigure"
	ActionCleanup          ActionKind = "cleanup"
	ActionCustom           ActionKind = "custom"
	ActionBlockSource      ActionKind = "block_source"
	ActionEnableFiltering  ActionKind = "enable_filtering"
	ActionRateLimit        ActionKind = "rate_limit"
	ActionThrottle         ActionKind = "throttle"
	ActionIsolate          ActionKind = "isolate"
	ActionEnableMonitoring ActionKind = "enable_monitoring"
	ActionLogDetails       ActionKind = "log_details"
	ActionNotifyTeam       ActionKind = "notify_team"
	ActionLog              ActionKind = "log"
	ActionNotify           ActionKind = "notify"
	ActionMaintenanceStep  ActionKind = "maintenance_step"
)

// Action is one declarative step of a policy, rule, plan or task.
type Action struct {
	Kind   ActionKind        `json:"kind" yaml:"kind" validate:"required"`
	Target string            `json:"target,omitempty" yaml:"target"`
	Params map[string]string `json:"params,omitempty" yaml:"params"`
}

// ActionStatus tracks a step through execution.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionRunning   ActionStatus = "running"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
)

// ActionOutcome records the execution of one Action.
type ActionOutcome struct {
	Action     Action       `json:"action"`
	Status     ActionStatus `json:"status"`
	Output     string       `json:"output,omitempty"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"startedAt,omitzero"`
	FinishedAt time.Time    `json:"finishedAt,omitzero"`
}

// PendingOutcomes wraps actions as not-yet-run outcomes.
func PendingOutcomes(actions []Action) []ActionOutcome {
	out := make([]ActionOutcome, len(actions))
	for i, action := range actions {
		out[i] = ActionOutcome{Action: cloneAction(action), Status: ActionPending}
	}
	return out
}

func cloneAction(a Action) Action {
	a.Params = maps.Clone(a.Params)
	return a
}

func cloneActions(actions []Action) []Action {
	if actions == nil {
		return nil
	}
	out := make([]Action, len(actions))
	for i, a := range actions {
		out[i] = cloneAction(a)
	}
	return out
}

// SelfHealingPolicy maps an escalated health check onto remediation actions.
type SelfHealingPolicy struct {
	ID          string        `json:"id" yaml:"id" validate:"required"`
	Name        string        `json:"name" yaml:"name"`
	Trigger     Predicate     `json:"trigger" yaml:"trigger" validate:"dive"`
	Actions     []Action      `json:"actions" yaml:"actions" validate:"required,min=1,dive"`
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	Priority    int           `json:"priority" yaml:"priority"`
	Cooldown    time.Duration `json:"cooldown" yaml:"cooldown" validate:"gte=0"`
	LastFiredAt time.Time     `json:"lastFiredAt,omitempty" yaml:"-"`
}

// Clone returns a deep copy.
func (p SelfHealingPolicy) Clone() SelfHealingPolicy {
	p.Trigger = append(Predicate(nil), p.Trigger...)
	p.Actions = cloneActions(p.Actions)
	return p
}

// ResponseRule is a reflex rule matched against every new threat.
type ResponseRule struct {
	ID          string        `json:"id" yaml:"id" validate:"required"`
	Name        string        `json:"name" yaml:"name"`
	Trigger     Predicate     `json:"trigger" yaml:"trigger" validate:"dive"`
	Actions     []Action      `json:"actions" yaml:"actions" validate:"required,min=1,dive"`
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	Cooldown    time.Duration `json:"cooldown" yaml:"cooldown" validate:"gte=0"`
	LastFiredAt time.Time     `json:"lastFiredAt,omitempty" yaml:"-"`
}

// Clone returns a deep copy.
func (r ResponseRule) Clone() ResponseRule {
	r.Trigger = append(Predicate(nil), r.Trigger...)
	r.Actions = cloneActions(r.Actions)
	return r
}
