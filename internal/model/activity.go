package model

import "time"

// ActivityStatus is a state of the action execution machine.
type ActivityStatus string

const (
	ActivityPending               ActivityStatus = "pending"
	ActivityInProgress            ActivityStatus = "in_progress"
	ActivityExecuted              ActivityStatus = "executed"
	ActivityExecutedInternal      ActivityStatus = "executed_internal"
	ActivityBlockedMissingHandler ActivityStatus = "blocked_missing_handler"
	ActivityFailed                ActivityStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s ActivityStatus) IsTerminal() bool {
	switch s {
	case ActivityExecuted, ActivityExecutedInternal, ActivityBlockedMissingHandler, ActivityFailed:
		return true
	default:
		return false
	}
}

// StampsCompletion reports whether reaching s sets completed_at. A missing
// handler is terminal but performed no work, so it does not.
func (s ActivityStatus) StampsCompletion() bool {
	switch s {
	case ActivityExecuted, ActivityExecutedInternal, ActivityFailed:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s ActivityStatus) Valid() bool {
	return s == ActivityPending || s == ActivityInProgress || s.IsTerminal()
}

// Loggable reports whether s may be recorded through the manual log.
// Success statuses are reachable only through a handler.
func (s ActivityStatus) Loggable() bool {
	return s == ActivityPending || s == ActivityFailed
}

// Priority ranks an activity for operators.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// Activity is the persisted record of one requested action.
type Activity struct {
	ID                int64          `json:"id"`
	AgentName         string         `json:"agent_name"`
	ActionType        string         `json:"action_type"`
	ActionDescription string         `json:"action_description"`
	Details           map[string]any `json:"details"`
	Metrics           map[string]any `json:"metrics"`
	Status            ActivityStatus `json:"status"`
	Priority          Priority       `json:"priority"`
	UserEmail         string         `json:"user_email,omitempty"`
	VisibleToClient   bool           `json:"visible_to_client"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	CompletedAt       *time.Time     `json:"completed_at"`
}

// CompanyID is the tenant the activity's memory is filed under.
func (a Activity) CompanyID() string {
	return NewIdentity(a.UserEmail, a.AgentName, "").CompanyID
}

// ActivityFilter narrows activity listings. Zero values mean "any".
type ActivityFilter struct {
	AgentName string
	Status    ActivityStatus
	UserEmail string
	Limit     int
}

// ActivityCompletion is the single terminal write of an execution.
type ActivityCompletion struct {
	Status      ActivityStatus
	Details     map[string]any
	Metrics     map[string]any
	CompletedAt *time.Time
}

// AgentActivitySummary aggregates activity counts for one agent.
type AgentActivitySummary struct {
	AgentName    string                 `json:"agent_name"`
	Total        int                    `json:"total"`
	ByStatus     map[ActivityStatus]int `json:"by_status"`
	LastActivity *time.Time             `json:"last_activity,omitempty"`
}

// Handler-level status values. Handlers may return any of these; the
// execution path normalizes them onto ActivityStatus.
const (
	HandlerStatusCompleted = "completed"
)

// HandlerResult is what a handler (or the missing-handler path) reports back.
type HandlerResult struct {
	Status          string         `json:"status"`
	DetailsUpdate   map[string]any `json:"details_update,omitempty"`
	MetricsUpdate   map[string]any `json:"metrics_update,omitempty"`
	ExecutedHandler *string        `json:"executed_handler"`
	Notes           string         `json:"notes,omitempty"`
}

// NormalizeHandlerStatus maps a handler status onto the activity machine.
// "completed" and unknown values become executed.
func NormalizeHandlerStatus(status string) ActivityStatus {
	switch ActivityStatus(status) {
	case ActivityExecuted, ActivityExecutedInternal, ActivityFailed, ActivityBlockedMissingHandler:
		return ActivityStatus(status)
	default:
		return ActivityExecuted
	}
}
