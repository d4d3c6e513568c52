package zeus

import "time"

// Role is an API principal's RBAC role.
type Role string

const (
	RoleSuperuser Role = "superuser"
	RoleAdmin     Role = "admin"
	RoleOperator  Role = "operator"
	RoleReader    Role = "reader"
)

// ActivityEvent is the public view of an activity status change.
// It carries no internal package types so hooks can live outside the module.
type ActivityEvent struct {
	ActivityID int64
	Agent      string
	ActionType string
	// Status is the activity status, e.g. "pending" or "executed".
	Status    string
	CompanyID string
	At        time.Time
}

// ChatReply is the outcome of one chat turn run through App.Chat.
type ChatReply struct {
	Success      bool
	Agent        string
	ThreadID     string
	Message      string
	Confidence   float64
	HITLRequired bool
	Error        string
}
