package model

import "time"

// ShortTermTTL is the sliding lifetime of a short-term buffer. Every write
// resets expires_at to now + ShortTermTTL.
const ShortTermTTL = 6 * time.Hour

// DecisionLogWindow is how many decision-log entries a memory load returns.
const DecisionLogWindow = 20

// MessageRole identifies the speaker of a buffered message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message is one turn of a conversation buffer.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// ShortTermBuffer is the TTL-bounded conversation history of one identity.
type ShortTermBuffer struct {
	Identity
	Messages  []Message `json:"messages"`
	ExpiresAt time.Time `json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the buffer must be treated as absent at now.
func (b ShortTermBuffer) Expired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

// Operational status values written by the runtime. Other values are allowed.
const (
	OperationalIdle       = "idle"
	OperationalInProgress = "in_progress"
	OperationalBlocked    = "blocked"
	OperationalCompleted  = "completed"
)

// OperationalState is the single current snapshot for one identity.
type OperationalState struct {
	CurrentTask string         `json:"current_task,omitempty"`
	Status      string         `json:"status,omitempty"`
	NextAction  string         `json:"next_action,omitempty"`
	Artifacts   map[string]any `json:"artifacts,omitempty"`
	Blocked     map[string]any `json:"blocked,omitempty"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
}

// StateUpdate is a partial operational-state write. Nil fields leave the
// stored value untouched.
type StateUpdate struct {
	CurrentTask *string
	Status      *string
	NextAction  *string
	Artifacts   map[string]any
	Blocked     map[string]any
}

// Apply returns s with every non-nil field of u written over it.
func (u StateUpdate) Apply(s OperationalState) OperationalState {
	if u.CurrentTask != nil {
		s.CurrentTask = *u.CurrentTask
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.NextAction != nil {
		s.NextAction = *u.NextAction
	}
	if u.Artifacts != nil {
		s.Artifacts = u.Artifacts
	}
	if u.Blocked != nil {
		s.Blocked = u.Blocked
	}
	return s
}

// Decision log entry types.
const (
	DecisionChatResponse       = "chat_response"
	DecisionChatError          = "chat_error"
	DecisionWorkspaceExecution = "workspace_execution"
)

// DecisionEntry is one immutable row of the append-only decision log.
type DecisionEntry struct {
	ID           int64          `json:"id"`
	DecisionType string         `json:"decision_type"`
	Payload      map[string]any `json:"payload"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Memory is everything loaded for one identity before an agent acts.
type Memory struct {
	ShortTerm   []Message        `json:"short_term"`
	Operational OperationalState `json:"operational"`
	Decisions   []DecisionEntry  `json:"decisions"`
}

// LongTermEntry is a recallable piece of past work.
type LongTermEntry struct {
	ID        string    `json:"id"`
	Identity  Identity  `json:"identity"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	Score     float64   `json:"score,omitempty"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Long-term entry kinds.
const (
	LongTermTaskSummary = "task_summary"
)
