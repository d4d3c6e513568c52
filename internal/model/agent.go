package model

// ChatContext is what an agent receives for one conversational turn.
// Metadata carries caller-supplied extras that have no typed field.
type ChatContext struct {
	Identity    Identity        `json:"identity"`
	Message     string          `json:"user_message"`
	History     []Message       `json:"conversation_history"`
	Memory      Memory          `json:"-"`
	Recalled    []LongTermEntry `json:"recalled,omitempty"`
	RequestType string          `json:"type,omitempty"`
	TargetIP    string          `json:"target_ip,omitempty"`
	TargetUser  string          `json:"target_user,omitempty"`
	InterAgent  bool            `json:"inter_agent_communication,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// MetaString returns a string value from Metadata, or "".
func (c ChatContext) MetaString(key string) string {
	if c.Metadata == nil {
		return ""
	}
	s, _ := c.Metadata[key].(string)
	return s
}

// WorkspaceContext is what a handler-driven task sees of its surroundings.
type WorkspaceContext struct {
	Identity Identity       `json:"identity"`
	Activity Activity       `json:"activity"`
	Memory   Memory         `json:"-"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Decision status values. An empty status is an ordinary answer.
const (
	DecisionStatusBlocked = "blocked"
)

// Decision is the outcome of Agent.ProcessRequest.
type Decision struct {
	Success               bool           `json:"success"`
	Agent                 string         `json:"agent"`
	Content               string         `json:"content"`
	Confidence            float64        `json:"confidence"`
	HumanApprovalRequired bool           `json:"human_approval_required"`
	ApprovalReason        string         `json:"approval_reason,omitempty"`
	Status                string         `json:"status,omitempty"`
	Reason                string         `json:"reason,omitempty"`
	Reasoning             string         `json:"reasoning,omitempty"`
	RoutedBy              string         `json:"routed_by,omitempty"`
	SelectedAgent         string         `json:"selected_agent,omitempty"`
	Error                 string         `json:"error,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
}

// Blocked reports whether a safeguard short-circuited the decision.
func (d Decision) Blocked() bool {
	return d.Status == DecisionStatusBlocked
}

// ChatResult is the normalized outcome of a chat turn.
type ChatResult struct {
	Success      bool    `json:"success"`
	Agent        string  `json:"agent"`
	ThreadID     string  `json:"thread_id"`
	Message      string  `json:"message"`
	Confidence   float64 `json:"confidence"`
	HITLRequired bool    `json:"hitl_required"`
	Error        string  `json:"error,omitempty"`
}
