package model

import (
	"fmt"
	"strings"
)

// Identity defaults.
const (
	DefaultCompanyID = "default"
	DefaultThreadID  = "main"
)

// Identity is the (company, agent, thread) tuple that scopes every memory
// record. It is the only lookup key for memory; nothing is shared across threads.
type Identity struct {
	CompanyID string `json:"company_id"`
	AgentID   string `json:"agent_id"`
	ThreadID  string `json:"thread_id"`
}

// NewIdentity builds a normalized identity: blank company becomes "default",
// the agent is uppercased and a blank thread becomes "main".
func NewIdentity(companyID, agentID, threadID string) Identity {
	companyID = strings.TrimSpace(companyID)
	if companyID == "" {
		companyID = DefaultCompanyID
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		threadID = DefaultThreadID
	}
	return Identity{
		CompanyID: companyID,
		AgentID:   strings.ToUpper(strings.TrimSpace(agentID)),
		ThreadID:  threadID,
	}
}

// TaskThreadID returns the synthetic thread used for a workspace task.
func TaskThreadID(activityID int64) string {
	return fmt.Sprintf("task_%d", activityID)
}

// NormalizeAgentName uppercases a persona name and turns "-" and "_" into
// spaces, so "zeus_core" and "Zeus-Core" both resolve to "ZEUS CORE".
func NormalizeAgentName(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	return strings.NewReplacer("-", " ", "_", " ").Replace(name)
}

func (id Identity) String() string {
	return id.CompanyID + "/" + id.AgentID + "/" + id.ThreadID
}
