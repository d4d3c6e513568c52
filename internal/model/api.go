package model

import (
	"fmt"
	"strings"
	"time"
)

// Field length limits for request bodies.
const (
	MaxChatMessageLen = 32 * 1024 // 32 KB
	MaxActionTypeLen  = 100
	MaxThreadIDLen    = 200
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	Email  string `json:"email"`
	APIKey string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ChatRequest is the request body for POST /v1/agents/{agent}/chat.
type ChatRequest struct {
	Message  string         `json:"message"`
	ThreadID string         `json:"thread_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Validate checks required fields and length limits.
func (r ChatRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("message is required")
	}
	if len(r.Message) > MaxChatMessageLen {
		return fmt.Errorf("message exceeds maximum length of %d bytes", MaxChatMessageLen)
	}
	if len(r.ThreadID) > MaxThreadIDLen {
		return fmt.Errorf("thread_id exceeds maximum length of %d characters", MaxThreadIDLen)
	}
	return nil
}

// ExecuteActionRequest is the request body for POST /v1/actions/execute.
type ExecuteActionRequest struct {
	Agent      string         `json:"agent"`
	ActionType string         `json:"action_type"`
	Payload    map[string]any `json:"payload,omitempty"`
	Sync       bool           `json:"sync"`
	Priority   Priority       `json:"priority,omitempty"`
}

// Validate checks required fields.
func (r ExecuteActionRequest) Validate() error {
	if strings.TrimSpace(r.Agent) == "" {
		return fmt.Errorf("agent is required")
	}
	if strings.TrimSpace(r.ActionType) == "" {
		return fmt.Errorf("action_type is required")
	}
	if len(r.ActionType) > MaxActionTypeLen {
		return fmt.Errorf("action_type exceeds maximum length of %d characters", MaxActionTypeLen)
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", r.Priority)
	}
	return nil
}

// ExecuteActionResponse is the response for POST /v1/actions/execute.
type ExecuteActionResponse struct {
	ActivityID      int64          `json:"activity_id"`
	Status          ActivityStatus `json:"status"`
	ExecutedHandler *string        `json:"executed_handler"`
}

// LogActivityRequest is the request body for POST /v1/activities/log.
type LogActivityRequest struct {
	AgentName         string         `json:"agent_name"`
	ActionType        string         `json:"action_type"`
	ActionDescription string         `json:"action_description"`
	Details           map[string]any `json:"details,omitempty"`
	Metrics           map[string]any `json:"metrics,omitempty"`
	Status            ActivityStatus `json:"status,omitempty"`
	Priority          Priority       `json:"priority,omitempty"`
	VisibleToClient   bool           `json:"visible_to_client"`
}

// Validate checks required fields and enum values.
func (r LogActivityRequest) Validate() error {
	if strings.TrimSpace(r.AgentName) == "" || strings.TrimSpace(r.ActionType) == "" {
		return fmt.Errorf("agent_name and action_type are required")
	}
	if r.Status != "" && !r.Status.Valid() {
		return fmt.Errorf("invalid status %q", r.Status)
	}
	if r.Status != "" && !r.Status.Loggable() {
		return fmt.Errorf("status %q cannot be logged, use pending or failed", r.Status)
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", r.Priority)
	}
	return nil
}

// RecallRequest is the request body for POST /v1/memory/{agent}/recall.
type RecallRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// MemorySnapshot is the response for GET /v1/memory/{agent}/{thread}.
type MemorySnapshot struct {
	Identity Identity `json:"identity"`
	Memory
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Qdrant   string `json:"qdrant,omitempty"`
	LLM      string `json:"llm,omitempty"`
	Uptime   int64  `json:"uptime_seconds"`
}
