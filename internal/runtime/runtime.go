// Package runtime is the single execution loop shared by chat and workspace
// tasks: load memory, decide or execute, persist, respond.
//
// Every successful chat turn writes the short-term buffer and one decision
// log entry before returning. Every workspace run writes the operational
// state and one decision log entry. A reply is never returned without its
// memory write; if the write fails the error is returned instead.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zeus-ia/zeus/internal/agent"
	"github.com/zeus-ia/zeus/internal/handlers"
	"github.com/zeus-ia/zeus/internal/model"
	"github.com/zeus-ia/zeus/internal/telemetry"
)

// ErrUnknownAgent is returned by RunChat for a name the registry does not know.
var ErrUnknownAgent = errors.New("runtime: unknown agent")

// NoReply is stored and returned when an agent answers with empty content.
const NoReply = "Sin respuesta"

// recallTopK is how many long-term entries a chat turn sees.
const recallTopK = 3

// Memory is the memory contract the runtime drives. memory.Service implements it.
type Memory interface {
	Load(ctx context.Context, id model.Identity) (model.Memory, error)
	PersistShortTerm(ctx context.Context, id model.Identity, messages []model.Message) error
	PersistOperationalState(ctx context.Context, id model.Identity, u model.StateUpdate) error
	AppendDecisionLog(ctx context.Context, id model.Identity, decisionType string, payload map[string]any) (model.DecisionEntry, error)
}

// Resolver maps (agent, action type) to a handler. handlers.Registry implements it.
type Resolver interface {
	Resolve(agentName, actionType string) handlers.Handler
}

// Recaller reads and writes long-term memory. recall.Service implements it.
type Recaller interface {
	Recall(ctx context.Context, id model.Identity, query string, limit int) ([]model.LongTermEntry, error)
	Remember(ctx context.Context, id model.Identity, kind, content string) (model.LongTermEntry, error)
}

// Approvals parks decisions that need a human. approval.Service implements it.
type Approvals interface {
	Enqueue(ctx context.Context, id model.Identity, summary, reason string) (model.ApprovalRequest, error)
}

// Deps are the runtime's collaborators. Recall and Approvals are optional.
type Deps struct {
	Agents    agent.Lookup
	Memory    Memory
	Handlers  Resolver
	Recall    Recaller
	Approvals Approvals
	Logger    *slog.Logger
}

// Runtime runs chat turns and workspace tasks.
type Runtime struct {
	agents    agent.Lookup
	memory    Memory
	handlers  Resolver
	recall    Recaller
	approvals Approvals
	logger    *slog.Logger

	chatTurns     metric.Int64Counter
	chatDuration  metric.Float64Histogram
	workspaceRuns metric.Int64Counter
	workspaceDur  metric.Float64Histogram
}

// New creates a runtime.
func New(d Deps) *Runtime {
	meter := telemetry.Meter("zeus/runtime")
	chatTurns, _ := meter.Int64Counter("zeus.chat.turns",
		metric.WithDescription("Chat turns by agent and outcome"),
	)
	chatDur, _ := meter.Float64Histogram("zeus.chat.duration",
		metric.WithDescription("Time to run one chat turn (ms)"),
		metric.WithUnit("ms"),
	)
	wsRuns, _ := meter.Int64Counter("zeus.workspace.runs",
		metric.WithDescription("Workspace task runs by agent and status"),
	)
	wsDur, _ := meter.Float64Histogram("zeus.workspace.duration",
		metric.WithDescription("Time to run one workspace task (ms)"),
		metric.WithUnit("ms"),
	)

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		agents:        d.Agents,
		memory:        d.Memory,
		handlers:      d.Handlers,
		recall:        d.Recall,
		approvals:     d.Approvals,
		logger:        logger,
		chatTurns:     chatTurns,
		chatDuration:  chatDur,
		workspaceRuns: wsRuns,
		workspaceDur:  wsDur,
	}
}

// ChatRequest is one conversational turn addressed to an agent.
type ChatRequest struct {
	Agent     string
	CompanyID string
	ThreadID  string
	Message   string
	Metadata  map[string]any
}

// RunChat loads the agent's memory, asks it for a decision and persists the
// turn. An agent failure is a failed result, logged as chat_error, with the
// buffer left untouched. A memory failure is returned as an error.
func (r *Runtime) RunChat(ctx context.Context, req ChatRequest) (model.ChatResult, error) {
	start := time.Now()
	name := model.NormalizeAgentName(req.Agent)
	a, ok := r.agents.Lookup(name)
	if !ok {
		return model.ChatResult{
			Success: false,
			Agent:   name,
			Error:   fmt.Sprintf("Agente '%s' no disponible", name),
		}, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	// Memory is filed under the canonical persona name, so "zeus" and
	// "ZEUS CORE" share one buffer.
	name = model.NormalizeAgentName(a.Name())
	id := model.NewIdentity(req.CompanyID, name, req.ThreadID)

	ctx, span := telemetry.Tracer("zeus/runtime").Start(ctx, "zeus.chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("zeus.agent", name),
		attribute.String("zeus.company_id", id.CompanyID),
		attribute.String("zeus.thread_id", id.ThreadID),
	)

	mem, err := r.memory.Load(ctx, id)
	if err != nil {
		return model.ChatResult{}, fmt.Errorf("runtime: chat: %w", err)
	}

	buf := append(slices.Clone(mem.ShortTerm), model.Message{Role: model.MessageRoleUser, Content: req.Message})
	cc := model.ChatContext{
		Identity:    id,
		Message:     req.Message,
		History:     buf,
		Memory:      mem,
		Recalled:    r.recalled(ctx, id, req.Message),
		RequestType: metaString(req.Metadata, "type"),
		TargetIP:    metaString(req.Metadata, "target_ip"),
		TargetUser:  metaString(req.Metadata, "target_user"),
		Metadata:    req.Metadata,
	}

	decision, err := process(ctx, a, cc)
	if err != nil {
		r.logger.Warn("runtime: agent failed", "agent", name, "identity", id.String(), "error", err)
		if _, logErr := r.memory.AppendDecisionLog(ctx, id, model.DecisionChatError, map[string]any{
			"error": err.Error(),
		}); logErr != nil {
			return model.ChatResult{}, fmt.Errorf("runtime: chat: %w", logErr)
		}
		r.recordChat(ctx, name, "error", start)
		return model.ChatResult{
			Success:  false,
			Agent:    name,
			ThreadID: id.ThreadID,
			Message:  "Error: " + err.Error(),
			Error:    err.Error(),
		}, nil
	}

	content := decision.Content
	if strings.TrimSpace(content) == "" {
		content = NoReply
	}
	buf = append(buf, model.Message{Role: model.MessageRoleAssistant, Content: content})
	if err := r.memory.PersistShortTerm(ctx, id, buf); err != nil {
		return model.ChatResult{}, fmt.Errorf("runtime: chat: %w", err)
	}

	payload := map[string]any{
		"user_message_len": utf8.RuneCountInString(req.Message),
		"response_len":     utf8.RuneCountInString(content),
	}
	if decision.Blocked() {
		payload["status"] = decision.Status
		payload["reason"] = decision.Reason
	}
	if _, err := r.memory.AppendDecisionLog(ctx, id, model.DecisionChatResponse, payload); err != nil {
		return model.ChatResult{}, fmt.Errorf("runtime: chat: %w", err)
	}

	if decision.HumanApprovalRequired && r.approvals != nil {
		reason := decision.ApprovalReason
		if reason == "" {
			reason = fmt.Sprintf("confidence %.2f", decision.Confidence)
		}
		if _, err := r.approvals.Enqueue(ctx, id, content, reason); err != nil {
			r.logger.Error("runtime: enqueue approval failed", "identity", id.String(), "error", err)
		}
	}

	outcome := "ok"
	if decision.Blocked() {
		outcome = "blocked"
	}
	r.recordChat(ctx, name, outcome, start)

	return model.ChatResult{
		Success:      decision.Success,
		Agent:        name,
		ThreadID:     id.ThreadID,
		Message:      content,
		Confidence:   decision.Confidence,
		HITLRequired: decision.HumanApprovalRequired,
		Error:        decision.Error,
	}, nil
}

// process calls the agent and turns a panic into an error.
func process(ctx context.Context, a agent.Agent, cc model.ChatContext) (d model.Decision, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("agent %s panicked: %v", a.Name(), p)
		}
	}()
	return a.ProcessRequest(ctx, cc)
}

func (r *Runtime) recalled(ctx context.Context, id model.Identity, query string) []model.LongTermEntry {
	if r.recall == nil {
		return nil
	}
	entries, err := r.recall.Recall(ctx, id, query, recallTopK)
	if err != nil {
		r.logger.Warn("runtime: recall failed", "identity", id.String(), "error", err)
		return nil
	}
	return entries
}

func (r *Runtime) recordChat(ctx context.Context, agentName, outcome string, start time.Time) {
	attrs := metric.WithAttributes(attribute.String("agent", agentName), attribute.String("outcome", outcome))
	r.chatTurns.Add(ctx, 1, attrs)
	r.chatDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
}

// RunWorkspaceTask executes a claimed activity through its handler and
// records the outcome in the agent's task memory. A missing handler yields
// blocked_missing_handler; a failing handler yields failed. Only memory
// failures are returned as errors.
func (r *Runtime) RunWorkspaceTask(ctx context.Context, a model.Activity) (model.HandlerResult, error) {
	start := time.Now()
	agentName := strings.ToUpper(strings.TrimSpace(a.AgentName))
	id := model.NewIdentity(a.UserEmail, agentName, model.TaskThreadID(a.ID))

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("zeus.agent", agentName),
		attribute.Int64("zeus.activity_id", a.ID),
		attribute.String("zeus.action_type", a.ActionType),
	)

	if _, err := r.memory.Load(ctx, id); err != nil {
		return model.HandlerResult{}, fmt.Errorf("runtime: workspace: %w", err)
	}

	var res model.HandlerResult
	h := r.handlers.Resolve(agentName, a.ActionType)
	if h == nil {
		res = model.HandlerResult{
			Status: string(model.ActivityBlockedMissingHandler),
			Notes:  fmt.Sprintf("No handler for (%s, %s). Execution blocked.", agentName, a.ActionType),
		}
	} else {
		res = execute(ctx, h, a)
		if res.ExecutedHandler == nil {
			name := h.Name()
			res.ExecutedHandler = &name
		}
	}
	if res.Status == "" {
		res.Status = model.HandlerStatusCompleted
	}

	status := res.Status
	if err := r.memory.PersistOperationalState(ctx, id, model.StateUpdate{
		CurrentTask: &a.ActionDescription,
		Status:      &status,
		Artifacts:   artifactsOf(res.DetailsUpdate),
	}); err != nil {
		return model.HandlerResult{}, fmt.Errorf("runtime: workspace: %w", err)
	}
	if _, err := r.memory.AppendDecisionLog(ctx, id, model.DecisionWorkspaceExecution, map[string]any{
		"activity_id": a.ID,
		"action_type": a.ActionType,
		"status":      status,
		"notes":       res.Notes,
	}); err != nil {
		return model.HandlerResult{}, fmt.Errorf("runtime: workspace: %w", err)
	}

	if r.recall != nil && h != nil {
		summary := fmt.Sprintf("[%s] %s: %s. %s", status, a.ActionType, a.ActionDescription, res.Notes)
		if _, err := r.recall.Remember(ctx, id, model.LongTermTaskSummary, summary); err != nil {
			r.logger.Warn("runtime: remember task summary failed", "activity_id", a.ID, "error", err)
		}
	}

	attrs := metric.WithAttributes(attribute.String("agent", agentName), attribute.String("status", status))
	r.workspaceRuns.Add(ctx, 1, attrs)
	r.workspaceDur.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	r.logger.Info("workspace task ran", "activity_id", a.ID, "agent", agentName, "action_type", a.ActionType, "status", status)
	return res, nil
}

// execute runs h and converts an error or panic into a failed result.
func execute(ctx context.Context, h handlers.Handler, a model.Activity) (res model.HandlerResult) {
	defer func() {
		if p := recover(); p != nil {
			res = model.HandlerResult{
				Status: string(model.ActivityFailed),
				Notes:  fmt.Sprintf("Handler %s panicked: %v", h.Name(), p),
			}
		}
	}()
	res, err := h.Execute(ctx, a)
	if err != nil {
		return model.HandlerResult{
			Status: string(model.ActivityFailed),
			Notes:  fmt.Sprintf("Handler %s failed: %v", h.Name(), err),
		}
	}
	return res
}

// artifactsOf picks the deliverables out of a handler's details update, or
// the whole update when there are none.
func artifactsOf(details map[string]any) map[string]any {
	if automation, ok := details["automation"].(map[string]any); ok {
		if d, ok := automation["deliverables"]; ok && d != nil {
			return asMap(d)
		}
	}
	if len(details) == 0 {
		return map[string]any{}
	}
	return details
}

func asMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out
	default:
		return map[string]any{"raw": fmt.Sprint(v)}
	}
}

func metaString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
