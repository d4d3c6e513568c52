package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/zeus-ia/zeus/internal/activity"
	"github.com/zeus-ia/zeus/internal/ctxutil"
	"github.com/zeus-ia/zeus/internal/model"
	"github.com/zeus-ia/zeus/internal/runtime"
)

const (
	defaultRecallLimit = 5
	maxRecallLimit     = 50
)

func (s *Server) registerTools() {
	// zeus_chat: one conversational turn with a persona.
	s.mcpServer.AddTool(
		mcplib.NewTool("zeus_chat",
			mcplib.WithDescription(`Send a message to a ZEUS agent and get its answer.

The agent sees the recent conversation of the same thread_id, its
operational state and relevant long-term memories. Answers with low
confidence or sensitive actions come back with hitl_required=true and
wait for a human approval before anything is executed.

EXAMPLE: agent="PERSEO", message="Prepara la campaña de lanzamiento"`),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("agent",
				mcplib.Description("Agent name: ZEUS CORE (or ZEUS), PERSEO, RAFAEL, THALOS, JUSTICIA, AFRODITA"),
				mcplib.Required(),
			),
			mcplib.WithString("message",
				mcplib.Description("What you want the agent to do or answer"),
				mcplib.Required(),
			),
			mcplib.WithString("thread_id",
				mcplib.Description("Conversation thread. Defaults to main."),
			),
		),
		s.handleChat,
	)

	// zeus_execute_action: queue or run an activity.
	s.mcpServer.AddTool(
		mcplib.NewTool("zeus_execute_action",
			mcplib.WithDescription(`Submit an action for an agent. Superuser only.

The action is stored as a pending activity. With sync=true it is executed
immediately by the matching workspace handler and the final status is
returned; otherwise the automation worker picks it up.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithString("agent", mcplib.Description("Agent that owns the action"), mcplib.Required()),
			mcplib.WithString("action_type",
				mcplib.Description("Action to perform, e.g. task_assigned, security_scan, backup_data"),
				mcplib.Required(),
			),
			mcplib.WithString("description", mcplib.Description("Human readable description of the action")),
			mcplib.WithBoolean("sync", mcplib.Description("Execute before returning"), mcplib.DefaultBool(false)),
		),
		s.handleExecuteAction,
	)

	// zeus_memory: short-term buffer, state and decision log of one thread.
	s.mcpServer.AddTool(
		mcplib.NewTool("zeus_memory",
			mcplib.WithDescription("Read what an agent remembers about a conversation thread: recent messages, operational state and decision log."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("agent", mcplib.Description("Agent name"), mcplib.Required()),
			mcplib.WithString("thread_id", mcplib.Description("Conversation thread. Defaults to main.")),
		),
		s.handleMemory,
	)

	// zeus_recall: long-term memory search.
	s.mcpServer.AddTool(
		mcplib.NewTool("zeus_recall",
			mcplib.WithDescription("Search an agent's long-term memory for entries related to a query."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("agent", mcplib.Description("Agent name"), mcplib.Required()),
			mcplib.WithString("query", mcplib.Description("Natural language query"), mcplib.Required()),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum entries to return"),
				mcplib.Min(1),
				mcplib.Max(maxRecallLimit),
				mcplib.DefaultNumber(defaultRecallLimit),
			),
		),
		s.handleRecall,
	)
}

func (s *Server) handleChat(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agentName := request.GetString("agent", "")
	message := request.GetString("message", "")
	if strings.TrimSpace(agentName) == "" || strings.TrimSpace(message) == "" {
		return errorResult("agent and message are required"), nil
	}
	chat := model.ChatRequest{Message: message, ThreadID: request.GetString("thread_id", "")}
	if err := chat.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}

	result, err := s.runtime.RunChat(ctx, runtime.ChatRequest{
		Agent:     agentName,
		CompanyID: companyID(ctx),
		ThreadID:  chat.ThreadID,
		Message:   chat.Message,
		Metadata:  map[string]any{"source": "mcp"},
	})
	switch {
	case errors.Is(err, runtime.ErrUnknownAgent):
		return errorResult(result.Error), nil
	case err != nil:
		s.logger.Error("mcp: chat failed", "agent", agentName, "error", err)
		return errorResult(fmt.Sprintf("chat failed: %v", err)), nil
	}
	return jsonResult(result), nil
}

func (s *Server) handleExecuteAction(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	claims := ctxutil.ClaimsFromContext(ctx)
	if claims == nil || claims.Role != model.RoleSuperuser {
		return errorResult("zeus_execute_action requires the superuser role"), nil
	}

	req := model.ExecuteActionRequest{
		Agent:      request.GetString("agent", ""),
		ActionType: request.GetString("action_type", ""),
		Sync:       request.GetBool("sync", false),
	}
	if desc := request.GetString("description", ""); desc != "" {
		req.Payload = map[string]any{"description": desc}
	}
	if err := req.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}

	resp, err := s.activities.Submit(ctx, activity.SubmitRequest{
		Agent:      req.Agent,
		ActionType: req.ActionType,
		Payload:    req.Payload,
		Sync:       req.Sync,
		UserEmail:  companyID(ctx),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("failed to execute action: %v", err)), nil
	}
	return jsonResult(resp), nil
}

func (s *Server) handleMemory(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name, ok := s.canonicalAgent(request.GetString("agent", ""))
	if !ok {
		return errorResult(fmt.Sprintf("Agente '%s' no disponible", name)), nil
	}
	id := model.NewIdentity(companyID(ctx), name, request.GetString("thread_id", ""))

	mem, err := s.memory.Load(ctx, id)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to load memory: %v", err)), nil
	}
	return jsonResult(model.MemorySnapshot{Identity: id, Memory: mem}), nil
}

func (s *Server) handleRecall(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.recall == nil {
		return errorResult("long-term memory is not configured"), nil
	}
	name, ok := s.canonicalAgent(request.GetString("agent", ""))
	if !ok {
		return errorResult(fmt.Sprintf("Agente '%s' no disponible", name)), nil
	}
	query := request.GetString("query", "")
	if strings.TrimSpace(query) == "" {
		return errorResult("query is required"), nil
	}
	limit := request.GetInt("limit", defaultRecallLimit)
	if limit < 1 {
		limit = defaultRecallLimit
	}
	limit = min(limit, maxRecallLimit)

	entries, err := s.recall.Recall(ctx, model.NewIdentity(companyID(ctx), name, ""), query, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("recall failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"entries": entries,
		"total":   len(entries),
	}), nil
}
