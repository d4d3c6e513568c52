// Package mcp implements the Model Context Protocol server for ZEUS.
//
// The MCP server exposes the agent runtime through MCP tools and resources,
// so MCP-compatible clients can chat with the personas, submit actions and
// read agent memory with the same auth and company scoping as the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/zeus-ia/zeus/internal/activity"
	"github.com/zeus-ia/zeus/internal/agent"
	"github.com/zeus-ia/zeus/internal/ctxutil"
	"github.com/zeus-ia/zeus/internal/model"
	"github.com/zeus-ia/zeus/internal/runtime"
)

// Chatter runs one chat turn. runtime.Runtime implements it.
type Chatter interface {
	RunChat(ctx context.Context, req runtime.ChatRequest) (model.ChatResult, error)
}

// Activities submits and lists activities. activity.Service implements it.
type Activities interface {
	Submit(ctx context.Context, req activity.SubmitRequest) (model.ExecuteActionResponse, error)
	List(ctx context.Context, f model.ActivityFilter) ([]model.Activity, error)
}

// MemoryReader loads an identity's memory. memory.Service implements it.
type MemoryReader interface {
	Load(ctx context.Context, id model.Identity) (model.Memory, error)
}

// Recaller searches long-term memory. recall.Service implements it.
type Recaller interface {
	Recall(ctx context.Context, id model.Identity, query string, limit int) ([]model.LongTermEntry, error)
}

// Agents resolves and lists personas. agent.Registry implements it.
type Agents interface {
	Lookup(name string) (agent.Agent, bool)
	Names() []string
}

// Deps are the services the MCP tools call. Recall is optional.
type Deps struct {
	Runtime    Chatter
	Activities Activities
	Memory     MemoryReader
	Recall     Recaller
	Agents     Agents
	Logger     *slog.Logger
}

// Server wraps the MCP server with the ZEUS service layer.
type Server struct {
	mcpServer  *mcpserver.MCPServer
	runtime    Chatter
	activities Activities
	memory     MemoryReader
	recall     Recaller
	agents     Agents
	logger     *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(d Deps, version string) *Server {
	s := &Server{
		runtime:    d.Runtime,
		activities: d.Activities,
		memory:     d.Memory,
		recall:     d.Recall,
		agents:     d.Agents,
		logger:     d.Logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"zeus",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

const serverInstructions = `ZEUS runs a team of business agents: ZEUS CORE (orchestrator), PERSEO (marketing),
RAFAEL (finance), THALOS (security), JUSTICIA (legal) and AFRODITA (people).

Use zeus_chat to talk to an agent. Conversations are remembered per thread_id.
Use zeus_memory to inspect what an agent remembers and zeus_recall to search
its long-term memory. zeus_execute_action queues work for an agent and is
reserved to superusers.`

// companyID returns the normalized company the caller acts on.
func companyID(ctx context.Context) string {
	return model.NewIdentity(ctxutil.CompanyIDFromContext(ctx), "", "").CompanyID
}

// canonicalAgent resolves name to the persona name memory is filed under.
func (s *Server) canonicalAgent(name string) (string, bool) {
	a, ok := s.agents.Lookup(name)
	if !ok {
		return model.NormalizeAgentName(name), false
	}
	return model.NormalizeAgentName(a.Name()), true
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("failed to encode result: " + err.Error())
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
