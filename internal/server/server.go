package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/zeus-ia/zeus/internal/activity"
	"github.com/zeus-ia/zeus/internal/agent"
	"github.com/zeus-ia/zeus/internal/auth"
	"github.com/zeus-ia/zeus/internal/model"
	"github.com/zeus-ia/zeus/internal/ratelimit"
	"github.com/zeus-ia/zeus/internal/runtime"
	"github.com/zeus-ia/zeus/internal/storage"
)

// Store is the persistence the HTTP layer talks to directly. storage.DB
// implements it.
type Store interface {
	Ping(ctx context.Context) error
	GetPrincipal(ctx context.Context, email string) (model.Principal, error)
	UpsertPrincipal(ctx context.Context, p model.Principal) error
	BeginIdempotency(ctx context.Context, s storage.IdempotencyScope, requestHash string) (storage.IdempotencyLookup, error)
	CompleteIdempotency(ctx context.Context, s storage.IdempotencyScope, statusCode int, responseData any) error
	ClearInProgressIdempotency(ctx context.Context, s storage.IdempotencyScope) error
	InsertMutationAudit(ctx context.Context, e storage.MutationAuditEntry) error
}

// Chatter runs one chat turn. runtime.Runtime implements it.
type Chatter interface {
	RunChat(ctx context.Context, req runtime.ChatRequest) (model.ChatResult, error)
}

// Activities is the activity service surface. activity.Service implements it.
type Activities interface {
	Submit(ctx context.Context, req activity.SubmitRequest) (model.ExecuteActionResponse, error)
	Execute(ctx context.Context, id int64) (model.ExecuteActionResponse, error)
	Log(ctx context.Context, req activity.LogRequest) (model.Activity, error)
	Get(ctx context.Context, id int64) (model.Activity, error)
	List(ctx context.Context, f model.ActivityFilter) ([]model.Activity, error)
	Summary(ctx context.Context, agent, userEmail string) ([]model.AgentActivitySummary, error)
}

// MemoryReader loads an identity's memory. memory.Service implements it.
type MemoryReader interface {
	Load(ctx context.Context, id model.Identity) (model.Memory, error)
}

// Recaller searches long-term memory. recall.Service implements it.
type Recaller interface {
	Recall(ctx context.Context, id model.Identity, query string, limit int) ([]model.LongTermEntry, error)
}

// Approvals lists and decides HITL requests. approval.Service implements it.
type Approvals interface {
	ListPending(ctx context.Context, companyID string, limit int) ([]model.ApprovalRequest, error)
	Decide(ctx context.Context, companyID string, id uuid.UUID, approve bool, decidedBy string) (model.ApprovalRequest, error)
}

// AgentDirectory resolves and lists the registered agents. agent.Registry
// implements it.
type AgentDirectory interface {
	Lookup(name string) (agent.Agent, bool)
	Names() []string
}

// HealthChecker reports whether an optional backend is reachable.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// Server is the ZEUS HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Recall, Approvals, Limiter, Broker, Qdrant,
// MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Store      Store
	JWTMgr     *auth.JWTManager
	Runtime    Chatter
	Activities Activities
	Memory     MemoryReader
	Agents     AgentDirectory
	Logger     *slog.Logger

	// Optional dependencies (nil = disabled).
	Recall    Recaller
	Approvals Approvals
	Limiter   ratelimit.Limiter
	Broker    *Broker
	Qdrant    HealthChecker
	MCPServer *mcpserver.MCPServer

	// Middlewares wrap the whole handler, first entry outermost.
	Middlewares []func(http.Handler) http.Handler

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	LLMProvider         string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Store:               cfg.Store,
		JWTMgr:              cfg.JWTMgr,
		Runtime:             cfg.Runtime,
		Activities:          cfg.Activities,
		Memory:              cfg.Memory,
		Recall:              cfg.Recall,
		Approvals:           cfg.Approvals,
		Agents:              cfg.Agents,
		Broker:              cfg.Broker,
		Qdrant:              cfg.Qdrant,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		LLMProvider:         cfg.LLMProvider,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	apiRL := ratelimit.Middleware(cfg.Limiter, principalKeyFunc, reqIDFunc, cfg.Logger)
	authRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc, cfg.Logger)

	mux := http.NewServeMux()

	// Auth endpoint (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	readRole := requireRole(model.RoleReader)
	operatorRole := requireRole(model.RoleOperator)
	adminRole := requireRole(model.RoleAdmin)
	superRole := requireRole(model.RoleSuperuser)

	// Agents.
	mux.Handle("GET /v1/agents", apiRL(readRole(http.HandlerFunc(h.HandleListAgents))))
	mux.Handle("POST /v1/agents/{agent}/chat", apiRL(operatorRole(http.HandlerFunc(h.HandleChat))))

	// Activities. Execution is reserved to superusers.
	mux.Handle("POST /v1/actions/execute", apiRL(superRole(http.HandlerFunc(h.HandleExecuteAction))))
	mux.Handle("POST /v1/activities/{id}/execute", apiRL(superRole(http.HandlerFunc(h.HandleExecuteActivity))))
	mux.Handle("POST /v1/activities/log", apiRL(operatorRole(http.HandlerFunc(h.HandleLogActivity))))
	mux.Handle("GET /v1/activities", apiRL(readRole(http.HandlerFunc(h.HandleListActivities))))
	mux.Handle("GET /v1/activities/summary", apiRL(readRole(http.HandlerFunc(h.HandleActivitySummary))))
	mux.Handle("GET /v1/activities/{id}", apiRL(readRole(http.HandlerFunc(h.HandleGetActivity))))

	// Activity stream (reader+, no rate limit: long-lived connection).
	mux.Handle("GET /v1/activities/stream", readRole(http.HandlerFunc(h.HandleActivityStream)))

	// Memory.
	mux.Handle("GET /v1/memory/{agent}/{thread}", apiRL(operatorRole(http.HandlerFunc(h.HandleMemorySnapshot))))
	mux.Handle("POST /v1/memory/{agent}/recall", apiRL(operatorRole(http.HandlerFunc(h.HandleRecall))))

	// Human-in-the-loop approvals (admin+).
	mux.Handle("GET /v1/approvals", adminRole(http.HandlerFunc(h.HandleListApprovals)))
	mux.Handle("POST /v1/approvals/{id}/approve", adminRole(http.HandlerFunc(h.HandleApprove)))
	mux.Handle("POST /v1/approvals/{id}/reject", adminRole(http.HandlerFunc(h.HandleReject)))

	// MCP StreamableHTTP transport (auth required, operator+).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", operatorRole(mcpHTTP))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// principalKeyFunc keys the API rate limit by company and caller. Admins
// and superusers are exempt.
func principalKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		return ""
	}
	return "company:" + claims.CompanyID + ":principal:" + claims.Email
}

// Handlers returns the underlying Handlers for access to SeedAdmin etc.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
