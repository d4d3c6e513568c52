package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeus-ia/zeus/internal/activity"
	"github.com/zeus-ia/zeus/internal/agent"
	"github.com/zeus-ia/zeus/internal/approval"
	"github.com/zeus-ia/zeus/internal/auth"
	"github.com/zeus-ia/zeus/internal/events"
	zeusmcp "github.com/zeus-ia/zeus/internal/mcp"
	"github.com/zeus-ia/zeus/internal/memory"
	"github.com/zeus-ia/zeus/internal/model"
	"github.com/zeus-ia/zeus/internal/runtime"
	"github.com/zeus-ia/zeus/internal/server"
	"github.com/zeus-ia/zeus/internal/storage"
)

// --- fakes ---

type idemRecord struct {
	hash      string
	completed bool
	status    int
	data      json.RawMessage
}

type fakeStore struct {
	mu         sync.Mutex
	pingErr    error
	principals map[string]model.Principal
	idem       map[storage.IdempotencyScope]*idemRecord
	audits     []storage.MutationAuditEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		principals: map[string]model.Principal{},
		idem:       map[storage.IdempotencyScope]*idemRecord{},
	}
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

func (s *fakeStore) GetPrincipal(_ context.Context, email string) (model.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[email]
	if !ok {
		return model.Principal{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) UpsertPrincipal(_ context.Context, p model.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principals[p.Email] = p
	return nil
}

func (s *fakeStore) BeginIdempotency(_ context.Context, scope storage.IdempotencyScope, hash string) (storage.IdempotencyLookup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.idem[scope]
	switch {
	case !ok:
		s.idem[scope] = &idemRecord{hash: hash}
		return storage.IdempotencyLookup{}, nil
	case rec.hash != hash:
		return storage.IdempotencyLookup{}, storage.ErrIdempotencyPayloadMismatch
	case !rec.completed:
		return storage.IdempotencyLookup{}, storage.ErrIdempotencyInProgress
	}
	return storage.IdempotencyLookup{Completed: true, StatusCode: rec.status, ResponseData: rec.data}, nil
}

func (s *fakeStore) CompleteIdempotency(_ context.Context, scope storage.IdempotencyScope, status int, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.idem[scope]
	rec.completed, rec.status, rec.data = true, status, b
	return nil
}

func (s *fakeStore) ClearInProgressIdempotency(_ context.Context, scope storage.IdempotencyScope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.idem, scope)
	return nil
}

func (s *fakeStore) InsertMutationAudit(_ context.Context, e storage.MutationAuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, e)
	return nil
}

func (s *fakeStore) operations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.audits))
	for _, a := range s.audits {
		out = append(out, a.Operation)
	}
	return out
}

type fakeChatter struct {
	mu   sync.Mutex
	reqs []runtime.ChatRequest
	err  error
}

func (f *fakeChatter) RunChat(_ context.Context, req runtime.ChatRequest) (model.ChatResult, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	name := model.NormalizeAgentName(req.Agent)
	if name == "HERMES" {
		return model.ChatResult{Agent: name, Error: "Agente 'HERMES' no disponible"},
			fmt.Errorf("%w: %s", runtime.ErrUnknownAgent, name)
	}
	if f.err != nil {
		return model.ChatResult{}, f.err
	}
	return model.ChatResult{Success: true, Agent: name, ThreadID: req.ThreadID, Message: "eco: " + req.Message, Confidence: 0.9}, nil
}

type fakeActivities struct {
	mu        sync.Mutex
	nextID    int64
	rows      map[int64]model.Activity
	submitted int
}

func newFakeActivities() *fakeActivities {
	return &fakeActivities{rows: map[int64]model.Activity{}}
}

func (f *fakeActivities) create(a model.Activity) model.Activity {
	f.nextID++
	a.ID = f.nextID
	f.rows[a.ID] = a
	return a
}

func (f *fakeActivities) Submit(_ context.Context, req activity.SubmitRequest) (model.ExecuteActionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted++
	a := f.create(model.Activity{
		AgentName: strings.ToUpper(req.Agent), ActionType: req.ActionType,
		Status: model.ActivityPending, UserEmail: req.UserEmail, Details: req.Payload,
	})
	return model.ExecuteActionResponse{ActivityID: a.ID, Status: a.Status}, nil
}

func (f *fakeActivities) Execute(_ context.Context, id int64) (model.ExecuteActionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.rows[id]
	if a.Status != model.ActivityPending {
		return model.ExecuteActionResponse{}, fmt.Errorf("%w: status %s", activity.ErrNotExecutable, a.Status)
	}
	a.Status = model.ActivityExecuted
	f.rows[id] = a
	h := "task_assigned"
	return model.ExecuteActionResponse{ActivityID: id, Status: a.Status, ExecutedHandler: &h}, nil
}

func (f *fakeActivities) Log(_ context.Context, req activity.LogRequest) (model.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := req.Status
	if status == "" {
		status = model.ActivityPending
	}
	return f.create(model.Activity{
		AgentName: strings.ToUpper(req.AgentName), ActionType: req.ActionType,
		Status: status, UserEmail: req.UserEmail,
	}), nil
}

func (f *fakeActivities) Get(_ context.Context, id int64) (model.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return model.Activity{}, fmt.Errorf("activity: get %d: %w", id, storage.ErrNotFound)
	}
	return a, nil
}

func (f *fakeActivities) List(_ context.Context, filter model.ActivityFilter) ([]model.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Activity{}
	for id := int64(1); id <= f.nextID; id++ {
		a, ok := f.rows[id]
		if !ok || a.UserEmail != filter.UserEmail {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeActivities) Summary(_ context.Context, _, userEmail string) ([]model.AgentActivitySummary, error) {
	list, _ := f.List(context.Background(), model.ActivityFilter{UserEmail: userEmail})
	return []model.AgentActivitySummary{{AgentName: "PERSEO", Total: len(list)}}, nil
}

type fakeRecall struct{ got model.Identity }

func (f *fakeRecall) Recall(_ context.Context, id model.Identity, query string, limit int) ([]model.LongTermEntry, error) {
	f.got = id
	return []model.LongTermEntry{{Kind: "chat", Content: query}}, nil
}

type fakeApprovals struct {
	mu      sync.Mutex
	pending map[uuid.UUID]model.ApprovalRequest
}

func (f *fakeApprovals) ListPending(_ context.Context, companyID string, _ int) ([]model.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.ApprovalRequest{}
	for _, r := range f.pending {
		if r.Identity.CompanyID == companyID && r.Status == model.ApprovalPending {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeApprovals) Decide(_ context.Context, companyID string, id uuid.UUID, approve bool, by string) (model.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.pending[id]
	if !ok || r.Identity.CompanyID != companyID {
		return model.ApprovalRequest{}, storage.ErrNotFound
	}
	if r.Status != model.ApprovalPending {
		return model.ApprovalRequest{}, approval.ErrAlreadyDecided
	}
	r.Status = model.ApprovalRejected
	if approve {
		r.Status = model.ApprovalApproved
	}
	r.DecidedBy = by
	f.pending[id] = r
	return r, nil
}

type namedAgent string

func (n namedAgent) Name() string { return string(n) }

func (n namedAgent) ProcessRequest(context.Context, model.ChatContext) (model.Decision, error) {
	return model.Decision{}, nil
}

// --- harness ---

type env struct {
	srv        *httptest.Server
	jwt        *auth.JWTManager
	store      *fakeStore
	chat       *fakeChatter
	activities *fakeActivities
	recall     *fakeRecall
	approvals  *fakeApprovals
	broker     *server.Broker
	handlers   *server.Handlers
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	e := &env{
		jwt:        jwtMgr,
		store:      newFakeStore(),
		chat:       &fakeChatter{},
		activities: newFakeActivities(),
		recall:     &fakeRecall{},
		approvals:  &fakeApprovals{pending: map[uuid.UUID]model.ApprovalRequest{}},
		broker:     server.NewBroker(logger),
	}
	mem := memory.NewService(memory.NewInMemoryStore())
	agents := agent.NewRegistryWith(
		namedAgent(agent.NameZeusCore), namedAgent(agent.NamePerseo), namedAgent(agent.NameThalos),
	)
	mcpSrv := zeusmcp.New(zeusmcp.Deps{
		Runtime:    e.chat,
		Activities: e.activities,
		Memory:     mem,
		Recall:     e.recall,
		Agents:     agents,
		Logger:     logger,
	}, "test")
	srv := server.New(server.ServerConfig{
		Store:               e.store,
		JWTMgr:              jwtMgr,
		Runtime:             e.chat,
		Activities:          e.activities,
		Memory:              mem,
		Agents:              agents,
		MCPServer:           mcpSrv.MCPServer(),
		Recall:              e.recall,
		Approvals:           e.approvals,
		Broker:              e.broker,
		Logger:              logger,
		Version:             "test",
		LLMProvider:         "noop",
		MaxRequestBodyBytes: 1 << 20,
	})
	e.handlers = srv.Handlers()
	e.srv = httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = e.broker.Close()
		e.srv.Close()
	})
	return e
}

func (e *env) token(t *testing.T, email, company string, role model.Role) string {
	t.Helper()
	tok, _, err := e.jwt.IssueToken(model.Principal{Email: email, CompanyID: company, Role: role})
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Data  json.RawMessage   `json:"data"`
	Error model.ErrorDetail `json:"error"`
}

func (e *env) do(t *testing.T, method, path, token string, body any, headers ...string) (int, envelope) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), "body: %s", raw)
	}
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// --- tests ---

func TestHealthEndpoint(t *testing.T) {
	e := newEnv(t)
	code, body := e.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, code)
	health := decode[model.HealthResponse](t, body.Data)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, "noop", health.LLM)

	e.store.pingErr = errors.New("down")
	code, body = e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "disconnected", decode[model.HealthResponse](t, body.Data).Postgres)
}

func TestAuthTokenFlow(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.handlers.SeedAdmin(context.Background(), "Root@Zeus.test", "root-key", ""))

	code, body := e.do(t, http.MethodPost, "/auth/token", "",
		model.AuthTokenRequest{Email: "root@zeus.test", APIKey: "root-key"})
	require.Equal(t, http.StatusOK, code)
	tok := decode[model.AuthTokenResponse](t, body.Data)
	require.NotEmpty(t, tok.Token)

	claims, err := e.jwt.ValidateToken(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, model.RoleSuperuser, claims.Role)
	assert.Equal(t, model.DefaultCompanyID, claims.CompanyID)
	assert.Contains(t, e.store.operations(), "token_issued")

	code, body = e.do(t, http.MethodPost, "/auth/token", "",
		model.AuthTokenRequest{Email: "root@zeus.test", APIKey: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, model.ErrCodeUnauthorized, body.Error.Code)

	code, _ = e.do(t, http.MethodPost, "/auth/token", "",
		model.AuthTokenRequest{Email: "nobody@zeus.test", APIKey: "root-key"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = e.do(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{Email: "root@zeus.test"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUnauthenticatedAccess(t *testing.T) {
	e := newEnv(t)
	code, body := e.do(t, http.MethodGet, "/v1/agents", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, model.ErrCodeUnauthorized, body.Error.Code)
}

func TestListAgents(t *testing.T) {
	e := newEnv(t)
	code, body := e.do(t, http.MethodGet, "/v1/agents", e.token(t, "r@acme.test", "acme", model.RoleReader), nil)
	require.Equal(t, http.StatusOK, code)
	got := decode[map[string][]string](t, body.Data)
	assert.Equal(t, []string{"ZEUS CORE", "PERSEO", "THALOS"}, got["agents"])
}

func TestChatEndpoint(t *testing.T) {
	e := newEnv(t)
	operator := e.token(t, "ana@acme.test", "acme", model.RoleOperator)

	code, body := e.do(t, http.MethodPost, "/v1/agents/perseo/chat", operator,
		model.ChatRequest{Message: "Hola", ThreadID: "t1", Metadata: map[string]any{"type": "campaign"}})
	require.Equal(t, http.StatusOK, code)
	res := decode[model.ChatResult](t, body.Data)
	assert.True(t, res.Success)
	assert.Equal(t, "eco: Hola", res.Message)

	require.Len(t, e.chat.reqs, 1)
	assert.Equal(t, "acme", e.chat.reqs[0].CompanyID)
	assert.Equal(t, "perseo", e.chat.reqs[0].Agent)
	assert.Equal(t, "campaign", e.chat.reqs[0].Metadata["type"])

	code, body = e.do(t, http.MethodPost, "/v1/agents/hermes/chat", operator, model.ChatRequest{Message: "Hola"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Agente 'HERMES' no disponible", body.Error.Message)

	code, _ = e.do(t, http.MethodPost, "/v1/agents/perseo/chat", operator, model.ChatRequest{Message: "  "})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodPost, "/v1/agents/perseo/chat", e.token(t, "r@acme.test", "acme", model.RoleReader),
		model.ChatRequest{Message: "Hola"})
	assert.Equal(t, http.StatusForbidden, code)

	e.chat.err = errors.New("memory down")
	code, body = e.do(t, http.MethodPost, "/v1/agents/perseo/chat", operator, model.ChatRequest{Message: "Hola"})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, model.ErrCodeInternalError, body.Error.Code)
}

func TestExecuteActionIdempotency(t *testing.T) {
	e := newEnv(t)
	root := e.token(t, "root@zeus.test", "acme", model.RoleSuperuser)
	req := model.ExecuteActionRequest{Agent: "perseo", ActionType: "task_assigned", Payload: map[string]any{"description": "x"}}

	code, first := e.do(t, http.MethodPost, "/v1/actions/execute", root, req, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusOK, code)
	code, replay := e.do(t, http.MethodPost, "/v1/actions/execute", root, req, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, string(first.Data), string(replay.Data))
	assert.Equal(t, 1, e.activities.submitted)

	req.ActionType = "other"
	code, body := e.do(t, http.MethodPost, "/v1/actions/execute", root, req, "Idempotency-Key", "k1")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, model.ErrCodeConflict, body.Error.Code)

	resp := decode[model.ExecuteActionResponse](t, first.Data)
	assert.Equal(t, model.ActivityPending, resp.Status)
	stored, err := e.activities.Get(context.Background(), resp.ActivityID)
	require.NoError(t, err)
	assert.Equal(t, "acme", stored.UserEmail)
	assert.Contains(t, e.store.operations(), "action_submitted")

	code, _ = e.do(t, http.MethodPost, "/v1/actions/execute", root, model.ExecuteActionRequest{Agent: "perseo"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodPost, "/v1/actions/execute", e.token(t, "a@acme.test", "acme", model.RoleAdmin), req)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestActivitiesAreCompanyScoped(t *testing.T) {
	e := newEnv(t)
	operator := e.token(t, "ana@acme.test", "acme", model.RoleOperator)
	root := e.token(t, "root@zeus.test", "default", model.RoleSuperuser)

	code, body := e.do(t, http.MethodPost, "/v1/activities/log", operator, model.LogActivityRequest{
		AgentName: "perseo", ActionType: "campaign_report", ActionDescription: "weekly report",
	})
	require.Equal(t, http.StatusCreated, code)
	logged := decode[model.Activity](t, body.Data)

	path := fmt.Sprintf("/v1/activities/%d", logged.ID)
	code, _ = e.do(t, http.MethodGet, path, operator, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = e.do(t, http.MethodGet, path, root, nil, "X-Company-ID", "globex")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = e.do(t, http.MethodGet, path, root, nil, "X-Company-ID", "acme")
	assert.Equal(t, http.StatusOK, code)

	code, _ = e.do(t, http.MethodGet, path, operator, nil, "X-Company-ID", "globex")
	assert.Equal(t, http.StatusForbidden, code)

	code, body = e.do(t, http.MethodGet, "/v1/activities?status=pending", operator, nil)
	require.Equal(t, http.StatusOK, code)
	list := decode[struct {
		Activities []model.Activity `json:"activities"`
		Total      int              `json:"total"`
	}](t, body.Data)
	assert.Equal(t, 1, list.Total)

	code, _ = e.do(t, http.MethodGet, "/v1/activities?status=bogus", operator, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodGet, "/v1/activities/999", operator, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = e.do(t, http.MethodGet, "/v1/activities/abc", operator, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = e.do(t, http.MethodGet, "/v1/activities/summary", operator, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"total":1`)
}

func TestLogActivityRejectsSuccessStatuses(t *testing.T) {
	e := newEnv(t)
	operator := e.token(t, "ana@acme.test", "acme", model.RoleOperator)

	for _, status := range []model.ActivityStatus{
		model.ActivityInProgress, model.ActivityExecuted, model.ActivityExecutedInternal, model.ActivityBlockedMissingHandler,
	} {
		code, body := e.do(t, http.MethodPost, "/v1/activities/log", operator, model.LogActivityRequest{
			AgentName: "thalos", ActionType: "nonexistent_action", Status: status,
		})
		assert.Equal(t, http.StatusBadRequest, code, status)
		assert.Equal(t, model.ErrCodeInvalidInput, body.Error.Code, status)
	}

	code, body := e.do(t, http.MethodPost, "/v1/activities/log", operator, model.LogActivityRequest{
		AgentName: "thalos", ActionType: "nonexistent_action",
	})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, model.ActivityPending, decode[model.Activity](t, body.Data).Status)
}

func TestExecuteActivityOnce(t *testing.T) {
	e := newEnv(t)
	root := e.token(t, "root@zeus.test", "acme", model.RoleSuperuser)

	code, body := e.do(t, http.MethodPost, "/v1/actions/execute", root,
		model.ExecuteActionRequest{Agent: "thalos", ActionType: "security_scan"})
	require.Equal(t, http.StatusOK, code)
	id := decode[model.ExecuteActionResponse](t, body.Data).ActivityID

	path := fmt.Sprintf("/v1/activities/%d/execute", id)
	code, body = e.do(t, http.MethodPost, path, root, nil)
	require.Equal(t, http.StatusOK, code)
	res := decode[model.ExecuteActionResponse](t, body.Data)
	assert.Equal(t, model.ActivityExecuted, res.Status)
	require.NotNil(t, res.ExecutedHandler)

	code, body = e.do(t, http.MethodPost, path, root, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, model.ErrCodeConflict, body.Error.Code)
}

func TestMemoryEndpoints(t *testing.T) {
	e := newEnv(t)
	operator := e.token(t, "ana@acme.test", "acme", model.RoleOperator)

	code, body := e.do(t, http.MethodGet, "/v1/memory/zeus/main", operator, nil)
	require.Equal(t, http.StatusOK, code)
	snap := decode[model.MemorySnapshot](t, body.Data)
	assert.Equal(t, model.Identity{CompanyID: "acme", AgentID: "ZEUS CORE", ThreadID: "main"}, snap.Identity)

	code, _ = e.do(t, http.MethodGet, "/v1/memory/hermes/main", operator, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = e.do(t, http.MethodPost, "/v1/memory/thalos/recall", operator, model.RecallRequest{Query: "firewall"})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), "firewall")
	assert.Equal(t, "THALOS", e.recall.got.AgentID)
	assert.Equal(t, "acme", e.recall.got.CompanyID)

	code, _ = e.do(t, http.MethodPost, "/v1/memory/thalos/recall", operator, model.RecallRequest{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestApprovalEndpoints(t *testing.T) {
	e := newEnv(t)
	admin := e.token(t, "boss@acme.test", "acme", model.RoleAdmin)
	id := uuid.New()
	e.approvals.pending[id] = model.ApprovalRequest{
		ID: id, Identity: model.NewIdentity("acme", "THALOS", "main"), Status: model.ApprovalPending,
	}
	other := uuid.New()
	e.approvals.pending[other] = model.ApprovalRequest{
		ID: other, Identity: model.NewIdentity("globex", "THALOS", "main"), Status: model.ApprovalPending,
	}

	code, body := e.do(t, http.MethodGet, "/v1/approvals", admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"total":1`)

	code, body = e.do(t, http.MethodPost, "/v1/approvals/"+id.String()+"/approve", admin, nil)
	require.Equal(t, http.StatusOK, code)
	decided := decode[model.ApprovalRequest](t, body.Data)
	assert.Equal(t, model.ApprovalApproved, decided.Status)
	assert.Equal(t, "boss@acme.test", decided.DecidedBy)
	assert.Contains(t, e.store.operations(), "approval_approved")

	code, _ = e.do(t, http.MethodPost, "/v1/approvals/"+id.String()+"/reject", admin, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = e.do(t, http.MethodPost, "/v1/approvals/"+other.String()+"/reject", admin, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = e.do(t, http.MethodPost, "/v1/approvals/not-a-uuid/approve", admin, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodGet, "/v1/approvals", e.token(t, "ana@acme.test", "acme", model.RoleOperator), nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestActivityStream(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/v1/activities/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+e.token(t, "r@acme.test", "acme", model.RoleReader))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 8)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	// The subscription is registered after the headers are flushed, so
	// publish until the first event gets through.
	ev := events.ActivityEvent{ActivityID: 9, Agent: "PERSEO", Status: model.ActivityExecuted, CompanyID: "acme"}
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed before an event arrived")
			if strings.HasPrefix(line, "data: ") {
				assert.Contains(t, line, `"activity_id":9`)
				return
			}
		case <-tick.C:
			e.broker.Publish(ctx, ev)
		case <-deadline:
			t.Fatal("timed out waiting for activity event")
		}
	}
}

// newMCPClient connects to the test server's /mcp endpoint with a bearer token.
func (e *env) newMCPClient(t *testing.T, token string) *mcpclient.Client {
	t.Helper()
	c, err := mcpclient.NewStreamableHttpClient(
		e.srv.URL+"/mcp",
		mcptransport.WithHTTPHeaders(map[string]string{
			"Authorization": "Bearer " + token,
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	initResult, err := c.Initialize(context.Background(), mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "zeus", initResult.ServerInfo.Name)
	assert.Equal(t, "test", initResult.ServerInfo.Version)
	return c
}

func TestMCPListTools(t *testing.T) {
	e := newEnv(t)
	c := e.newMCPClient(t, e.token(t, "ops@acme.test", "acme", model.RoleOperator))

	result, err := c.ListTools(context.Background(), mcplib.ListToolsRequest{})
	require.NoError(t, err)

	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"zeus_chat", "zeus_execute_action", "zeus_memory", "zeus_recall"}, names)
}

func TestMCPChatUsesCallerCompany(t *testing.T) {
	e := newEnv(t)
	c := e.newMCPClient(t, e.token(t, "ops@acme.test", "acme", model.RoleOperator))

	result, err := c.CallTool(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "zeus_chat",
			Arguments: map[string]any{"agent": "perseo", "message": "Hola"},
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "eco: Hola")

	e.chat.mu.Lock()
	defer e.chat.mu.Unlock()
	require.Len(t, e.chat.reqs, 1)
	assert.Equal(t, "acme", e.chat.reqs[0].CompanyID)
}

func TestMCPRequiresOperator(t *testing.T) {
	e := newEnv(t)
	code, _ := e.do(t, http.MethodPost, "/mcp", e.token(t, "view@acme.test", "acme", model.RoleReader), map[string]any{})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = e.do(t, http.MethodPost, "/mcp", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, code)
}
