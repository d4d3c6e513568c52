package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zeus-ia/zeus/internal/auth"
	"github.com/zeus-ia/zeus/internal/model"
	"github.com/zeus-ia/zeus/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	store               Store
	jwtMgr              *auth.JWTManager
	runtime             Chatter
	activities          Activities
	memory              MemoryReader
	recall              Recaller
	approvals           Approvals
	agents              AgentDirectory
	broker              *Broker
	qdrant              HealthChecker
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	llmProvider         string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Recall, Approvals, Broker, Qdrant.
type HandlersDeps struct {
	Store               Store
	JWTMgr              *auth.JWTManager
	Runtime             Chatter
	Activities          Activities
	Memory              MemoryReader
	Recall              Recaller
	Approvals           Approvals
	Agents              AgentDirectory
	Broker              *Broker
	Qdrant              HealthChecker
	Logger              *slog.Logger
	Version             string
	LLMProvider         string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		store:               d.Store,
		jwtMgr:              d.JWTMgr,
		runtime:             d.Runtime,
		activities:          d.Activities,
		memory:              d.Memory,
		recall:              d.Recall,
		approvals:           d.Approvals,
		agents:              d.Agents,
		broker:              d.Broker,
		qdrant:              d.Qdrant,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		llmProvider:         d.LLMProvider,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleAuthToken handles POST /auth/token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "email and api_key are required")
		return
	}

	p, err := h.store.GetPrincipal(r.Context(), email)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.logger.Error("auth: principal lookup failed", "error", err)
		}
		// Equalize timing with the found path.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}
	valid, verr := auth.VerifyAPIKey(req.APIKey, p.APIKeyHash)
	if verr != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(p)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	// Best effort: a failed audit write must not block the token response.
	if auditErr := h.recordMutationAuditBestEffort(r, p.CompanyID, p.Email, string(p.Role),
		"token_issued", "auth_token", p.Email, nil, nil,
		map[string]any{
			"ip":         r.RemoteAddr,
			"user_agent": r.UserAgent(),
			"token_exp":  expiresAt,
		},
	); auditErr != nil {
		h.logger.Error("failed to audit token issuance", "principal", p.Email, "error", auditErr)
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:   "healthy",
		Version:  h.version,
		Postgres: "connected",
		LLM:      h.llmProvider,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	}
	httpStatus := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		resp.Postgres = "disconnected"
		resp.Status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	if h.qdrant != nil {
		if err := h.qdrant.Healthy(r.Context()); err == nil {
			resp.Qdrant = "connected"
		} else {
			resp.Qdrant = "disconnected"
			if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}
	}

	writeJSON(w, r, httpStatus, resp)
}

// SeedAdmin creates or refreshes the configured superuser. An empty email
// or key skips seeding.
func (h *Handlers) SeedAdmin(ctx context.Context, email, apiKey, companyID string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || apiKey == "" {
		h.logger.Info("no admin credentials configured, skipping admin seed")
		return nil
	}

	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		return fmt.Errorf("seed admin: hash key: %w", err)
	}
	if err := h.store.UpsertPrincipal(ctx, model.Principal{
		Email:      email,
		CompanyID:  model.NewIdentity(companyID, "", "").CompanyID,
		Role:       model.RoleSuperuser,
		APIKeyHash: hash,
	}); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	h.logger.Info("seeded admin principal", "email", email)
	return nil
}

// writeInternalError logs err and answers 500 without leaking details.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// --- Shared helpers ---

// maxQueryLimit is the maximum allowed value for limit query parameters.
const maxQueryLimit = 1000

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// queryLimit returns a bounded limit value from query params.
// Values are clamped to [1, maxQueryLimit].
func queryLimit(r *http.Request, defaultVal int) int {
	limit := queryInt(r, "limit", defaultVal)
	if limit < 1 {
		return 1
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

// pathInt64 parses a positive integer path value.
func pathInt64(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return id, nil
}

// companyOf returns the normalized company the request acts on.
func companyOf(r *http.Request) string {
	return model.NewIdentity(CompanyIDFromContext(r.Context()), "", "").CompanyID
}
