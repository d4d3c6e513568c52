package server

import (
	"net/http"
	"strings"

	"github.com/zeus-ia/zeus/internal/model"
)

const (
	defaultRecallLimit = 5
	maxRecallLimit     = 50
)

// HandleMemorySnapshot handles GET /v1/memory/{agent}/{thread}.
func (h *Handlers) HandleMemorySnapshot(w http.ResponseWriter, r *http.Request) {
	agentName, ok := h.canonicalAgent(w, r)
	if !ok {
		return
	}
	id := model.NewIdentity(companyOf(r), agentName, r.PathValue("thread"))
	if len(id.ThreadID) > model.MaxThreadIDLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "thread_id too long")
		return
	}

	mem, err := h.memory.Load(r.Context(), id)
	if err != nil {
		h.writeInternalError(w, r, "failed to load memory", err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.MemorySnapshot{Identity: id, Memory: mem})
}

// HandleRecall handles POST /v1/memory/{agent}/recall.
func (h *Handlers) HandleRecall(w http.ResponseWriter, r *http.Request) {
	if h.recall == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "long-term memory not configured")
		return
	}
	agentName, ok := h.canonicalAgent(w, r)
	if !ok {
		return
	}

	var req model.RecallRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "query is required")
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultRecallLimit
	}
	limit = min(limit, maxRecallLimit)

	id := model.NewIdentity(companyOf(r), agentName, "")
	entries, err := h.recall.Recall(r.Context(), id, req.Query, limit)
	if err != nil {
		h.writeInternalError(w, r, "recall failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   len(entries),
	})
}
