package server

import (
	"errors"
	"net/http"

	"github.com/zeus-ia/zeus/internal/model"
	"github.com/zeus-ia/zeus/internal/runtime"
)

// HandleListAgents handles GET /v1/agents.
func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{"agents": h.agents.Names()})
}

// HandleChat handles POST /v1/agents/{agent}/chat.
func (h *Handlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	result, err := h.runtime.RunChat(r.Context(), runtime.ChatRequest{
		Agent:     r.PathValue("agent"),
		CompanyID: companyOf(r),
		ThreadID:  req.ThreadID,
		Message:   req.Message,
		Metadata:  req.Metadata,
	})
	switch {
	case errors.Is(err, runtime.ErrUnknownAgent):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, result.Error)
		return
	case err != nil:
		h.writeInternalError(w, r, "chat failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// canonicalAgent resolves a path agent name to the persona name memory is
// filed under. Writes 404 and returns false for an unknown agent.
func (h *Handlers) canonicalAgent(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := model.NormalizeAgentName(r.PathValue("agent"))
	a, ok := h.agents.Lookup(name)
	if !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "Agente '"+name+"' no disponible")
		return "", false
	}
	return model.NormalizeAgentName(a.Name()), true
}
