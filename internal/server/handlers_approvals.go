package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/zeus-ia/zeus/internal/approval"
	"github.com/zeus-ia/zeus/internal/model"
	"github.com/zeus-ia/zeus/internal/storage"
)

// HandleListApprovals handles GET /v1/approvals.
func (h *Handlers) HandleListApprovals(w http.ResponseWriter, r *http.Request) {
	if h.approvals == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{"approvals": []model.ApprovalRequest{}, "total": 0})
		return
	}
	list, err := h.approvals.ListPending(r.Context(), companyOf(r), queryLimit(r, 50))
	if err != nil {
		h.writeInternalError(w, r, "failed to list approvals", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"approvals": list,
		"total":     len(list),
	})
}

// HandleApprove handles POST /v1/approvals/{id}/approve.
func (h *Handlers) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

// HandleReject handles POST /v1/approvals/{id}/reject.
func (h *Handlers) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

func (h *Handlers) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	if h.approvals == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "approval not found")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid approval id")
		return
	}

	decidedBy := "unknown"
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		decidedBy = claims.Email
	}

	decided, err := h.approvals.Decide(r.Context(), companyOf(r), id, approve, decidedBy)
	switch {
	case errors.Is(err, approval.ErrAlreadyDecided):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "approval already decided")
		return
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "approval not found")
		return
	case err != nil:
		h.writeInternalError(w, r, "failed to decide approval", err)
		return
	}

	h.auditRequest(r, "approval_"+string(decided.Status), "approval", id.String(), nil, decided, nil)
	writeJSON(w, r, http.StatusOK, decided)
}
