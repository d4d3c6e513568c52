package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/zeus-ia/zeus/internal/activity"
	"github.com/zeus-ia/zeus/internal/model"
	"github.com/zeus-ia/zeus/internal/storage"
)

const executeActionEndpoint = "POST:/v1/actions/execute"

// HandleExecuteAction handles POST /v1/actions/execute.
func (h *Handlers) HandleExecuteAction(w http.ResponseWriter, r *http.Request) {
	var req model.ExecuteActionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	companyID := companyOf(r)
	idem, proceed := h.beginIdempotentWrite(w, r, companyID, executeActionEndpoint, req)
	if !proceed {
		return
	}

	resp, err := h.activities.Submit(r.Context(), activity.SubmitRequest{
		Agent:      req.Agent,
		ActionType: req.ActionType,
		Payload:    req.Payload,
		Sync:       req.Sync,
		UserEmail:  companyID,
		Priority:   req.Priority,
	})
	if err != nil {
		h.clearIdempotentWrite(r, idem)
		if errors.Is(err, activity.ErrInvalidRequest) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
		h.writeInternalError(w, r, "failed to execute action", err)
		return
	}

	h.auditRequest(r, "action_submitted", "activity", strconv.FormatInt(resp.ActivityID, 10), nil, resp,
		map[string]any{"agent": req.Agent, "action_type": req.ActionType, "sync": req.Sync})
	h.completeIdempotentWriteBestEffort(r, idem, http.StatusOK, resp)
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleExecuteActivity handles POST /v1/activities/{id}/execute.
func (h *Handlers) HandleExecuteActivity(w http.ResponseWriter, r *http.Request) {
	a, ok := h.activityForCompany(w, r)
	if !ok {
		return
	}

	resp, err := h.activities.Execute(r.Context(), a.ID)
	switch {
	case errors.Is(err, activity.ErrNotExecutable):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "activity is not pending")
		return
	case err != nil:
		h.writeInternalError(w, r, "failed to execute activity", err)
		return
	}

	h.auditRequest(r, "activity_executed", "activity", strconv.FormatInt(a.ID, 10), a, resp, nil)
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleLogActivity handles POST /v1/activities/log.
func (h *Handlers) HandleLogActivity(w http.ResponseWriter, r *http.Request) {
	var req model.LogActivityRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	a, err := h.activities.Log(r.Context(), activity.LogRequest{
		LogActivityRequest: req,
		UserEmail:          companyOf(r),
	})
	if err != nil {
		if errors.Is(err, activity.ErrInvalidRequest) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
		h.writeInternalError(w, r, "failed to log activity", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, a)
}

// HandleListActivities handles GET /v1/activities.
func (h *Handlers) HandleListActivities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := model.ActivityStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid status "+strconv.Quote(string(status)))
		return
	}

	list, err := h.activities.List(r.Context(), model.ActivityFilter{
		AgentName: q.Get("agent"),
		Status:    status,
		UserEmail: companyOf(r),
		Limit:     queryLimit(r, 50),
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to list activities", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"activities": list,
		"total":      len(list),
	})
}

// HandleActivitySummary handles GET /v1/activities/summary.
func (h *Handlers) HandleActivitySummary(w http.ResponseWriter, r *http.Request) {
	out, err := h.activities.Summary(r.Context(), r.URL.Query().Get("agent"), companyOf(r))
	if err != nil {
		h.writeInternalError(w, r, "failed to summarize activities", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"agents": out})
}

// HandleGetActivity handles GET /v1/activities/{id}.
func (h *Handlers) HandleGetActivity(w http.ResponseWriter, r *http.Request) {
	a, ok := h.activityForCompany(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, a)
}

// activityForCompany loads the path activity. Another company's activity
// answers 404 so ids do not leak across tenants.
func (h *Handlers) activityForCompany(w http.ResponseWriter, r *http.Request) (model.Activity, bool) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return model.Activity{}, false
	}
	a, err := h.activities.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && a.CompanyID() != companyOf(r)) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "activity not found")
		return model.Activity{}, false
	}
	if err != nil {
		h.writeInternalError(w, r, "failed to get activity", err)
		return model.Activity{}, false
	}
	return a, true
}

// HandleActivityStream handles GET /v1/activities/stream (SSE).
func (h *Handlers) HandleActivityStream(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "activity stream not available")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Lift the server's WriteTimeout for this long-lived connection.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe(companyOf(r))
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
