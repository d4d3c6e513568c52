package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/zeus-ia/zeus/internal/ctxutil"
	"github.com/zeus-ia/zeus/internal/storage"
)

// buildAuditMeta captures who is mutating what from the current request.
func buildAuditMeta(r *http.Request) ctxutil.AuditMeta {
	meta := ctxutil.AuditMeta{
		RequestID:  RequestIDFromContext(r.Context()),
		CompanyID:  companyOf(r),
		Actor:      "unknown",
		ActorRole:  "unknown",
		HTTPMethod: r.Method,
		Endpoint:   r.URL.Path,
	}
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		meta.Actor = claims.Email
		meta.ActorRole = string(claims.Role)
	}
	return meta
}

// auditRequest records a mutation made by the authenticated caller.
func (h *Handlers) auditRequest(
	r *http.Request,
	operation, resourceType, resourceID string,
	beforeData, afterData any,
	metadata map[string]any,
) {
	meta := buildAuditMeta(r)
	if err := h.recordMutationAuditBestEffort(r, meta.CompanyID, meta.Actor, meta.ActorRole,
		operation, resourceType, resourceID, beforeData, afterData, metadata,
	); err != nil {
		h.logger.Error("failed to audit mutation",
			"operation", operation, "resource_id", resourceID, "error", err)
	}
}

// recordMutationAuditBestEffort appends a mutation audit event outside any
// transaction, retrying briefly on a detached context.
func (h *Handlers) recordMutationAuditBestEffort(
	r *http.Request,
	companyID, actor, actorRole string,
	operation, resourceType, resourceID string,
	beforeData, afterData any,
	metadata map[string]any,
) error {
	entry := storage.MutationAuditEntry{
		RequestID:    RequestIDFromContext(r.Context()),
		CompanyID:    companyID,
		Actor:        actor,
		ActorRole:    actorRole,
		HTTPMethod:   r.Method,
		Endpoint:     r.URL.Path,
		Operation:    operation,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		BeforeData:   beforeData,
		AfterData:    afterData,
		Metadata:     metadata,
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		err := h.store.InsertMutationAudit(writeCtx, entry)
		if err == nil {
			return nil
		}
		lastErr = err

		select {
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		case <-writeCtx.Done():
			return fmt.Errorf("mutation audit write context expired: %w", lastErr)
		}
	}
	return fmt.Errorf("mutation audit write failed after retries: %w", lastErr)
}
