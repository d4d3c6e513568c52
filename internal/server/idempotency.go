package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/zeus-ia/zeus/internal/model"
	"github.com/zeus-ia/zeus/internal/storage"
)

// maxIdempotencyKeyLen bounds the Idempotency-Key header.
const maxIdempotencyKeyLen = 200

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func requestHash(payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// beginIdempotentWrite reserves the request's Idempotency-Key.
//
//   - no key: (nil, true), proceed without idempotency
//   - reserved: (scope, true), proceed and finalize or clear scope afterwards
//   - replayed or rejected: (nil, false), the response is already written
func (h *Handlers) beginIdempotentWrite(
	w http.ResponseWriter,
	r *http.Request,
	companyID, endpoint string,
	payload any,
) (*storage.IdempotencyScope, bool) {
	key := idempotencyKey(r)
	if key == "" {
		return nil, true
	}
	if len(key) > maxIdempotencyKeyLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			fmt.Sprintf("Idempotency-Key exceeds %d characters", maxIdempotencyKeyLen))
		return nil, false
	}

	hash, err := requestHash(payload)
	if err != nil {
		h.writeInternalError(w, r, "failed to hash idempotency payload", err)
		return nil, false
	}

	scope := storage.IdempotencyScope{CompanyID: companyID, Endpoint: endpoint, Key: key}
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		scope.Principal = claims.Email
	}

	lookup, err := h.store.BeginIdempotency(r.Context(), scope, hash)
	switch {
	case err == nil:
		if !lookup.Completed {
			return &scope, true
		}
		var replay any
		if len(lookup.ResponseData) > 0 {
			if err := json.Unmarshal(lookup.ResponseData, &replay); err != nil {
				h.writeInternalError(w, r, "failed to decode idempotent replay", err)
				return nil, false
			}
		}
		status := lookup.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Idempotent-Replayed", "true")
		writeJSON(w, r, status, replay)
		return nil, false
	case errors.Is(err, storage.ErrIdempotencyPayloadMismatch):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "idempotency key reused with different payload")
		return nil, false
	case errors.Is(err, storage.ErrIdempotencyInProgress):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "request with this idempotency key is already in progress")
		return nil, false
	default:
		h.writeInternalError(w, r, "idempotency lookup failed", err)
		return nil, false
	}
}

// finalizeTimeout bounds how long a committed write may spend recording
// its idempotent response.
const finalizeTimeout = 10 * time.Second

// completeIdempotentWrite stores the response for scope. It runs detached
// from the request so a client hanging up right after the mutation does not
// leave the key in progress, and retries a few times with backoff.
func (h *Handlers) completeIdempotentWrite(ctx context.Context, scope *storage.IdempotencyScope, statusCode int, data any) error {
	if scope == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, h.store.CompleteIdempotency(ctx, *scope, statusCode, data)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(3),
		backoff.WithNotify(func(err error, wait time.Duration) {
			h.logger.Warn("idempotency: finalize failed, retrying",
				"error", err, "retry_in", wait, "endpoint", scope.Endpoint)
		}),
	)
	if err != nil {
		return fmt.Errorf("idempotency: finalize %s: %w", scope.Endpoint, err)
	}
	return nil
}

// completeIdempotentWriteBestEffort finalizes scope after a committed
// mutation. Failure is logged; the response already stands.
func (h *Handlers) completeIdempotentWriteBestEffort(r *http.Request, scope *storage.IdempotencyScope, statusCode int, data any) {
	if err := h.completeIdempotentWrite(r.Context(), scope, statusCode, data); err != nil {
		h.logger.Error("idempotency: record left in progress",
			"error", err,
			"company_id", scope.CompanyID,
			"request_id", RequestIDFromContext(r.Context()),
		)
	}
}

// clearIdempotentWrite releases a reserved key after a failed mutation so
// the client can retry with the same key.
func (h *Handlers) clearIdempotentWrite(r *http.Request, scope *storage.IdempotencyScope) {
	if scope == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), finalizeTimeout)
	defer cancel()
	if err := h.store.ClearInProgressIdempotency(ctx, *scope); err != nil {
		h.logger.Error("idempotency: clear failed",
			"error", err,
			"endpoint", scope.Endpoint,
			"principal", scope.Principal,
		)
	}
}
