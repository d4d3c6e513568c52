package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrIdempotencyPayloadMismatch means the key was already used with a
	// different request body.
	ErrIdempotencyPayloadMismatch = errors.New("idempotency key reused with different payload")
	// ErrIdempotencyInProgress means another request holds the key.
	ErrIdempotencyInProgress = errors.New("idempotency key request already in progress")
)

const idemCompleted = "completed"

// IdempotencyScope identifies a key: the same key from another company,
// principal or endpoint is a different reservation.
type IdempotencyScope struct {
	CompanyID string
	Principal string
	Endpoint  string
	Key       string
}

func (s IdempotencyScope) args() []any {
	return []any{s.CompanyID, s.Principal, s.Endpoint, s.Key}
}

// IdempotencyLookup is the outcome of BeginIdempotency. When Completed is
// set the caller replays StatusCode and ResponseData instead of running
// the operation again.
type IdempotencyLookup struct {
	Completed    bool
	StatusCode   int
	ResponseData json.RawMessage
}

// BeginIdempotency reserves the key, or reports what an earlier request with
// the same key left behind. Reservation and lookup are one statement: the
// no-op update on conflict returns the existing row, and xmax = 0 tells a
// fresh insert apart. Abandoned reservations are removed by
// CleanupIdempotencyKeys, never taken over.
func (db *DB) BeginIdempotency(ctx context.Context, s IdempotencyScope, requestHash string) (IdempotencyLookup, error) {
	var (
		inserted     bool
		storedHash   string
		status       string
		statusCode   *int
		responseData []byte
	)
	err := db.pool.QueryRow(ctx,
		`INSERT INTO idempotency_keys (company_id, principal, endpoint, idempotency_key, request_hash, status)
		 VALUES ($1, $2, $3, $4, $5, 'in_progress')
		 ON CONFLICT (company_id, principal, endpoint, idempotency_key)
		 DO UPDATE SET request_hash = idempotency_keys.request_hash
		 RETURNING (xmax = 0), request_hash, status, status_code, response_data`,
		append(s.args(), requestHash)...,
	).Scan(&inserted, &storedHash, &status, &statusCode, &responseData)
	if err != nil {
		return IdempotencyLookup{}, fmt.Errorf("storage: begin idempotency: %w", err)
	}

	switch {
	case inserted:
		return IdempotencyLookup{}, nil
	case storedHash != requestHash:
		return IdempotencyLookup{}, ErrIdempotencyPayloadMismatch
	case status != idemCompleted:
		return IdempotencyLookup{}, ErrIdempotencyInProgress
	}
	lookup := IdempotencyLookup{Completed: true, ResponseData: responseData}
	if statusCode != nil {
		lookup.StatusCode = *statusCode
	}
	return lookup, nil
}

// CompleteIdempotency records the response for a key this caller reserved.
func (db *DB) CompleteIdempotency(ctx context.Context, s IdempotencyScope, statusCode int, responseData any) error {
	body, err := json.Marshal(responseData)
	if err != nil {
		return fmt.Errorf("storage: marshal idempotency response: %w", err)
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE idempotency_keys
		 SET status = 'completed', status_code = $5, response_data = $6::jsonb, updated_at = $7
		 WHERE company_id = $1 AND principal = $2 AND endpoint = $3 AND idempotency_key = $4
		   AND status = 'in_progress'`,
		append(s.args(), statusCode, string(body), db.now().UTC())...,
	)
	if err != nil {
		return fmt.Errorf("storage: complete idempotency: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: complete idempotency %q: %w", s.Key, ErrNotFound)
	}
	return nil
}

// ClearInProgressIdempotency drops a reservation whose request failed, so
// the client may retry with the same key.
func (db *DB) ClearInProgressIdempotency(ctx context.Context, s IdempotencyScope) error {
	if _, err := db.pool.Exec(ctx,
		`DELETE FROM idempotency_keys
		 WHERE company_id = $1 AND principal = $2 AND endpoint = $3 AND idempotency_key = $4
		   AND status = 'in_progress'`,
		s.args()...,
	); err != nil {
		return fmt.Errorf("storage: clear idempotency: %w", err)
	}
	return nil
}

// CleanupIdempotencyKeys deletes completed keys older than completedTTL and
// reservations abandoned for longer than inProgressTTL.
func (db *DB) CleanupIdempotencyKeys(ctx context.Context, completedTTL, inProgressTTL time.Duration) (int64, error) {
	now := db.now().UTC()
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM idempotency_keys
		 WHERE (status = 'completed' AND updated_at < $1)
		    OR (status = 'in_progress' AND updated_at < $2)`,
		now.Add(-completedTTL), now.Add(-inProgressTTL),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: cleanup idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
