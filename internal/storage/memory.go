package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/zeus-ia/zeus/internal/model"
)

// GetShortTerm returns the stored buffer for id, expired or not. Callers
// decide expiry against their own clock. Returns ErrNotFound when no buffer
// was ever written.
func (db *DB) GetShortTerm(ctx context.Context, id model.Identity) (model.ShortTermBuffer, error) {
	var (
		raw []byte
		buf = model.ShortTermBuffer{Identity: id}
	)
	err := db.pool.QueryRow(ctx,
		`SELECT messages, expires_at, updated_at
		 FROM agent_short_term_buffer
		 WHERE company_id = $1 AND agent_id = $2 AND thread_id = $3`,
		id.CompanyID, id.AgentID, id.ThreadID,
	).Scan(&raw, &buf.ExpiresAt, &buf.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ShortTermBuffer{}, ErrNotFound
	}
	if err != nil {
		return model.ShortTermBuffer{}, fmt.Errorf("storage: get short-term buffer: %w", err)
	}
	if err := json.Unmarshal(raw, &buf.Messages); err != nil {
		return model.ShortTermBuffer{}, fmt.Errorf("storage: decode short-term buffer: %w", err)
	}
	return buf, nil
}

// UpsertShortTerm replaces the whole message sequence for the buffer's
// identity and writes its expires_at.
func (db *DB) UpsertShortTerm(ctx context.Context, buf model.ShortTermBuffer) error {
	messages := buf.Messages
	if messages == nil {
		messages = []model.Message{}
	}
	raw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("storage: encode short-term buffer: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO agent_short_term_buffer (company_id, agent_id, thread_id, messages, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		 ON CONFLICT (company_id, agent_id, thread_id) DO UPDATE
		 SET messages = EXCLUDED.messages,
		     expires_at = EXCLUDED.expires_at,
		     updated_at = EXCLUDED.updated_at`,
		buf.CompanyID, buf.AgentID, buf.ThreadID, string(raw), buf.ExpiresAt, buf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert short-term buffer: %w", err)
	}
	return nil
}

// GetOperationalState returns the snapshot for id, or ErrNotFound.
func (db *DB) GetOperationalState(ctx context.Context, id model.Identity) (model.OperationalState, error) {
	var (
		task, status, next *string
		artifacts, blocked []byte
		updatedAt          time.Time
	)
	err := db.pool.QueryRow(ctx,
		`SELECT current_task, status, next_action, artifacts, blocked, updated_at
		 FROM agent_operational_state
		 WHERE company_id = $1 AND agent_id = $2 AND thread_id = $3`,
		id.CompanyID, id.AgentID, id.ThreadID,
	).Scan(&task, &status, &next, &artifacts, &blocked, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.OperationalState{}, ErrNotFound
	}
	if err != nil {
		return model.OperationalState{}, fmt.Errorf("storage: get operational state: %w", err)
	}

	st := model.OperationalState{
		CurrentTask: deref(task),
		Status:      deref(status),
		NextAction:  deref(next),
		UpdatedAt:   &updatedAt,
	}
	if st.Artifacts, err = decodeObject(artifacts); err != nil {
		return model.OperationalState{}, fmt.Errorf("storage: decode artifacts: %w", err)
	}
	if st.Blocked, err = decodeObject(blocked); err != nil {
		return model.OperationalState{}, fmt.Errorf("storage: decode blocked: %w", err)
	}
	return st, nil
}

// UpsertOperationalState writes the non-nil fields of u and leaves the rest
// of the stored row untouched. The row is created on first write.
func (db *DB) UpsertOperationalState(ctx context.Context, id model.Identity, u model.StateUpdate, at time.Time) error {
	artifacts, err := encodeObject(u.Artifacts)
	if err != nil {
		return fmt.Errorf("storage: encode artifacts: %w", err)
	}
	blocked, err := encodeObject(u.Blocked)
	if err != nil {
		return fmt.Errorf("storage: encode blocked: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO agent_operational_state
		     (company_id, agent_id, thread_id, current_task, status, next_action, artifacts, blocked, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9)
		 ON CONFLICT (company_id, agent_id, thread_id) DO UPDATE
		 SET current_task = COALESCE(EXCLUDED.current_task, agent_operational_state.current_task),
		     status       = COALESCE(EXCLUDED.status, agent_operational_state.status),
		     next_action  = COALESCE(EXCLUDED.next_action, agent_operational_state.next_action),
		     artifacts    = COALESCE(EXCLUDED.artifacts, agent_operational_state.artifacts),
		     blocked      = COALESCE(EXCLUDED.blocked, agent_operational_state.blocked),
		     updated_at   = EXCLUDED.updated_at`,
		id.CompanyID, id.AgentID, id.ThreadID, u.CurrentTask, u.Status, u.NextAction, artifacts, blocked, at,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert operational state: %w", err)
	}
	return nil
}

// AppendDecision inserts one decision-log row. The table rejects updates and
// deletes at the database level.
func (db *DB) AppendDecision(ctx context.Context, id model.Identity, decisionType string, payload map[string]any, at time.Time) (model.DecisionEntry, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return model.DecisionEntry{}, fmt.Errorf("storage: encode decision payload: %w", err)
	}
	entry := model.DecisionEntry{DecisionType: decisionType, Payload: payload}
	err = db.pool.QueryRow(ctx,
		`INSERT INTO agent_decision_log (company_id, agent_id, thread_id, decision_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		 RETURNING id, created_at`,
		id.CompanyID, id.AgentID, id.ThreadID, decisionType, string(raw), at,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return model.DecisionEntry{}, fmt.Errorf("storage: append decision: %w", err)
	}
	return entry, nil
}

// ListDecisions returns the most recent limit entries for id in
// chronological order.
func (db *DB) ListDecisions(ctx context.Context, id model.Identity, limit int) ([]model.DecisionEntry, error) {
	if limit <= 0 {
		limit = model.DecisionLogWindow
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, decision_type, payload, created_at FROM (
		     SELECT id, decision_type, payload, created_at
		     FROM agent_decision_log
		     WHERE company_id = $1 AND agent_id = $2 AND thread_id = $3
		     ORDER BY id DESC
		     LIMIT $4
		 ) recent
		 ORDER BY id ASC`,
		id.CompanyID, id.AgentID, id.ThreadID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list decisions: %w", err)
	}
	defer rows.Close()

	var entries []model.DecisionEntry
	for rows.Next() {
		var (
			e   model.DecisionEntry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.DecisionType, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		if e.Payload, err = decodeObject(raw); err != nil {
			return nil, fmt.Errorf("storage: decode decision payload: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list decisions: %w", err)
	}
	return entries, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// encodeObject marshals m for a nullable jsonb parameter. A nil map encodes
// as SQL NULL so COALESCE keeps the stored value.
func encodeObject(m map[string]any) (*string, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	s := string(raw)
	return &s, nil
}

func decodeObject(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
