package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// MutationAuditEntry is an append-only audit event for a state-changing API call.
type MutationAuditEntry struct {
	RequestID    string
	CompanyID    string
	Actor        string
	ActorRole    string
	HTTPMethod   string
	Endpoint     string
	Operation    string
	ResourceType string
	ResourceID   string
	BeforeData   any
	AfterData    any
	Metadata     map[string]any
}

// InsertMutationAudit appends a mutation audit event.
func (db *DB) InsertMutationAudit(ctx context.Context, e MutationAuditEntry) error {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}

	before, err := marshalNullable(e.BeforeData)
	if err != nil {
		return fmt.Errorf("storage: marshal mutation audit before_data: %w", err)
	}
	after, err := marshalNullable(e.AfterData)
	if err != nil {
		return fmt.Errorf("storage: marshal mutation audit after_data: %w", err)
	}
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("storage: marshal mutation audit metadata: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO mutation_audit_log (
		     request_id, company_id, actor, actor_role,
		     http_method, endpoint, operation, resource_type, resource_id,
		     before_data, after_data, metadata
		 )
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11::jsonb, $12::jsonb)`,
		e.RequestID, e.CompanyID, e.Actor, e.ActorRole,
		e.HTTPMethod, e.Endpoint, e.Operation, e.ResourceType, e.ResourceID,
		before, after, string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("storage: insert mutation audit: %w", err)
	}
	return nil
}

func marshalNullable(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(raw)
	return &s, nil
}
