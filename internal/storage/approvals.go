package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/zeus-ia/zeus/internal/model"
)

const approvalColumns = `id, company_id, agent_id, thread_id, summary, reason, status,
	decided_by, created_at, decided_at`

// InsertApproval stores a pending HITL request.
func (db *DB) InsertApproval(ctx context.Context, r model.ApprovalRequest) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO hitl_requests (id, company_id, agent_id, thread_id, summary, reason, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.Identity.CompanyID, r.Identity.AgentID, r.Identity.ThreadID,
		r.Summary, r.Reason, string(r.Status), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert approval: %w", err)
	}
	return nil
}

// ListPendingApprovals returns a company's pending requests, oldest first.
func (db *DB) ListPendingApprovals(ctx context.Context, companyID string, limit int) ([]model.ApprovalRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+approvalColumns+` FROM hitl_requests
		 WHERE company_id = $1 AND status = 'pending'
		 ORDER BY created_at ASC
		 LIMIT $2`, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list approvals: %w", err)
	}
	defer rows.Close()

	var out []model.ApprovalRequest
	for rows.Next() {
		r, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan approval: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list approvals: %w", err)
	}
	return out, nil
}

// DecideApproval moves a pending request in companyID to status. It returns
// ErrNotFound for an unknown id and ErrConflict when the request was already
// decided.
func (db *DB) DecideApproval(
	ctx context.Context,
	companyID string,
	id uuid.UUID,
	status model.ApprovalStatus,
	decidedBy string,
	at time.Time,
) (model.ApprovalRequest, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE hitl_requests
		 SET status = $3, decided_by = $4, decided_at = $5
		 WHERE id = $1 AND company_id = $2 AND status = 'pending'
		 RETURNING `+approvalColumns,
		id, companyID, string(status), decidedBy, at,
	)
	r, err := scanApproval(row)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.ApprovalRequest{}, fmt.Errorf("storage: decide approval: %w", err)
	}

	var exists bool
	if err := db.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM hitl_requests WHERE id = $1 AND company_id = $2)`, id, companyID,
	).Scan(&exists); err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("storage: decide approval: %w", err)
	}
	if !exists {
		return model.ApprovalRequest{}, ErrNotFound
	}
	return model.ApprovalRequest{}, ErrConflict
}

func scanApproval(row pgx.Row) (model.ApprovalRequest, error) {
	var (
		r         model.ApprovalRequest
		status    string
		decidedBy *string
	)
	if err := row.Scan(
		&r.ID, &r.Identity.CompanyID, &r.Identity.AgentID, &r.Identity.ThreadID,
		&r.Summary, &r.Reason, &status, &decidedBy, &r.CreatedAt, &r.DecidedAt,
	); err != nil {
		return model.ApprovalRequest{}, err
	}
	r.Status = model.ApprovalStatus(status)
	r.DecidedBy = deref(decidedBy)
	return r, nil
}
