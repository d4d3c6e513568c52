package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/zeus-ia/zeus/internal/model"
)

const activityColumns = `id, agent_name, action_type, action_description, details, metrics,
	status, priority, user_email, visible_to_client, created_at, updated_at, completed_at`

// CreateActivity inserts a new activity and returns it with its id and
// timestamps populated.
func (db *DB) CreateActivity(ctx context.Context, a model.Activity) (model.Activity, error) {
	out, err := insertActivity(ctx, db.pool, a)
	if err != nil {
		return model.Activity{}, fmt.Errorf("storage: create activity: %w", err)
	}
	return out, nil
}

// CreateActivities inserts batch in one transaction. Either every activity
// is created or none is.
func (db *DB) CreateActivities(ctx context.Context, batch []model.Activity) ([]model.Activity, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: begin create activities: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := make([]model.Activity, 0, len(batch))
	for _, a := range batch {
		created, err := insertActivity(ctx, tx, a)
		if err != nil {
			return nil, fmt.Errorf("storage: create activities: %w", err)
		}
		out = append(out, created)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("storage: commit create activities: %w", err)
	}
	return out, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertActivity(ctx context.Context, q rowQuerier, a model.Activity) (model.Activity, error) {
	details, err := encodeObjectOrEmpty(a.Details)
	if err != nil {
		return model.Activity{}, fmt.Errorf("encode details: %w", err)
	}
	metrics, err := encodeObjectOrEmpty(a.Metrics)
	if err != nil {
		return model.Activity{}, fmt.Errorf("encode metrics: %w", err)
	}
	if a.Status == "" {
		a.Status = model.ActivityPending
	}
	if a.Priority == "" {
		a.Priority = model.PriorityNormal
	}

	row := q.QueryRow(ctx,
		`INSERT INTO agent_activities
		     (agent_name, action_type, action_description, details, metrics,
		      status, priority, user_email, visible_to_client, completed_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, $8, $9, $10)
		 RETURNING `+activityColumns,
		a.AgentName, a.ActionType, a.ActionDescription, details, metrics,
		string(a.Status), string(a.Priority), a.UserEmail, a.VisibleToClient, a.CompletedAt,
	)
	return scanActivity(row)
}

// GetActivity returns one activity by id, or ErrNotFound.
func (db *DB) GetActivity(ctx context.Context, id int64) (model.Activity, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+activityColumns+` FROM agent_activities WHERE id = $1`, id)
	a, err := scanActivity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Activity{}, ErrNotFound
	}
	if err != nil {
		return model.Activity{}, fmt.Errorf("storage: get activity: %w", err)
	}
	return a, nil
}

// ClaimActivity moves a pending activity to in_progress and returns it.
// Exactly one caller wins; the others get ErrConflict. An unknown id gives
// ErrNotFound.
func (db *DB) ClaimActivity(ctx context.Context, id int64) (model.Activity, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE agent_activities
		 SET status = 'in_progress', updated_at = now()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+activityColumns, id)
	a, err := scanActivity(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Activity{}, fmt.Errorf("storage: claim activity: %w", err)
	}

	var exists bool
	if err := db.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM agent_activities WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return model.Activity{}, fmt.Errorf("storage: claim activity: %w", err)
	}
	if !exists {
		return model.Activity{}, ErrNotFound
	}
	return model.Activity{}, ErrConflict
}

// CompleteActivity writes the single terminal transition of an in_progress
// activity. Returns ErrConflict if the row is not in_progress.
func (db *DB) CompleteActivity(ctx context.Context, id int64, c model.ActivityCompletion) (model.Activity, error) {
	if !c.Status.IsTerminal() {
		return model.Activity{}, fmt.Errorf("storage: complete activity: status %q is not terminal", c.Status)
	}
	details, err := encodeObjectOrEmpty(c.Details)
	if err != nil {
		return model.Activity{}, fmt.Errorf("storage: encode activity details: %w", err)
	}
	metrics, err := encodeObjectOrEmpty(c.Metrics)
	if err != nil {
		return model.Activity{}, fmt.Errorf("storage: encode activity metrics: %w", err)
	}

	row := db.pool.QueryRow(ctx,
		`UPDATE agent_activities
		 SET status = $2, details = $3::jsonb, metrics = $4::jsonb,
		     completed_at = $5, updated_at = now()
		 WHERE id = $1 AND status = 'in_progress'
		 RETURNING `+activityColumns,
		id, string(c.Status), details, metrics, c.CompletedAt,
	)
	a, err := scanActivity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Activity{}, ErrConflict
	}
	if err != nil {
		return model.Activity{}, fmt.Errorf("storage: complete activity: %w", err)
	}
	return a, nil
}

// ListActivities returns activities matching f, newest first.
func (db *DB) ListActivities(ctx context.Context, f model.ActivityFilter) ([]model.Activity, error) {
	var (
		conds []string
		args  []any
	)
	if f.AgentName != "" {
		args = append(args, f.AgentName)
		conds = append(conds, fmt.Sprintf("agent_name = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.UserEmail != "" {
		args = append(args, f.UserEmail)
		conds = append(conds, fmt.Sprintf("user_email = $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	query := `SELECT ` + activityColumns + ` FROM agent_activities`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	return db.queryActivities(ctx, query, args...)
}

// ListPendingActivities returns up to limit pending activities, oldest first.
func (db *DB) ListPendingActivities(ctx context.Context, limit int) ([]model.Activity, error) {
	return db.queryActivities(ctx,
		`SELECT `+activityColumns+` FROM agent_activities
		 WHERE status = 'pending'
		 ORDER BY created_at ASC, id ASC
		 LIMIT $1`, limit)
}

// ActivityExists reports whether an activity of actionType for agentName and
// userEmail carries details.phase = phase.
func (db *DB) ActivityExists(ctx context.Context, agentName, actionType, userEmail, phase string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS(
		     SELECT 1 FROM agent_activities
		     WHERE agent_name = $1 AND action_type = $2 AND user_email = $3
		       AND details->>'phase' = $4)`,
		agentName, actionType, userEmail, phase,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: activity exists: %w", err)
	}
	return exists, nil
}

// SummarizeActivities returns per-agent status counts. An empty agentName
// summarizes every agent.
func (db *DB) SummarizeActivities(ctx context.Context, agentName, userEmail string) ([]model.AgentActivitySummary, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT agent_name, status, count(*), max(created_at)
		 FROM agent_activities
		 WHERE ($1 = '' OR agent_name = $1) AND ($2 = '' OR user_email = $2)
		 GROUP BY agent_name, status
		 ORDER BY agent_name, status`,
		agentName, userEmail,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: summarize activities: %w", err)
	}
	defer rows.Close()

	var (
		out   []model.AgentActivitySummary
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			agent, status string
			count         int
			last          time.Time
		)
		if err := rows.Scan(&agent, &status, &count, &last); err != nil {
			return nil, fmt.Errorf("storage: scan activity summary: %w", err)
		}
		i, ok := index[agent]
		if !ok {
			out = append(out, model.AgentActivitySummary{
				AgentName: agent,
				ByStatus:  map[model.ActivityStatus]int{},
			})
			i = len(out) - 1
			index[agent] = i
		}
		s := &out[i]
		s.Total += count
		s.ByStatus[model.ActivityStatus(status)] = count
		if s.LastActivity == nil || last.After(*s.LastActivity) {
			l := last
			s.LastActivity = &l
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: summarize activities: %w", err)
	}
	return out, nil
}

func (db *DB) queryActivities(ctx context.Context, query string, args ...any) ([]model.Activity, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list activities: %w", err)
	}
	defer rows.Close()

	var out []model.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan activity: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list activities: %w", err)
	}
	return out, nil
}

func scanActivity(row pgx.Row) (model.Activity, error) {
	var (
		a                model.Activity
		details, metrics []byte
		status, priority string
	)
	if err := row.Scan(
		&a.ID, &a.AgentName, &a.ActionType, &a.ActionDescription, &details, &metrics,
		&status, &priority, &a.UserEmail, &a.VisibleToClient, &a.CreatedAt, &a.UpdatedAt, &a.CompletedAt,
	); err != nil {
		return model.Activity{}, err
	}
	a.Status = model.ActivityStatus(status)
	a.Priority = model.Priority(priority)

	var err error
	if a.Details, err = decodeObject(details); err != nil {
		return model.Activity{}, fmt.Errorf("decode details: %w", err)
	}
	if a.Metrics, err = decodeObject(metrics); err != nil {
		return model.Activity{}, fmt.Errorf("decode metrics: %w", err)
	}
	if a.Details == nil {
		a.Details = map[string]any{}
	}
	if a.Metrics == nil {
		a.Metrics = map[string]any{}
	}
	return a, nil
}

func encodeObjectOrEmpty(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
