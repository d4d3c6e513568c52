package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/zeus-ia/zeus/internal/model"
)

// InsertLongTerm stores a long-term memory entry. A nil embedding is stored
// as NULL and the entry is only reachable through recency recall.
func (db *DB) InsertLongTerm(ctx context.Context, e model.LongTermEntry, embedding *pgvector.Vector) (model.LongTermEntry, error) {
	id := uuid.New()
	if e.ID != "" {
		parsed, err := uuid.Parse(e.ID)
		if err != nil {
			return model.LongTermEntry{}, fmt.Errorf("storage: insert long-term entry: invalid id: %w", err)
		}
		id = parsed
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO agent_long_term_memory (id, company_id, agent_id, thread_id, kind, content, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		id, e.Identity.CompanyID, e.Identity.AgentID, e.Identity.ThreadID, e.Kind, e.Content, embedding,
	).Scan(&e.CreatedAt)
	if err != nil {
		return model.LongTermEntry{}, fmt.Errorf("storage: insert long-term entry: %w", err)
	}
	e.ID = id.String()
	return e, nil
}

// SearchLongTermByEmbedding ranks a company/agent's entries by cosine
// similarity to embedding.
func (db *DB) SearchLongTermByEmbedding(ctx context.Context, companyID, agentID string, embedding pgvector.Vector, limit int) ([]model.LongTermEntry, error) {
	return db.queryLongTerm(ctx,
		`SELECT id, company_id, agent_id, thread_id, kind, content, created_at,
		        1 - (embedding <=> $3) AS score
		 FROM agent_long_term_memory
		 WHERE company_id = $1 AND agent_id = $2 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $3
		 LIMIT $4`,
		companyID, agentID, embedding, limit)
}

// RecentLongTerm returns a company/agent's newest entries.
func (db *DB) RecentLongTerm(ctx context.Context, companyID, agentID string, limit int) ([]model.LongTermEntry, error) {
	return db.queryLongTerm(ctx,
		`SELECT id, company_id, agent_id, thread_id, kind, content, created_at, 0::float8 AS score
		 FROM agent_long_term_memory
		 WHERE company_id = $1 AND agent_id = $2
		 ORDER BY created_at DESC
		 LIMIT $3`,
		companyID, agentID, limit)
}

// GetLongTermByIDs hydrates entries found through an external index. Rows of
// other companies are never returned.
func (db *DB) GetLongTermByIDs(ctx context.Context, companyID string, ids []uuid.UUID) (map[uuid.UUID]model.LongTermEntry, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]model.LongTermEntry{}, nil
	}
	entries, err := db.queryLongTerm(ctx,
		`SELECT id, company_id, agent_id, thread_id, kind, content, created_at, 0::float8 AS score
		 FROM agent_long_term_memory
		 WHERE company_id = $1 AND id = ANY($2)`,
		companyID, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]model.LongTermEntry, len(entries))
	for _, e := range entries {
		out[uuid.MustParse(e.ID)] = e
	}
	return out, nil
}

func (db *DB) queryLongTerm(ctx context.Context, query string, args ...any) ([]model.LongTermEntry, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query long-term memory: %w", err)
	}
	defer rows.Close()

	var out []model.LongTermEntry
	for rows.Next() {
		var (
			e  model.LongTermEntry
			id uuid.UUID
		)
		if err := rows.Scan(&id, &e.Identity.CompanyID, &e.Identity.AgentID, &e.Identity.ThreadID,
			&e.Kind, &e.Content, &e.CreatedAt, &e.Score); err != nil {
			return nil, fmt.Errorf("storage: scan long-term entry: %w", err)
		}
		e.ID = id.String()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: query long-term memory: %w", err)
	}
	return out, nil
}
