// Package search indexes long-term agent memory in an external vector store.
// Postgres stays the source of truth: the index returns ids and scores, and
// callers hydrate the entries from agent_long_term_memory.
package search

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Result is an entry id and its raw similarity score.
type Result struct {
	ID    uuid.UUID
	Score float32
}

// Point is one long-term entry as stored in the index.
type Point struct {
	ID        uuid.UUID
	CompanyID string
	AgentID   string
	Kind      string
	CreatedAt time.Time
	Embedding []float32
}

// Index is a vector index scoped by company and agent. Implementations must
// be safe for concurrent use.
type Index interface {
	Search(ctx context.Context, f Filter, embedding []float32, limit int) ([]Result, error)
	Upsert(ctx context.Context, points []Point) error
	Healthy(ctx context.Context) error
}

// Filter is the tenant scope of a search. The company is always applied;
// an empty agent searches every agent of the company.
type Filter struct {
	CompanyID string
	AgentID   string
	Kind      string
}

// fields returns the payload matches the filter requires, in order.
func (f Filter) fields() [][2]string {
	out := [][2]string{{"company_id", f.CompanyID}}
	if f.AgentID != "" {
		out = append(out, [2]string{"agent_id", f.AgentID})
	}
	if f.Kind != "" {
		out = append(out, [2]string{"kind", f.Kind})
	}
	return out
}
