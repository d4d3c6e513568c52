// Package recall stores and retrieves long-term agent memory.
//
// Entries live in agent_long_term_memory. Retrieval prefers the Qdrant index,
// then pgvector cosine distance, then recency, depending on what is
// configured.
package recall

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/zeus-ia/zeus/internal/model"
	"github.com/zeus-ia/zeus/internal/search"
	"github.com/zeus-ia/zeus/internal/service/embedding"
	"github.com/zeus-ia/zeus/internal/telemetry"
)

const (
	defaultLimit = 3
	maxLimit     = 50
)

// Store is the long-term persistence recall needs. storage.DB implements it.
type Store interface {
	InsertLongTerm(ctx context.Context, e model.LongTermEntry, embedding *pgvector.Vector) (model.LongTermEntry, error)
	SearchLongTermByEmbedding(ctx context.Context, companyID, agentID string, embedding pgvector.Vector, limit int) ([]model.LongTermEntry, error)
	RecentLongTerm(ctx context.Context, companyID, agentID string, limit int) ([]model.LongTermEntry, error)
	GetLongTermByIDs(ctx context.Context, companyID string, ids []uuid.UUID) (map[uuid.UUID]model.LongTermEntry, error)
}

// Service implements Remember and Recall.
type Service struct {
	store    Store
	embedder embedding.Provider
	index    search.Index
	logger   *slog.Logger

	recallDuration metric.Float64Histogram
}

// New creates a recall service. index may be nil when Qdrant is not
// configured.
func New(store Store, embedder embedding.Provider, index search.Index, logger *slog.Logger) *Service {
	meter := telemetry.Meter("zeus/recall")
	dur, _ := meter.Float64Histogram("zeus.recall.duration",
		metric.WithDescription("Time to recall long-term memory (ms)"),
		metric.WithUnit("ms"),
	)
	return &Service{store: store, embedder: embedder, index: index, logger: logger, recallDuration: dur}
}

func (s *Service) semantic() bool {
	return !embedding.IsNoop(s.embedder)
}

// Remember stores content as a long-term entry for id. The embedding is
// best-effort: when it fails the entry is stored without one and is only
// reachable by recency.
func (s *Service) Remember(ctx context.Context, id model.Identity, kind, content string) (model.LongTermEntry, error) {
	id = model.NewIdentity(id.CompanyID, id.AgentID, id.ThreadID)
	var vec *pgvector.Vector
	if s.semantic() {
		v, err := s.embedder.Embed(ctx, content)
		if err != nil {
			s.logger.Warn("recall: embedding failed, storing without vector", "error", err, "identity", id.String())
		} else {
			vec = &v
		}
	}

	entry, err := s.store.InsertLongTerm(ctx, model.LongTermEntry{
		Identity: id,
		Kind:     kind,
		Content:  content,
	}, vec)
	if err != nil {
		return model.LongTermEntry{}, fmt.Errorf("recall: remember: %w", err)
	}

	if s.index != nil && vec != nil {
		pointID, _ := uuid.Parse(entry.ID)
		if err := s.index.Upsert(ctx, []search.Point{{
			ID:        pointID,
			CompanyID: id.CompanyID,
			AgentID:   id.AgentID,
			Kind:      kind,
			CreatedAt: entry.CreatedAt,
			Embedding: vec.Slice(),
		}}); err != nil {
			s.logger.Warn("recall: index upsert failed", "error", err, "entry_id", entry.ID)
		}
	}
	return entry, nil
}

// Recall returns up to limit entries of id's company and agent related to
// query. An empty query returns the most recent entries.
func (s *Service) Recall(ctx context.Context, id model.Identity, query string, limit int) ([]model.LongTermEntry, error) {
	id = model.NewIdentity(id.CompanyID, id.AgentID, id.ThreadID)
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	start := time.Now()
	mode := "recent"
	defer func() {
		s.recallDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("mode", mode)))
	}()

	if strings.TrimSpace(query) == "" || !s.semantic() {
		return s.recent(ctx, id, limit)
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("recall: query embedding failed, falling back to recency", "error", err)
		return s.recent(ctx, id, limit)
	}

	if s.index != nil {
		entries, err := s.fromIndex(ctx, id, vec, limit)
		if err == nil {
			mode = "qdrant"
			return entries, nil
		}
		s.logger.Warn("recall: qdrant search failed, falling back to pgvector", "error", err)
	}

	mode = "pgvector"
	entries, err := s.store.SearchLongTermByEmbedding(ctx, id.CompanyID, id.AgentID, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("recall: search: %w", err)
	}
	return nonNil(entries), nil
}

func (s *Service) recent(ctx context.Context, id model.Identity, limit int) ([]model.LongTermEntry, error) {
	entries, err := s.store.RecentLongTerm(ctx, id.CompanyID, id.AgentID, limit)
	if err != nil {
		return nil, fmt.Errorf("recall: recent: %w", err)
	}
	return nonNil(entries), nil
}

// fromIndex searches Qdrant and hydrates the hits from Postgres in score
// order. Hits without a row (deleted or another company) are dropped.
func (s *Service) fromIndex(ctx context.Context, id model.Identity, vec pgvector.Vector, limit int) ([]model.LongTermEntry, error) {
	hits, err := s.index.Search(ctx, search.Filter{CompanyID: id.CompanyID, AgentID: id.AgentID}, vec.Slice(), limit)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	rows, err := s.store.GetLongTermByIDs(ctx, id.CompanyID, ids)
	if err != nil {
		return nil, err
	}

	out := make([]model.LongTermEntry, 0, len(hits))
	for _, h := range hits {
		e, ok := rows[h.ID]
		if !ok || e.Identity.AgentID != id.AgentID {
			continue
		}
		e.Score = float64(h.Score)
		out = append(out, e)
	}
	return out, nil
}

func nonNil(entries []model.LongTermEntry) []model.LongTermEntry {
	if entries == nil {
		return []model.LongTermEntry{}
	}
	return entries
}
