// Package memory implements the agent memory contract: a TTL-bounded
// short-term conversation buffer, an operational-state snapshot and an
// append-only decision log, all keyed by the (company, agent, thread)
// identity tuple.
package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeus-ia/zeus/internal/model"
	"github.com/zeus-ia/zeus/internal/storage"
)

// Store is the persistence backend. storage.DB implements it against
// Postgres; InMemoryStore implements it for tests and local runs.
//
// Get methods return storage.ErrNotFound for a tuple that was never written.
type Store interface {
	GetShortTerm(ctx context.Context, id model.Identity) (model.ShortTermBuffer, error)
	UpsertShortTerm(ctx context.Context, buf model.ShortTermBuffer) error
	GetOperationalState(ctx context.Context, id model.Identity) (model.OperationalState, error)
	UpsertOperationalState(ctx context.Context, id model.Identity, u model.StateUpdate, at time.Time) error
	AppendDecision(ctx context.Context, id model.Identity, decisionType string, payload map[string]any, at time.Time) (model.DecisionEntry, error)
	ListDecisions(ctx context.Context, id model.Identity, limit int) ([]model.DecisionEntry, error)
}

// Service applies identity normalization and the TTL clock on top of a Store.
type Service struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source. Tests use it to age buffers.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTTL overrides the short-term buffer lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// NewService creates a memory service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, ttl: model.ShortTermTTL, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func normalize(id model.Identity) model.Identity {
	return model.NewIdentity(id.CompanyID, id.AgentID, id.ThreadID)
}

// Load returns everything stored for id. A missing tuple yields empty
// structures, and an expired buffer is treated as absent.
func (s *Service) Load(ctx context.Context, id model.Identity) (model.Memory, error) {
	id = normalize(id)
	mem := model.Memory{ShortTerm: []model.Message{}, Decisions: []model.DecisionEntry{}}

	buf, err := s.store.GetShortTerm(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return model.Memory{}, fmt.Errorf("memory: load short-term: %w", err)
	case !buf.Expired(s.now()):
		mem.ShortTerm = append(mem.ShortTerm, buf.Messages...)
	}

	st, err := s.store.GetOperationalState(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return model.Memory{}, fmt.Errorf("memory: load operational state: %w", err)
	default:
		mem.Operational = st
	}

	decisions, err := s.store.ListDecisions(ctx, id, model.DecisionLogWindow)
	if err != nil {
		return model.Memory{}, fmt.Errorf("memory: load decisions: %w", err)
	}
	mem.Decisions = append(mem.Decisions, decisions...)
	return mem, nil
}

// PersistShortTerm replaces the whole buffer for id and slides its expiry to
// now + TTL. Callers build the full message list before calling.
func (s *Service) PersistShortTerm(ctx context.Context, id model.Identity, messages []model.Message) error {
	now := s.now()
	buf := model.ShortTermBuffer{
		Identity:  normalize(id),
		Messages:  messages,
		ExpiresAt: now.Add(s.ttl),
		UpdatedAt: now,
	}
	if err := s.store.UpsertShortTerm(ctx, buf); err != nil {
		return fmt.Errorf("memory: persist short-term: %w", err)
	}
	return nil
}

// PersistOperationalState writes only the non-nil fields of u.
func (s *Service) PersistOperationalState(ctx context.Context, id model.Identity, u model.StateUpdate) error {
	if err := s.store.UpsertOperationalState(ctx, normalize(id), u, s.now()); err != nil {
		return fmt.Errorf("memory: persist operational state: %w", err)
	}
	return nil
}

// AppendDecisionLog inserts one decision-log entry.
func (s *Service) AppendDecisionLog(ctx context.Context, id model.Identity, decisionType string, payload map[string]any) (model.DecisionEntry, error) {
	entry, err := s.store.AppendDecision(ctx, normalize(id), decisionType, payload, s.now())
	if err != nil {
		return model.DecisionEntry{}, fmt.Errorf("memory: append decision log: %w", err)
	}
	return entry, nil
}

// LoadDecisions returns the most recent limit entries in chronological order.
func (s *Service) LoadDecisions(ctx context.Context, id model.Identity, limit int) ([]model.DecisionEntry, error) {
	if limit <= 0 {
		limit = model.DecisionLogWindow
	}
	entries, err := s.store.ListDecisions(ctx, normalize(id), limit)
	if err != nil {
		return nil, fmt.Errorf("memory: load decisions: %w", err)
	}
	return entries, nil
}
