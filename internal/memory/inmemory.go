package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/zeus-ia/zeus/internal/model"
	"github.com/zeus-ia/zeus/internal/storage"
)

// InMemoryStore is a process-local Store. It keeps the same semantics as the
// Postgres store: full buffer replacement, partial state upsert and an
// append-only log.
type InMemoryStore struct {
	mu        sync.Mutex
	buffers   map[model.Identity]model.ShortTermBuffer
	states    map[model.Identity]model.OperationalState
	decisions map[model.Identity][]model.DecisionEntry
	nextID    int64

	// FailWrites, when set, is returned by every write. Tests use it to
	// exercise persistence failures.
	FailWrites error
}

// NewInMemoryStore returns an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		buffers:   make(map[model.Identity]model.ShortTermBuffer),
		states:    make(map[model.Identity]model.OperationalState),
		decisions: make(map[model.Identity][]model.DecisionEntry),
	}
}

func (m *InMemoryStore) GetShortTerm(_ context.Context, id model.Identity) (model.ShortTermBuffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.buffers[id]
	if !ok {
		return model.ShortTermBuffer{}, storage.ErrNotFound
	}
	buf.Messages = slices.Clone(buf.Messages)
	return buf, nil
}

func (m *InMemoryStore) UpsertShortTerm(_ context.Context, buf model.ShortTermBuffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	buf.Messages = slices.Clone(buf.Messages)
	m.buffers[buf.Identity] = buf
	return nil
}

func (m *InMemoryStore) GetOperationalState(_ context.Context, id model.Identity) (model.OperationalState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		return model.OperationalState{}, storage.ErrNotFound
	}
	return st, nil
}

func (m *InMemoryStore) UpsertOperationalState(_ context.Context, id model.Identity, u model.StateUpdate, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	st := u.Apply(m.states[id])
	if u.Artifacts != nil {
		st.Artifacts = maps.Clone(u.Artifacts)
	}
	if u.Blocked != nil {
		st.Blocked = maps.Clone(u.Blocked)
	}
	st.UpdatedAt = &at
	m.states[id] = st
	return nil
}

func (m *InMemoryStore) AppendDecision(_ context.Context, id model.Identity, decisionType string, payload map[string]any, at time.Time) (model.DecisionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return model.DecisionEntry{}, m.FailWrites
	}
	if payload == nil {
		payload = map[string]any{}
	}
	m.nextID++
	e := model.DecisionEntry{ID: m.nextID, DecisionType: decisionType, Payload: maps.Clone(payload), CreatedAt: at}
	m.decisions[id] = append(m.decisions[id], e)
	return e, nil
}

func (m *InMemoryStore) ListDecisions(_ context.Context, id model.Identity, limit int) ([]model.DecisionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.decisions[id]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return slices.Clone(all), nil
}
