package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeus-ia/zeus/internal/memory"
	"github.com/zeus-ia/zeus/internal/model"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newService(t *testing.T) (*memory.Service, *memory.InMemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.NewInMemoryStore()
	return memory.NewService(store, memory.WithClock(clock.Now)), store, clock
}

func TestLoadMissingIdentityReturnsEmpty(t *testing.T) {
	t.Parallel()
	svc, _, _ := newService(t)

	mem, err := svc.Load(context.Background(), model.NewIdentity("acme", "PERSEO", "nobody"))
	require.NoError(t, err)
	assert.Empty(t, mem.ShortTerm)
	assert.NotNil(t, mem.ShortTerm)
	assert.Equal(t, model.OperationalState{}, mem.Operational)
	assert.Empty(t, mem.Decisions)
}

func TestShortTermTTL(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    int
	}{
		{"fresh at +5h", 5 * time.Hour, 2},
		{"expired at +7h", 7 * time.Hour, 0},
		{"expired exactly at +6h", 6 * time.Hour, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc, _, clock := newService(t)
			ctx := context.Background()
			id := model.NewIdentity("acme", "PERSEO", "t1")
			msgs := []model.Message{
				{Role: model.MessageRoleUser, Content: "Hola"},
				{Role: model.MessageRoleAssistant, Content: "Buenas"},
			}
			require.NoError(t, svc.PersistShortTerm(ctx, id, msgs))

			clock.t = clock.t.Add(tt.elapsed)
			mem, err := svc.Load(ctx, id)
			require.NoError(t, err)
			assert.Len(t, mem.ShortTerm, tt.want)
			if tt.want > 0 {
				assert.Equal(t, msgs, mem.ShortTerm)
			}
		})
	}
}

func TestPersistShortTermSlidesTTL(t *testing.T) {
	t.Parallel()
	svc, _, clock := newService(t)
	ctx := context.Background()
	id := model.NewIdentity("acme", "PERSEO", "t1")

	require.NoError(t, svc.PersistShortTerm(ctx, id, []model.Message{{Role: model.MessageRoleUser, Content: "a"}}))
	clock.t = clock.t.Add(5 * time.Hour)
	require.NoError(t, svc.PersistShortTerm(ctx, id, []model.Message{{Role: model.MessageRoleUser, Content: "b"}}))
	clock.t = clock.t.Add(5 * time.Hour)

	mem, err := svc.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, mem.ShortTerm, 1)
	assert.Equal(t, "b", mem.ShortTerm[0].Content, "buffer is replaced, not appended")
}

func TestOperationalStatePartialUpsert(t *testing.T) {
	t.Parallel()
	svc, _, _ := newService(t)
	ctx := context.Background()
	id := model.NewIdentity("c", "a", "t")
	task, blocked := "X", "blocked"

	require.NoError(t, svc.PersistOperationalState(ctx, id, model.StateUpdate{CurrentTask: &task}))
	require.NoError(t, svc.PersistOperationalState(ctx, id, model.StateUpdate{Status: &blocked}))

	mem, err := svc.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "X", mem.Operational.CurrentTask)
	assert.Equal(t, "blocked", mem.Operational.Status)
	assert.NotNil(t, mem.Operational.UpdatedAt)
}

func TestDecisionLogAppendOnlyGrowth(t *testing.T) {
	t.Parallel()
	svc, _, _ := newService(t)
	ctx := context.Background()
	id := model.NewIdentity("acme", "rafael", "")

	const n = 5
	for i := range n {
		_, err := svc.AppendDecisionLog(ctx, id, model.DecisionChatResponse, map[string]any{"i": i})
		require.NoError(t, err)
	}

	entries, err := svc.LoadDecisions(ctx, model.NewIdentity("acme", "RAFAEL", "main"), 0)
	require.NoError(t, err)
	require.Len(t, entries, n)
	for i, e := range entries {
		assert.Equal(t, i, e.Payload["i"])
		assert.Equal(t, int64(i+1), e.ID)
	}
}

func TestLoadKeepsOnlyRecentDecisions(t *testing.T) {
	t.Parallel()
	svc, _, _ := newService(t)
	ctx := context.Background()
	id := model.NewIdentity("acme", "ZEUS", "main")

	for i := range model.DecisionLogWindow + 5 {
		_, err := svc.AppendDecisionLog(ctx, id, model.DecisionWorkspaceExecution, map[string]any{"i": i})
		require.NoError(t, err)
	}
	mem, err := svc.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, mem.Decisions, model.DecisionLogWindow)
	assert.Equal(t, 5, mem.Decisions[0].Payload["i"])
}

func TestThreadsAreIsolated(t *testing.T) {
	t.Parallel()
	svc, _, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.PersistShortTerm(ctx, model.NewIdentity("acme", "PERSEO", "t1"),
		[]model.Message{{Role: model.MessageRoleUser, Content: "secret"}}))

	for _, other := range []model.Identity{
		model.NewIdentity("acme", "PERSEO", "t2"),
		model.NewIdentity("globex", "PERSEO", "t1"),
		model.NewIdentity("acme", "RAFAEL", "t1"),
	} {
		mem, err := svc.Load(ctx, other)
		require.NoError(t, err)
		assert.Empty(t, mem.ShortTerm, other.String())
	}
}

func TestWriteFailuresPropagate(t *testing.T) {
	t.Parallel()
	svc, store, _ := newService(t)
	ctx := context.Background()
	boom := errors.New("disk full")
	store.FailWrites = boom
	id := model.NewIdentity("acme", "PERSEO", "t1")

	assert.ErrorIs(t, svc.PersistShortTerm(ctx, id, nil), boom)
	assert.ErrorIs(t, svc.PersistOperationalState(ctx, id, model.StateUpdate{}), boom)
	_, err := svc.AppendDecisionLog(ctx, id, model.DecisionChatError, nil)
	assert.ErrorIs(t, err, boom)
}
