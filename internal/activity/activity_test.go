package activity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeus-ia/zeus/internal/agent"
	"github.com/zeus-ia/zeus/internal/events"
	"github.com/zeus-ia/zeus/internal/model"
	"github.com/zeus-ia/zeus/internal/storage"
)

var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// memStore is an in-memory Store with the same claim and completion
// semantics as the Postgres implementation.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]model.Activity
	// failBatchAt makes CreateActivities fail at that index when > 0.
	failBatchAt int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[int64]model.Activity)}
}

func (m *memStore) insert(a model.Activity) model.Activity {
	m.nextID++
	a.ID = m.nextID
	if a.Status == "" {
		a.Status = model.ActivityPending
	}
	if a.Priority == "" {
		a.Priority = model.PriorityNormal
	}
	a.CreatedAt = testNow
	a.UpdatedAt = testNow
	m.rows[a.ID] = a
	return a
}

func (m *memStore) CreateActivity(_ context.Context, a model.Activity) (model.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insert(a), nil
}

func (m *memStore) CreateActivities(_ context.Context, batch []model.Activity) ([]model.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failBatchAt > 0 && m.failBatchAt < len(batch) {
		return nil, errors.New("insert failed")
	}
	out := make([]model.Activity, 0, len(batch))
	for _, a := range batch {
		out = append(out, m.insert(a))
	}
	return out, nil
}

func (m *memStore) GetActivity(_ context.Context, id int64) (model.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return model.Activity{}, storage.ErrNotFound
	}
	return a, nil
}

func (m *memStore) ClaimActivity(_ context.Context, id int64) (model.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return model.Activity{}, storage.ErrNotFound
	}
	if a.Status != model.ActivityPending {
		return model.Activity{}, storage.ErrConflict
	}
	a.Status = model.ActivityInProgress
	m.rows[id] = a
	return a, nil
}

func (m *memStore) CompleteActivity(_ context.Context, id int64, c model.ActivityCompletion) (model.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return model.Activity{}, storage.ErrNotFound
	}
	if a.Status != model.ActivityInProgress {
		return model.Activity{}, storage.ErrConflict
	}
	a.Status = c.Status
	a.Details = c.Details
	a.Metrics = c.Metrics
	a.CompletedAt = c.CompletedAt
	m.rows[id] = a
	return a, nil
}

func (m *memStore) ListActivities(_ context.Context, f model.ActivityFilter) ([]model.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Activity
	for _, a := range m.rows {
		if f.AgentName != "" && a.AgentName != f.AgentName {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.UserEmail != "" && a.UserEmail != f.UserEmail {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) ListPendingActivities(ctx context.Context, limit int) ([]model.Activity, error) {
	list, _ := m.ListActivities(ctx, model.ActivityFilter{Status: model.ActivityPending})
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *memStore) SummarizeActivities(ctx context.Context, agentName, userEmail string) ([]model.AgentActivitySummary, error) {
	list, _ := m.ListActivities(ctx, model.ActivityFilter{AgentName: agentName, UserEmail: userEmail})
	byAgent := map[string]*model.AgentActivitySummary{}
	for _, a := range list {
		s, ok := byAgent[a.AgentName]
		if !ok {
			s = &model.AgentActivitySummary{AgentName: a.AgentName, ByStatus: map[model.ActivityStatus]int{}}
			byAgent[a.AgentName] = s
		}
		s.Total++
		s.ByStatus[a.Status]++
	}
	var out []model.AgentActivitySummary
	for _, s := range byAgent {
		out = append(out, *s)
	}
	return out, nil
}

func (m *memStore) ActivityExists(_ context.Context, agentName, actionType, userEmail, phase string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.rows {
		if a.AgentName == agentName && a.ActionType == actionType && a.UserEmail == userEmail && a.Details["phase"] == phase {
			return true, nil
		}
	}
	return false, nil
}

type runnerFunc func(ctx context.Context, a model.Activity) (model.HandlerResult, error)

func (f runnerFunc) RunWorkspaceTask(ctx context.Context, a model.Activity) (model.HandlerResult, error) {
	return f(ctx, a)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ActivityEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e events.ActivityEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) statuses() []model.ActivityStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.ActivityStatus, len(p.events))
	for i, e := range p.events {
		out[i] = e.Status
	}
	return out
}

func newTestService(store Store, run runnerFunc, pub events.Publisher) *Service {
	svc := NewService(store, run, pub, testLogger())
	svc.now = func() time.Time { return testNow }
	return svc
}

func ptr(s string) *string { return &s }

func TestSubmitAsyncLeavesPending(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	var ran atomic.Int32
	svc := newTestService(store, func(context.Context, model.Activity) (model.HandlerResult, error) {
		ran.Add(1)
		return model.HandlerResult{}, nil
	}, nil)

	resp, err := svc.Submit(context.Background(), SubmitRequest{
		Agent:      " perseo ",
		ActionType: "campaign_created",
		Payload:    map[string]any{"budget": 500},
		UserEmail:  "ana@acme.test",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ActivityPending, resp.Status)
	assert.Nil(t, resp.ExecutedHandler)
	assert.Zero(t, ran.Load())

	a, err := svc.Get(context.Background(), resp.ActivityID)
	require.NoError(t, err)
	assert.Equal(t, "PERSEO", a.AgentName)
	assert.Equal(t, "PERSEO / campaign_created", a.ActionDescription)
	assert.Equal(t, model.PriorityNormal, a.Priority)
	assert.True(t, a.VisibleToClient)
	assert.Equal(t, 500, a.Details["budget"])
}

func TestSubmitUsesPayloadDescription(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	svc := newTestService(store, nil, nil)

	resp, err := svc.Submit(context.Background(), SubmitRequest{
		Agent:      "RAFAEL",
		ActionType: "invoice_generated",
		Payload:    map[string]any{"description": "Factura marzo"},
		Priority:   model.PriorityHigh,
	})
	require.NoError(t, err)
	a, err := svc.Get(context.Background(), resp.ActivityID)
	require.NoError(t, err)
	assert.Equal(t, "Factura marzo", a.ActionDescription)
	assert.Equal(t, model.PriorityHigh, a.Priority)
}

func TestSubmitRejectsMissingFields(t *testing.T) {
	t.Parallel()
	svc := newTestService(newMemStore(), nil, nil)

	_, err := svc.Submit(context.Background(), SubmitRequest{Agent: "PERSEO"})
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Submit(context.Background(), SubmitRequest{ActionType: "x"})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSubmitSyncExecutes(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	pub := &recordingPublisher{}
	svc := newTestService(store, func(_ context.Context, a model.Activity) (model.HandlerResult, error) {
		assert.Equal(t, model.ActivityInProgress, a.Status)
		return model.HandlerResult{
			Status:          model.HandlerStatusCompleted,
			DetailsUpdate:   map[string]any{"automation": map[string]any{"summary": "ok"}},
			MetricsUpdate:   map[string]any{"assets_generated": 3},
			ExecutedHandler: ptr("PERSEO_LAUNCH_KIT"),
		}, nil
	}, pub)

	resp, err := svc.Submit(context.Background(), SubmitRequest{
		Agent:      "PERSEO",
		ActionType: "task_assigned",
		Payload:    map[string]any{"phase": "pre-launch"},
		Sync:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ActivityExecuted, resp.Status)
	require.NotNil(t, resp.ExecutedHandler)
	assert.Equal(t, "PERSEO_LAUNCH_KIT", *resp.ExecutedHandler)

	a, err := svc.Get(context.Background(), resp.ActivityID)
	require.NoError(t, err)
	assert.Equal(t, model.ActivityExecuted, a.Status)
	require.NotNil(t, a.CompletedAt)
	assert.Equal(t, testNow, *a.CompletedAt)
	assert.Equal(t, "pre-launch", a.Details["phase"])
	assert.Contains(t, a.Details, "automation")
	assert.Equal(t, 3, a.Metrics["assets_generated"])
	assert.Equal(t, "PERSEO_LAUNCH_KIT", a.Metrics["executed_handler"])

	assert.Equal(t, []model.ActivityStatus{
		model.ActivityPending, model.ActivityInProgress, model.ActivityExecuted,
	}, pub.statuses())
}

func TestExecuteStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		result        model.HandlerResult
		wantStatus    model.ActivityStatus
		wantCompleted bool
	}{
		{"completed maps to executed", model.HandlerResult{Status: "completed"}, model.ActivityExecuted, true},
		{"unknown maps to executed", model.HandlerResult{Status: "weird"}, model.ActivityExecuted, true},
		{"internal", model.HandlerResult{Status: "executed_internal", ExecutedHandler: ptr("GENERIC_INTERNAL_HANDLER")}, model.ActivityExecutedInternal, true},
		{"failed", model.HandlerResult{Status: "failed"}, model.ActivityFailed, true},
		{"missing handler", model.HandlerResult{Status: "blocked_missing_handler"}, model.ActivityBlockedMissingHandler, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := newMemStore()
			svc := newTestService(store, func(context.Context, model.Activity) (model.HandlerResult, error) {
				return tt.result, nil
			}, nil)
			a, err := store.CreateActivity(context.Background(), model.Activity{AgentName: "THALOS", ActionType: "x"})
			require.NoError(t, err)

			resp, err := svc.Execute(context.Background(), a.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.Status)

			got, err := svc.Get(context.Background(), a.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantCompleted, got.CompletedAt != nil)
			if tt.result.ExecutedHandler == nil {
				assert.NotContains(t, got.Metrics, "executed_handler")
			}
		})
	}
}

func TestExecuteIsSingleShot(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	var runs atomic.Int32
	svc := newTestService(store, func(context.Context, model.Activity) (model.HandlerResult, error) {
		runs.Add(1)
		return model.HandlerResult{Status: "completed"}, nil
	}, nil)
	a, err := store.CreateActivity(context.Background(), model.Activity{AgentName: "RAFAEL", ActionType: "task_assigned"})
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	var ok, rejected atomic.Int32
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Execute(context.Background(), a.ID)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrNotExecutable):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(callers-1), rejected.Load())
	assert.Equal(t, int32(1), runs.Load())
}

func TestExecuteTerminalActivityIsRejected(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	svc := newTestService(store, func(context.Context, model.Activity) (model.HandlerResult, error) {
		return model.HandlerResult{Status: "blocked_missing_handler"}, nil
	}, nil)
	a, err := store.CreateActivity(context.Background(), model.Activity{AgentName: "THALOS", ActionType: "nonexistent_action"})
	require.NoError(t, err)

	_, err = svc.Execute(context.Background(), a.ID)
	require.NoError(t, err)
	_, err = svc.Execute(context.Background(), a.ID)
	require.ErrorIs(t, err, ErrNotExecutable)
}

// ctxStore fails writes on a done context, as pgx does.
type ctxStore struct{ *memStore }

func (s ctxStore) CompleteActivity(ctx context.Context, id int64, c model.ActivityCompletion) (model.Activity, error) {
	if err := ctx.Err(); err != nil {
		return model.Activity{}, err
	}
	return s.memStore.CompleteActivity(ctx, id, c)
}

func TestExecuteSurvivesCallerCancellation(t *testing.T) {
	t.Parallel()
	store := ctxStore{newMemStore()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := newTestService(store, func(runCtx context.Context, a model.Activity) (model.HandlerResult, error) {
		// The client disconnects while the handler runs.
		cancel()
		if err := runCtx.Err(); err != nil {
			return model.HandlerResult{}, err
		}
		return model.HandlerResult{Status: string(model.ActivityExecuted), ExecutedHandler: ptr("task_assigned")}, nil
	}, nil)

	resp, err := svc.Submit(ctx, SubmitRequest{Agent: "PERSEO", ActionType: "task_assigned", Sync: true})
	require.NoError(t, err)
	assert.Equal(t, model.ActivityExecuted, resp.Status)

	got, err := svc.Get(context.Background(), resp.ActivityID)
	require.NoError(t, err)
	assert.Equal(t, model.ActivityExecuted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestExecuteUnknownActivity(t *testing.T) {
	t.Parallel()
	svc := newTestService(newMemStore(), nil, nil)
	_, err := svc.Execute(context.Background(), 404)
	require.ErrorIs(t, err, storage.ErrNotFound)
	assert.NotErrorIs(t, err, ErrNotExecutable)
}

func TestExecuteRunnerErrorLeavesInProgress(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	boom := errors.New("memory write failed")
	svc := newTestService(store, func(context.Context, model.Activity) (model.HandlerResult, error) {
		return model.HandlerResult{}, boom
	}, nil)
	a, err := store.CreateActivity(context.Background(), model.Activity{AgentName: "JUSTICIA", ActionType: "task_assigned"})
	require.NoError(t, err)

	_, err = svc.Execute(context.Background(), a.ID)
	require.ErrorIs(t, err, boom)

	got, err := svc.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActivityInProgress, got.Status)
	assert.Nil(t, got.CompletedAt)
}

func TestLog(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	svc := newTestService(store, nil, nil)

	a, err := svc.Log(context.Background(), LogRequest{
		LogActivityRequest: model.LogActivityRequest{
			AgentName:         "afrodita",
			ActionType:        "follow_up",
			ActionDescription: "Llamar al cliente del ticket #12",
			VisibleToClient:   true,
		},
		UserEmail: "acme",
	})
	require.NoError(t, err)
	assert.Equal(t, "AFRODITA", a.AgentName)
	assert.Equal(t, model.ActivityPending, a.Status)
	assert.Nil(t, a.CompletedAt)

	pending, err := svc.Pending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)

	failed, err := svc.Log(context.Background(), LogRequest{
		LogActivityRequest: model.LogActivityRequest{
			AgentName:  "AFRODITA",
			ActionType: "ticket_sync",
			Status:     model.ActivityFailed,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.ActivityFailed, failed.Status)
	require.NotNil(t, failed.CompletedAt)
}

func TestLogRejectsStatusesThatSkipAHandler(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	var ran atomic.Int32
	svc := newTestService(store, func(context.Context, model.Activity) (model.HandlerResult, error) {
		ran.Add(1)
		return model.HandlerResult{}, nil
	}, nil)

	for _, status := range []model.ActivityStatus{
		model.ActivityInProgress,
		model.ActivityExecuted,
		model.ActivityExecutedInternal,
		model.ActivityBlockedMissingHandler,
	} {
		t.Run(string(status), func(t *testing.T) {
			_, err := svc.Log(context.Background(), LogRequest{
				LogActivityRequest: model.LogActivityRequest{
					AgentName:  "thalos",
					ActionType: "nonexistent_action",
					Status:     status,
				},
			})
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	list, err := svc.List(context.Background(), model.ActivityFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, ran.Load())
}

func TestListAndSummary(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	svc := newTestService(store, nil, nil)
	ctx := context.Background()

	for _, a := range []model.Activity{
		{AgentName: "PERSEO", ActionType: "a", UserEmail: "x@acme.test"},
		{AgentName: "PERSEO", ActionType: "b", UserEmail: "x@acme.test", Status: model.ActivityExecuted},
		{AgentName: "RAFAEL", ActionType: "c", UserEmail: "y@other.test"},
	} {
		_, err := store.CreateActivity(ctx, a)
		require.NoError(t, err)
	}

	list, err := svc.List(ctx, model.ActivityFilter{AgentName: "perseo"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ActionType)

	empty, err := svc.List(ctx, model.ActivityFilter{AgentName: "NOBODY"})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	pending, err := svc.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	sum, err := svc.Summary(ctx, "PERSEO", "")
	require.NoError(t, err)
	require.Len(t, sum, 1)
	assert.Equal(t, 2, sum[0].Total)
	assert.Equal(t, 1, sum[0].ByStatus[model.ActivityExecuted])
}

func TestMergeMap(t *testing.T) {
	t.Parallel()
	base := map[string]any{"a": 1, "nested": map[string]any{"x": 1}}
	update := map[string]any{"b": 2, "nested": map[string]any{"y": 2}}

	got := MergeMap(base, update)
	assert.Equal(t, map[string]any{"a": 1, "b": 2, "nested": map[string]any{"y": 2}}, got)
	assert.Len(t, base, 2)
	assert.NotContains(t, base, "b")

	assert.Equal(t, map[string]any{}, MergeMap(nil, nil))
}

func TestSchedulePlanOncePerCompany(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	pub := &recordingPublisher{}
	planner := NewPlanner(store, pub, testLogger())
	plan := agent.BuildPrelaunchPlan(testNow)
	ctx := context.Background()

	created, err := planner.SchedulePlan(ctx, "acme.test", plan)
	require.NoError(t, err)
	assert.True(t, created)

	all, err := store.ListActivities(ctx, model.ActivityFilter{UserEmail: "acme.test"})
	require.NoError(t, err)
	require.Len(t, all, len(plan.Tasks)+1)
	assert.Len(t, pub.statuses(), len(plan.Tasks)+1)

	coord, err := store.ListActivities(ctx, model.ActivityFilter{AgentName: "ZEUS", UserEmail: "acme.test"})
	require.NoError(t, err)
	require.Len(t, coord, 1)
	assert.Equal(t, "coordination", coord[0].ActionType)
	assert.Equal(t, model.ActivityInProgress, coord[0].Status)
	assert.Equal(t, model.PriorityHigh, coord[0].Priority)
	assert.Equal(t, agent.PrelaunchPhase, coord[0].Details["phase"])

	thalos, err := store.ListActivities(ctx, model.ActivityFilter{AgentName: "THALOS", UserEmail: "acme.test"})
	require.NoError(t, err)
	require.Len(t, thalos, 3)
	for _, a := range thalos {
		assert.Equal(t, model.ActivityPending, a.Status)
		assert.Equal(t, agent.NameZeusCore, a.Details["assigned_by"])
		assert.NotEmpty(t, a.Details["due_date"])
	}

	again, err := planner.SchedulePlan(ctx, "acme.test", plan)
	require.NoError(t, err)
	assert.False(t, again)
	all, err = store.ListActivities(ctx, model.ActivityFilter{UserEmail: "acme.test"})
	require.NoError(t, err)
	assert.Len(t, all, len(plan.Tasks)+1)

	other, err := planner.SchedulePlan(ctx, "other.test", plan)
	require.NoError(t, err)
	assert.True(t, other)
}

func TestSchedulePlanBatchFailureWritesNothing(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.failBatchAt = 3
	planner := NewPlanner(store, nil, testLogger())

	created, err := planner.SchedulePlan(context.Background(), "acme.test", agent.BuildPrelaunchPlan(testNow))
	require.Error(t, err)
	assert.False(t, created)

	all, err := store.ListActivities(context.Background(), model.ActivityFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}
