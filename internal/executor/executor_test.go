package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zeus-ia/zeus/internal/activity"
	"github.com/zeus-ia/zeus/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeActivities struct {
	mu       sync.Mutex
	pending  []model.Activity
	listErr  error
	execErr  map[int64]error
	executed []int64
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (f *fakeActivities) Pending(_ context.Context, limit int) ([]model.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := f.pending
	if len(out) > limit {
		out = out[:limit]
	}
	return append([]model.Activity(nil), out...), nil
}

func (f *fakeActivities) Execute(_ context.Context, id int64) (model.ExecuteActionResponse, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.execErr[id]; err != nil {
		return model.ExecuteActionResponse{}, err
	}
	f.executed = append(f.executed, id)
	for i, a := range f.pending {
		if a.ID == id {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			break
		}
	}
	return model.ExecuteActionResponse{ActivityID: id, Status: model.ActivityExecuted}, nil
}

func (f *fakeActivities) executedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executed)
}

func pendingActivities(n int) []model.Activity {
	out := make([]model.Activity, n)
	for i := range out {
		out[i] = model.Activity{ID: int64(i + 1), AgentName: "PERSEO", ActionType: "task_assigned", Status: model.ActivityPending}
	}
	return out
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRunOnceRespectsBatchAndConcurrency(t *testing.T) {
	fake := &fakeActivities{pending: pendingActivities(10), delay: 10 * time.Millisecond}
	w := New(fake, Config{Interval: time.Hour, Batch: 6, Concurrency: 2}, discard())

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, 6, fake.executedCount())
	assert.LessOrEqual(t, fake.peak.Load(), int32(2))
}

func TestRunOnceSkipsClaimedAndFailed(t *testing.T) {
	fake := &fakeActivities{
		pending: pendingActivities(3),
		execErr: map[int64]error{
			1: fmt.Errorf("%w: status in_progress", activity.ErrNotExecutable),
			2: errors.New("db down"),
		},
	}
	w := New(fake, Config{Interval: time.Hour, Batch: 10, Concurrency: 3}, discard())

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{3}, fake.executed)
}

func TestRunOnceListError(t *testing.T) {
	fake := &fakeActivities{listErr: errors.New("db down")}
	w := New(fake, Config{}, discard())

	_, err := w.RunOnce(context.Background())
	require.Error(t, err)
}

func TestRunOnceEmpty(t *testing.T) {
	w := New(&fakeActivities{}, Config{}, discard())
	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartPollsUntilDrained(t *testing.T) {
	fake := &fakeActivities{pending: pendingActivities(5)}
	w := New(fake, Config{Interval: 5 * time.Millisecond, Batch: 2, Concurrency: 2}, discard())

	w.Start(context.Background())
	w.Start(context.Background())

	require.Eventually(t, func() bool { return fake.executedCount() == 5 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Drain(ctx)

	select {
	case <-w.done:
	default:
		t.Fatal("loop still running after Drain")
	}
}

func TestDrainWithoutStart(t *testing.T) {
	w := New(&fakeActivities{}, Config{}, discard())
	w.Drain(context.Background())
}
