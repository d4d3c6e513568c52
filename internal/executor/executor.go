// Package executor runs pending activities in the background. It is the
// automation pass: on every tick it lists pending activities and executes
// each one through the activity service, a bounded number at a time.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/zeus-ia/zeus/internal/activity"
	"github.com/zeus-ia/zeus/internal/model"
	"github.com/zeus-ia/zeus/internal/telemetry"
)

// Activities is the slice of activity.Service the worker drives.
type Activities interface {
	Pending(ctx context.Context, limit int) ([]model.Activity, error)
	Execute(ctx context.Context, id int64) (model.ExecuteActionResponse, error)
}

// passTimeout bounds one batch.
const passTimeout = 5 * time.Minute

// Config tunes the poll loop.
type Config struct {
	Interval    time.Duration
	Batch       int
	Concurrency int
}

// Worker polls for pending activities and executes them.
type Worker struct {
	activities Activities
	cfg        Config
	logger     *slog.Logger

	runs metric.Int64Counter

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
}

// New creates a worker. Zero config values fall back to 600s, 20 and 4.
func New(activities Activities, cfg Config, logger *slog.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 600 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	runs, _ := telemetry.Meter("zeus/executor").Int64Counter("zeus.executor.activities",
		metric.WithDescription("Activities executed by the automation pass, by outcome"),
	)
	return &Worker{
		activities: activities,
		cfg:        cfg,
		logger:     logger,
		runs:       runs,
		done:       make(chan struct{}),
	}
}

// Start begins the background loop. Calls after the first are ignored.
func (w *Worker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("executor: Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.loop(loopCtx)
}

// Drain stops the loop and waits for the in-flight pass to finish, or for
// ctx to expire. No final pass runs; pending rows wait for the next start.
func (w *Worker) Drain(ctx context.Context) {
	if !w.started.Load() {
		return
	}
	if w.cancelLoop != nil {
		w.cancelLoop()
	}
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("executor: drain timed out")
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer w.once.Do(func() { close(w.done) })
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.logger.Info("executor: started", "interval", w.cfg.Interval, "batch", w.cfg.Batch, "concurrency", w.cfg.Concurrency)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A started pass outlives cancellation so claimed rows are not
			// stranded in_progress; Drain bounds the wait.
			passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), passTimeout)
			if _, err := w.RunOnce(passCtx); err != nil {
				w.logger.Error("executor: pass failed", "error", err)
			}
			cancel()
		}
	}
}

// RunOnce executes one batch of pending activities and returns how many
// reached a terminal state. Per-activity failures are logged, not returned.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	pending, err := w.activities.Pending(ctx, w.cfg.Batch)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var executed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for _, a := range pending {
		g.Go(func() error {
			res, err := w.activities.Execute(gctx, a.ID)
			switch {
			case errors.Is(err, activity.ErrNotExecutable):
				// Claimed elsewhere between listing and claiming.
				w.record(gctx, "skipped")
				w.logger.Debug("executor: activity already claimed", "activity_id", a.ID)
			case err != nil:
				w.record(gctx, "error")
				w.logger.Error("executor: execute failed", "activity_id", a.ID, "agent", a.AgentName, "error", err)
			default:
				executed.Add(1)
				w.record(gctx, string(res.Status))
				w.logger.Info("executor: activity executed", "activity_id", a.ID, "agent", a.AgentName, "status", res.Status)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(executed.Load()), nil
}

func (w *Worker) record(ctx context.Context, outcome string) {
	w.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
