// Package activity implements the action execution state machine.
//
// An activity is created pending, claimed into in_progress by exactly one
// executor, and moved to a terminal status by a single write:
//
//	pending → in_progress → executed | executed_internal | blocked_missing_handler | failed
//
// The claim is a conditional UPDATE, so the HTTP path and the background
// executor can race on the same row and only one of them runs it.
// blocked_missing_handler is terminal; a new submission is the only retry.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/zeus-ia/zeus/internal/events"
	"github.com/zeus-ia/zeus/internal/model"
	"github.com/zeus-ia/zeus/internal/storage"
)

var (
	// ErrNotExecutable is returned when an activity is no longer pending.
	ErrNotExecutable = errors.New("activity: not executable")

	// ErrInvalidRequest is returned for a malformed submission or manual log.
	ErrInvalidRequest = errors.New("activity: invalid request")
)

// Store is the activity persistence the service needs. storage.DB
// implements it.
type Store interface {
	CreateActivity(ctx context.Context, a model.Activity) (model.Activity, error)
	CreateActivities(ctx context.Context, batch []model.Activity) ([]model.Activity, error)
	GetActivity(ctx context.Context, id int64) (model.Activity, error)
	ClaimActivity(ctx context.Context, id int64) (model.Activity, error)
	CompleteActivity(ctx context.Context, id int64, c model.ActivityCompletion) (model.Activity, error)
	ListActivities(ctx context.Context, f model.ActivityFilter) ([]model.Activity, error)
	ListPendingActivities(ctx context.Context, limit int) ([]model.Activity, error)
	SummarizeActivities(ctx context.Context, agentName, userEmail string) ([]model.AgentActivitySummary, error)
	ActivityExists(ctx context.Context, agentName, actionType, userEmail, phase string) (bool, error)
}

// Runner executes a claimed activity. runtime.Runtime implements it.
type Runner interface {
	RunWorkspaceTask(ctx context.Context, a model.Activity) (model.HandlerResult, error)
}

const (
	storeRetries    = 2
	storeRetryDelay = 25 * time.Millisecond

	// runTimeout bounds a claimed run once it is detached from the caller.
	runTimeout = 2 * time.Minute
)

// Service drives activities through the state machine.
type Service struct {
	store     Store
	runner    Runner
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates an activity service.
func NewService(store Store, runner Runner, publisher events.Publisher, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Service{store: store, runner: runner, publisher: publisher, logger: logger, now: time.Now}
}

// SubmitRequest asks for an action to be performed.
type SubmitRequest struct {
	Agent      string
	ActionType string
	Payload    map[string]any
	Sync       bool
	UserEmail  string
	Priority   model.Priority
}

// Submit records the request as a pending activity. With Sync set it is
// executed before returning.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (model.ExecuteActionResponse, error) {
	agent := strings.ToUpper(strings.TrimSpace(req.Agent))
	action := strings.TrimSpace(req.ActionType)
	if agent == "" || action == "" {
		return model.ExecuteActionResponse{}, fmt.Errorf("%w: agent and action_type are required", ErrInvalidRequest)
	}

	description, _ := req.Payload["description"].(string)
	if strings.TrimSpace(description) == "" {
		description = agent + " / " + action
	}
	priority := req.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}

	a, err := s.store.CreateActivity(ctx, model.Activity{
		AgentName:         agent,
		ActionType:        action,
		ActionDescription: description,
		Details:           maps.Clone(req.Payload),
		Status:            model.ActivityPending,
		Priority:          priority,
		UserEmail:         req.UserEmail,
		VisibleToClient:   true,
	})
	if err != nil {
		return model.ExecuteActionResponse{}, fmt.Errorf("activity: submit: %w", err)
	}
	s.publish(ctx, a)
	s.logger.Info("activity submitted", "activity_id", a.ID, "agent", agent, "action_type", action, "sync", req.Sync)

	if !req.Sync {
		return model.ExecuteActionResponse{ActivityID: a.ID, Status: a.Status}, nil
	}
	return s.Execute(ctx, a.ID)
}

// Execute claims a pending activity, runs it and writes the terminal status.
//
// A second caller for the same activity gets ErrNotExecutable. If the run
// itself returns an error (a memory persistence fault) the activity stays
// in_progress and the error is returned. Once claimed, the run and the
// terminal write ignore cancellation of ctx so a disconnected caller
// cannot strand the row in_progress.
func (s *Service) Execute(ctx context.Context, id int64) (model.ExecuteActionResponse, error) {
	var a model.Activity
	err := storage.WithRetry(ctx, storeRetries, storeRetryDelay, func() error {
		var err error
		a, err = s.store.ClaimActivity(ctx, id)
		return err
	})
	switch {
	case errors.Is(err, storage.ErrConflict):
		return model.ExecuteActionResponse{}, fmt.Errorf("%w: activity %d is not pending", ErrNotExecutable, id)
	case err != nil:
		return model.ExecuteActionResponse{}, fmt.Errorf("activity: claim %d: %w", id, err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runTimeout)
	defer cancel()
	s.publish(ctx, a)

	res, err := s.runner.RunWorkspaceTask(ctx, a)
	if err != nil {
		return model.ExecuteActionResponse{}, fmt.Errorf("activity: execute %d: %w", id, err)
	}

	status := model.NormalizeHandlerStatus(res.Status)
	metrics := MergeMap(a.Metrics, res.MetricsUpdate)
	if res.ExecutedHandler != nil {
		metrics["executed_handler"] = *res.ExecutedHandler
	}
	completion := model.ActivityCompletion{
		Status:  status,
		Details: MergeMap(a.Details, res.DetailsUpdate),
		Metrics: metrics,
	}
	if status.StampsCompletion() {
		at := s.now().UTC()
		completion.CompletedAt = &at
	}

	var done model.Activity
	err = storage.WithRetry(ctx, storeRetries, storeRetryDelay, func() error {
		var err error
		done, err = s.store.CompleteActivity(ctx, id, completion)
		return err
	})
	if err != nil {
		return model.ExecuteActionResponse{}, fmt.Errorf("activity: complete %d: %w", id, err)
	}
	s.publish(ctx, done)
	s.logger.Info("activity executed",
		"activity_id", id, "agent", a.AgentName, "action_type", a.ActionType, "status", status)

	return model.ExecuteActionResponse{ActivityID: id, Status: status, ExecutedHandler: res.ExecutedHandler}, nil
}

// LogRequest records an activity that already happened.
type LogRequest struct {
	model.LogActivityRequest
	UserEmail string
}

// Log stores a manual activity record. Only pending (left for the
// executor to run through a handler) and failed may be logged; the status
// defaults to pending.
func (s *Service) Log(ctx context.Context, req LogRequest) (model.Activity, error) {
	if err := req.Validate(); err != nil {
		return model.Activity{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	status := req.Status
	if status == "" {
		status = model.ActivityPending
	}
	priority := req.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}
	a := model.Activity{
		AgentName:         strings.ToUpper(strings.TrimSpace(req.AgentName)),
		ActionType:        strings.TrimSpace(req.ActionType),
		ActionDescription: req.ActionDescription,
		Details:           req.Details,
		Metrics:           req.Metrics,
		Status:            status,
		Priority:          priority,
		UserEmail:         req.UserEmail,
		VisibleToClient:   req.VisibleToClient,
	}
	if status.StampsCompletion() {
		at := s.now().UTC()
		a.CompletedAt = &at
	}

	created, err := s.store.CreateActivity(ctx, a)
	if err != nil {
		return model.Activity{}, fmt.Errorf("activity: log: %w", err)
	}
	s.publish(ctx, created)
	return created, nil
}

// Get returns one activity.
func (s *Service) Get(ctx context.Context, id int64) (model.Activity, error) {
	a, err := s.store.GetActivity(ctx, id)
	if err != nil {
		return model.Activity{}, fmt.Errorf("activity: get %d: %w", id, err)
	}
	return a, nil
}

// List returns activities matching f, newest first.
func (s *Service) List(ctx context.Context, f model.ActivityFilter) ([]model.Activity, error) {
	f.AgentName = strings.ToUpper(strings.TrimSpace(f.AgentName))
	list, err := s.store.ListActivities(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("activity: list: %w", err)
	}
	if list == nil {
		list = []model.Activity{}
	}
	return list, nil
}

// Pending returns up to limit pending activities, oldest first.
func (s *Service) Pending(ctx context.Context, limit int) ([]model.Activity, error) {
	list, err := s.store.ListPendingActivities(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("activity: list pending: %w", err)
	}
	return list, nil
}

// Summary returns per-status counts and the last activity time per agent.
// An empty agent summarizes all of them.
func (s *Service) Summary(ctx context.Context, agent, userEmail string) ([]model.AgentActivitySummary, error) {
	out, err := s.store.SummarizeActivities(ctx, strings.ToUpper(strings.TrimSpace(agent)), userEmail)
	if err != nil {
		return nil, fmt.Errorf("activity: summary: %w", err)
	}
	if out == nil {
		out = []model.AgentActivitySummary{}
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, a model.Activity) {
	s.publisher.Publish(ctx, events.EventFor(a, s.now()))
}

// MergeMap returns a new map with update's keys written over base's. It is
// shallow: nested maps are replaced, not merged. Neither input is modified.
func MergeMap(base, update map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(update))
	maps.Copy(out, base)
	maps.Copy(out, update)
	return out
}
