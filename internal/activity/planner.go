package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zeus-ia/zeus/internal/agent"
	"github.com/zeus-ia/zeus/internal/events"
	"github.com/zeus-ia/zeus/internal/model"
)

// coordinationAction marks the activity that anchors a scheduled plan.
const coordinationAction = "coordination"

// Planner turns agent plans into pending activities. It only needs the
// store, so it can be handed to the agent registry before the runtime
// exists.
type Planner struct {
	store     Store
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewPlanner creates a planner.
func NewPlanner(store Store, publisher events.Publisher, logger *slog.Logger) *Planner {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Planner{store: store, publisher: publisher, logger: logger, now: time.Now}
}

// SchedulePlan records plan for companyID: one in-progress coordination
// activity for ZEUS plus one pending activity per task, in a single batch.
// It returns false without writing when the company already has the plan.
func (p *Planner) SchedulePlan(ctx context.Context, companyID string, plan agent.Plan) (bool, error) {
	owner := agent.ActivityAgentName(agent.NameZeusCore)
	exists, err := p.store.ActivityExists(ctx, owner, coordinationAction, companyID, plan.Phase)
	if err != nil {
		return false, fmt.Errorf("activity: schedule plan: %w", err)
	}
	if exists {
		return false, nil
	}

	batch := make([]model.Activity, 0, len(plan.Tasks)+1)
	batch = append(batch, model.Activity{
		AgentName:         owner,
		ActionType:        coordinationAction,
		ActionDescription: fmt.Sprintf("Activación de la fase %s (%d tareas)", plan.Phase, len(plan.Tasks)),
		Details: map[string]any{
			"phase":        plan.Phase,
			"timeline":     plan.Timeline,
			"reporting":    plan.Reporting,
			"activated_at": plan.StartedAt.Format(time.RFC3339),
		},
		Status:          model.ActivityInProgress,
		Priority:        model.PriorityHigh,
		UserEmail:       companyID,
		VisibleToClient: true,
	})
	for _, task := range plan.Tasks {
		batch = append(batch, model.Activity{
			AgentName:         agent.ActivityAgentName(task.Agent),
			ActionType:        task.ActionType,
			ActionDescription: task.Description,
			Details: map[string]any{
				"phase":       plan.Phase,
				"week":        task.Week,
				"due_date":    task.DueDate(plan.StartedAt).Format(time.DateOnly),
				"assigned_by": agent.NameZeusCore,
			},
			Status:          model.ActivityPending,
			Priority:        task.Priority,
			UserEmail:       companyID,
			VisibleToClient: true,
		})
	}

	created, err := p.store.CreateActivities(ctx, batch)
	if err != nil {
		return false, fmt.Errorf("activity: schedule plan: %w", err)
	}
	at := p.now()
	for _, a := range created {
		p.publisher.Publish(ctx, events.EventFor(a, at))
	}
	p.logger.Info("plan scheduled", "company_id", companyID, "phase", plan.Phase, "activities", len(created))
	return true, nil
}
