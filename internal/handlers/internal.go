package handlers

import (
	"context"
	"fmt"
	"maps"

	"github.com/zeus-ia/zeus/internal/model"
)

// GenericInternalName is recorded for actions with no external effect.
const GenericInternalName = "GENERIC_INTERNAL_HANDLER"

// GenericInternal persists the submitted payload into the activity and marks
// it executed_internal. It performs no side effects outside the database.
type GenericInternal struct{}

func (GenericInternal) Name() string { return GenericInternalName }

func (GenericInternal) Execute(_ context.Context, a model.Activity) (model.HandlerResult, error) {
	payload := maps.Clone(a.Details)
	if len(payload) == 0 {
		payload = map[string]any{"action_type": a.ActionType, "agent": a.AgentName}
	}
	payload["executed_handler"] = GenericInternalName

	name := GenericInternalName
	return model.HandlerResult{
		Status:          string(model.ActivityExecutedInternal),
		DetailsUpdate:   payload,
		MetricsUpdate:   map[string]any{"executed_handler": GenericInternalName},
		ExecutedHandler: &name,
		Notes:           fmt.Sprintf("Internal action %s persisted (%s).", a.ActionType, GenericInternalName),
	}, nil
}
