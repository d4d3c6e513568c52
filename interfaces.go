package zeus

import (
	"context"
	"net/http"
)

// EventHook receives every activity status change.
// Hooks run on the publishing goroutine: they must return quickly.
// A hook cannot fail the activity it observes.
type EventHook interface {
	OnActivity(ctx context.Context, e ActivityEvent)
}

// Notifier delivers operator alerts (THALOS monitoring).
// When provided via WithNotifier it replaces the Slack notifier.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Middleware wraps the root HTTP handler.
// Applied outermost, so it sees every request including /health.
type Middleware = func(http.Handler) http.Handler
