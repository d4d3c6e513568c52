// Package handlers maps (agent, action type) pairs to the concrete work an
// activity performs.
//
// The registry is built once at startup and never changes. Resolve is a
// pure lookup: a nil result means no handler exists and the caller must
// block the activity rather than complete it.
package handlers

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/zeus-ia/zeus/internal/alert"
	"github.com/zeus-ia/zeus/internal/model"
)

// Handler performs the work behind one activity.
type Handler interface {
	Name() string
	Execute(ctx context.Context, a model.Activity) (model.HandlerResult, error)
}

// Options configure the default catalog.
type Options struct {
	OutputDir       string
	LogDir          string
	BackupSource    string
	BackupDir       string
	InternalActions []string
	// RequiredEnv lists the variables the security scan checks.
	RequiredEnv []string
	Notifier    alert.Notifier
	Getenv      func(string) string
	Now         func() time.Time
	Logger      *slog.Logger
}

// DefaultRequiredEnv is what the security scan expects to find configured.
var DefaultRequiredEnv = []string{
	"DATABASE_URL",
	"OPENAI_API_KEY",
	"ZEUS_JWT_PRIVATE_KEY",
	"ZEUS_JWT_PUBLIC_KEY",
	"ZEUS_ADMIN_API_KEY",
}

// Registry resolves handlers.
type Registry struct {
	byAgent  map[string]map[string]Handler
	internal map[string]bool
	generic  Handler
}

// NewRegistry builds the default catalog.
func NewRegistry(opts Options) *Registry {
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = alert.Noop{}
	}
	if opts.RequiredEnv == nil {
		opts.RequiredEnv = DefaultRequiredEnv
	}

	out := &output{dir: opts.OutputDir, logDir: opts.LogDir, now: opts.Now}
	legal := newDocument(JusticiaLegalKit, legalKit, out)
	zeus := newDocument(ZeusCoordinationReport, coordinationReport, out)

	return NewRegistryWith(map[string]map[string]Handler{
		"PERSEO":   {"task_assigned": newDocument(PerseoLaunchKit, launchKit, out)},
		"RAFAEL":   {"task_assigned": newDocument(RafaelFiscalPack, fiscalPack, out)},
		"JUSTICIA": {"task_assigned": legal, "document_reviewed": legal, "compliance_check": legal},
		"AFRODITA": {"task_assigned": newDocument(AfroditaSupportPlaybook, supportPlaybook, out)},
		"ZEUS":     {"coordination": zeus, "task_delegated": zeus},
		"THALOS": {
			"security_scan":  &securityScan{out: out, required: opts.RequiredEnv, getenv: opts.Getenv},
			"task_assigned":  &alertMonitor{out: out, notifier: opts.Notifier, getenv: opts.Getenv, logger: opts.Logger},
			"backup_created": &backup{out: out, source: opts.BackupSource, dir: opts.BackupDir},
		},
	}, opts.InternalActions)
}

// NewRegistryWith builds a registry from an explicit catalog. Action types
// in internalActions resolve to the generic internal handler for any agent
// without a specific entry.
func NewRegistryWith(catalog map[string]map[string]Handler, internalActions []string) *Registry {
	r := &Registry{
		byAgent:  make(map[string]map[string]Handler, len(catalog)),
		internal: make(map[string]bool, len(internalActions)),
		generic:  GenericInternal{},
	}
	for agent, actions := range catalog {
		m := make(map[string]Handler, len(actions))
		for action, h := range actions {
			m[action] = h
		}
		r.byAgent[agentKey(agent)] = m
	}
	for _, a := range internalActions {
		if a = strings.TrimSpace(a); a != "" {
			r.internal[a] = true
		}
	}
	return r
}

// Resolve returns the handler for agent and actionType, or nil.
func (r *Registry) Resolve(agent, actionType string) Handler {
	actionType = strings.TrimSpace(actionType)
	if h, ok := r.byAgent[agentKey(agent)][actionType]; ok {
		return h
	}
	if r.internal[actionType] {
		return r.generic
	}
	return nil
}

// agentKey folds persona names onto catalog keys: uppercase, first word.
// "ZEUS CORE" and "zeus" both become "ZEUS".
func agentKey(agent string) string {
	fields := strings.Fields(strings.ToUpper(agent))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
