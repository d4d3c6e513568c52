// Package agent implements the decision personas and the registry the
// runtime resolves them from.
//
// Every persona satisfies Agent. Personas share Base for the provider call
// and the confidence and HITL heuristics, and add their own request
// enrichment and review rules. THALOS runs inside the safeguard policy.
// ZEUS CORE routes to the others by keyword score.
//
// The Registry is built once at startup and is read-only afterwards.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/zeus-ia/zeus/internal/llm"
	"github.com/zeus-ia/zeus/internal/model"
	"github.com/zeus-ia/zeus/internal/safeguard"
)

// Persona names.
const (
	NameZeusCore = "ZEUS CORE"
	NamePerseo   = "PERSEO"
	NameRafael   = "RAFAEL"
	NameThalos   = "THALOS"
	NameJusticia = "JUSTICIA"
	NameAfrodita = "AFRODITA"
)

// Agent produces a decision for one chat turn.
type Agent interface {
	Name() string
	ProcessRequest(ctx context.Context, cc model.ChatContext) (model.Decision, error)
}

// Lookup resolves agents by name.
type Lookup interface {
	Lookup(name string) (Agent, bool)
}

// Deps are the collaborators personas are built with.
type Deps struct {
	Provider    llm.Provider
	Safeguard   safeguard.Config
	HITLEnabled bool
	Planner     TaskPlanner
	Logger      *slog.Logger
	Now         func() time.Time
}

// Registry maps normalized persona names to agents.
type Registry struct {
	agents map[string]Agent
	names  []string
}

// NewRegistry builds every persona. It fails if any persona refuses its
// configuration, which keeps the process from starting with unsafe
// safeguards.
func NewRegistry(deps Deps) (*Registry, error) {
	if deps.Provider == nil {
		deps.Provider = llm.Offline{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := &Registry{agents: make(map[string]Agent)}

	thalos, err := NewThalos(deps)
	if err != nil {
		return nil, fmt.Errorf("agent: init %s: %w", NameThalos, err)
	}

	r.register(NewZeusCore(deps, r))
	r.register(NewPerseo(deps))
	r.register(NewRafael(deps))
	r.register(thalos)
	r.register(NewJusticia(deps))
	r.register(NewAfrodita(deps, r))
	return r, nil
}

// NewRegistryWith builds a registry from prebuilt agents. Tests use it to
// register stubs.
func NewRegistryWith(agents ...Agent) *Registry {
	r := &Registry{agents: make(map[string]Agent, len(agents))}
	for _, a := range agents {
		r.register(a)
	}
	return r
}

func (r *Registry) register(a Agent) {
	name := model.NormalizeAgentName(a.Name())
	if _, dup := r.agents[name]; !dup {
		r.names = append(r.names, name)
	}
	r.agents[name] = a
}

// Lookup normalizes name and returns the matching agent. "ZEUS" is accepted
// for ZEUS CORE.
func (r *Registry) Lookup(name string) (Agent, bool) {
	name = model.NormalizeAgentName(name)
	if a, ok := r.agents[name]; ok {
		return a, true
	}
	if name == "ZEUS" {
		a, ok := r.agents[NameZeusCore]
		return a, ok
	}
	return nil, false
}

// Names lists registered agents in registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}
