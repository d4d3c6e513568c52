// Package safeguard implements the protected-entity and critical-action
// policy that wraps agents able to recommend destructive actions.
//
// The checks are pure functions over an immutable Config. Policy.Evaluate
// runs them in two phases: a pre-check on the named target that
// short-circuits before any decision is made, and a post-check on the
// produced content that forces human approval.
package safeguard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/zeus-ia/zeus/internal/model"
)

// Default whitelists.
var (
	DefaultProtectedIPs   = []string{"127.0.0.1", "localhost", "::1"}
	DefaultProtectedUsers = []string{"marketingdigitalper.seo@gmail.com", "admin", "root", "creator"}
)

// DefaultCriticalKeywords flag destructive actions in Spanish and English.
var DefaultCriticalKeywords = []string{
	"aislar", "bloquear", "revocar", "eliminar", "denegar", "desactivar", "suspender",
	"firewall", "ban", "blacklist",
	"isolate", "block", "revoke", "delete", "deny", "disable", "suspend",
}

// Reasons attached to blocked and force-approved decisions.
const (
	ReasonProtectedIP   = "IP protegida del creador - acción bloqueada por safeguards"
	ReasonProtectedUser = "Usuario protegido - acción bloqueada por safeguards"
	ReasonCritical      = "Acción de seguridad crítica - requiere confirmación humana"
)

// ActionProtectionOverride tags a blocked decision in its metadata.
const ActionProtectionOverride = "PROTECTION_OVERRIDE_REQUIRED"

// ErrUnsafeConfig is returned by New when the configuration violates the
// startup safety invariants.
var ErrUnsafeConfig = errors.New("safeguard: unsafe configuration")

// Config is the immutable policy input.
type Config struct {
	ProtectedIPs          []string
	ProtectedUsers        []string
	CriticalKeywords      []string
	AutoIsolation         bool
	RequiresHumanApproval bool
}

// DefaultConfig returns the built-in whitelists with the safe flags.
func DefaultConfig() Config {
	return Config{
		ProtectedIPs:          slices.Clone(DefaultProtectedIPs),
		ProtectedUsers:        slices.Clone(DefaultProtectedUsers),
		CriticalKeywords:      slices.Clone(DefaultCriticalKeywords),
		AutoIsolation:         false,
		RequiresHumanApproval: true,
	}
}

// IsProtectedIP reports exact membership of ip in the whitelist.
func IsProtectedIP(cfg Config, ip string) bool {
	ip = strings.TrimSpace(ip)
	return ip != "" && slices.Contains(cfg.ProtectedIPs, ip)
}

// IsProtectedUser reports whether any protected token is a case-insensitive
// substring of identifier.
func IsProtectedUser(cfg Config, identifier string) bool {
	id := strings.ToLower(strings.TrimSpace(identifier))
	if id == "" {
		return false
	}
	for _, token := range cfg.ProtectedUsers {
		if token != "" && strings.Contains(id, strings.ToLower(token)) {
			return true
		}
	}
	return false
}

// IsCriticalAction reports whether content mentions any critical keyword,
// case-insensitively.
func IsCriticalAction(cfg Config, content string) bool {
	text := strings.ToLower(content)
	for _, kw := range cfg.CriticalKeywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Policy evaluates requests against a Config.
type Policy struct {
	cfg Config
}

// New validates cfg and returns a Policy. Auto isolation must be off and
// human approval must be required.
func New(cfg Config) (*Policy, error) {
	if cfg.AutoIsolation {
		return nil, fmt.Errorf("%w: auto isolation must be disabled", ErrUnsafeConfig)
	}
	if !cfg.RequiresHumanApproval {
		return nil, fmt.Errorf("%w: critical actions must require human approval", ErrUnsafeConfig)
	}
	return &Policy{cfg: Config{
		ProtectedIPs:          slices.Clone(cfg.ProtectedIPs),
		ProtectedUsers:        slices.Clone(cfg.ProtectedUsers),
		CriticalKeywords:      slices.Clone(cfg.CriticalKeywords),
		AutoIsolation:         cfg.AutoIsolation,
		RequiresHumanApproval: cfg.RequiresHumanApproval,
	}}, nil
}

// Config returns a copy of the policy configuration.
func (p *Policy) Config() Config {
	return Config{
		ProtectedIPs:          slices.Clone(p.cfg.ProtectedIPs),
		ProtectedUsers:        slices.Clone(p.cfg.ProtectedUsers),
		CriticalKeywords:      slices.Clone(p.cfg.CriticalKeywords),
		AutoIsolation:         p.cfg.AutoIsolation,
		RequiresHumanApproval: p.cfg.RequiresHumanApproval,
	}
}

// Request names the targets of an incoming request. Empty fields are not
// checked.
type Request struct {
	Agent      string
	TargetIP   string
	TargetUser string
}

// DecideFunc produces the underlying decision.
type DecideFunc func(ctx context.Context) (model.Decision, error)

// Blocked builds the short-circuit decision returned for a protected target.
func Blocked(agent, reason string) model.Decision {
	return model.Decision{
		Success:               true,
		Agent:                 agent,
		Status:                model.DecisionStatusBlocked,
		Reason:                reason,
		Content:               reason,
		Confidence:            1.0,
		HumanApprovalRequired: true,
		ApprovalReason:        reason,
		Metadata:              map[string]any{"action_type": ActionProtectionOverride},
	}
}

// Evaluate applies the policy. A protected target IP, then a protected
// target user, returns a blocked decision without calling decide. Otherwise
// decide runs and a critical result has human approval forced on.
func (p *Policy) Evaluate(ctx context.Context, req Request, decide DecideFunc) (model.Decision, error) {
	if req.TargetIP != "" && IsProtectedIP(p.cfg, req.TargetIP) {
		return Blocked(req.Agent, ReasonProtectedIP), nil
	}
	if req.TargetUser != "" && IsProtectedUser(p.cfg, req.TargetUser) {
		return Blocked(req.Agent, ReasonProtectedUser), nil
	}

	d, err := decide(ctx)
	if err != nil {
		return model.Decision{}, err
	}
	if IsCriticalAction(p.cfg, d.Content) {
		d.HumanApprovalRequired = true
		d.ApprovalReason = ReasonCritical
	}
	return d, nil
}
