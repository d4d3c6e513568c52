package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zeus-ia/zeus/internal/model"
)

// Task types ZEUS CORE routes on, in tie-break order.
const (
	TaskMarketing = "marketing"
	TaskFiscal    = "fiscal"
	TaskSecurity  = "security"
	TaskLegal     = "legal"
)

// RoutedBy is stamped on every decision that passes through ZEUS CORE.
const RoutedBy = "ZEUS CORE"

type route struct {
	taskType string
	agent    string
	keywords []string
}

var routes = []route{
	{TaskMarketing, NamePerseo, []string{
		"marketing", "campaña", "anuncio", "seo", "sem", "ventas",
		"cliente", "lead", "conversión", "tráfico", "contenido",
		"redes sociales", "instagram", "facebook", "google ads",
	}},
	{TaskFiscal, NameRafael, []string{
		"factura", "impuesto", "iva", "irpf", "modelo", "hacienda",
		"contable", "gasto", "ingreso", "deducible", "declaración",
		"fiscal", "tributario", "gastos", "ingresos",
	}},
	{TaskSecurity, NameThalos, []string{
		"seguridad", "ataque", "amenaza", "vulnerabilidad", "hackeo",
		"ip", "firewall", "log", "incidente", "malware", "ransomware",
	}},
	{TaskLegal, NameJusticia, []string{
		"legal", "contrato", "gdpr", "privacidad", "datos personales",
		"consentimiento", "política", "términos", "condiciones", "ley",
	}},
}

// Route scores message against each domain's keywords and returns the task
// type with most hits. Ties go to the earlier domain and no hits go to
// marketing.
func Route(message string) (string, map[string]int) {
	lower := strings.ToLower(message)
	scores := make(map[string]int, len(routes))
	best, bestScore := TaskMarketing, 0
	for _, r := range routes {
		n := 0
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				n++
			}
		}
		scores[r.taskType] = n
		if n > bestScore {
			best, bestScore = r.taskType, n
		}
	}
	return best, scores
}

func agentForTask(taskType string) string {
	for _, r := range routes {
		if r.taskType == taskType {
			return r.agent
		}
	}
	return ""
}

// ZeusCore is the orchestrator persona.
type ZeusCore struct {
	*Base
	peers   Lookup
	planner TaskPlanner
	now     func() time.Time
}

// NewZeusCore builds the orchestrator. peers resolves delegation targets.
func NewZeusCore(deps Deps, peers Lookup) *ZeusCore {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &ZeusCore{Base: newBase(ZeusCorePersona, deps), peers: peers, planner: deps.Planner, now: now}
}

func (z *ZeusCore) ProcessRequest(ctx context.Context, cc model.ChatContext) (model.Decision, error) {
	lower := strings.ToLower(cc.Message)
	if strings.Contains(lower, "pre-lanzamiento") || strings.Contains(lower, "pre lanzamiento") ||
		cc.MetaString("phase") == "prelaunch" {
		return z.startPrelaunch(ctx, cc)
	}

	taskType := cc.MetaString("task_type")
	if taskType == "" {
		var scores map[string]int
		taskType, scores = Route(cc.Message)
		z.logger.Debug("routing scores", "scores", scores, "selected", taskType)
	}

	name := agentForTask(taskType)
	var target Agent
	if name != "" && z.peers != nil {
		target, _ = z.peers.Lookup(name)
	}
	if target == nil {
		d, err := z.Decide(ctx, cc.Message, cc)
		if err != nil {
			return model.Decision{}, err
		}
		d.RoutedBy = RoutedBy
		d.SelectedAgent = RoutedBy + " (directo)"
		return d, nil
	}

	z.logger.Info("delegating", "to", name, "task_type", taskType)
	d, err := target.ProcessRequest(ctx, cc)
	if err != nil {
		return model.Decision{}, err
	}
	d.RoutedBy = RoutedBy
	d.SelectedAgent = name
	return d, nil
}

func (z *ZeusCore) startPrelaunch(ctx context.Context, cc model.ChatContext) (model.Decision, error) {
	plan := BuildPrelaunchPlan(z.now())

	created := false
	if z.planner != nil {
		var err error
		created, err = z.planner.SchedulePlan(ctx, cc.Identity.CompanyID, plan)
		if err != nil {
			return model.Decision{}, fmt.Errorf("agent: %s: schedule prelaunch plan: %w", z.persona.Name, err)
		}
	}

	return model.Decision{
		Success:    true,
		Agent:      z.persona.Name,
		Content:    RenderPlanSummary(plan, created),
		Confidence: 0.92,
		RoutedBy:   RoutedBy,
		Metadata: map[string]any{
			"role":          z.persona.Role,
			"phase":         plan.Phase,
			"tasks_created": created,
			"tasks":         len(plan.Tasks),
		},
	}, nil
}
