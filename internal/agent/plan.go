package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zeus-ia/zeus/internal/model"
)

// PrelaunchPhase tags every activity the prelaunch plan creates.
const PrelaunchPhase = "pre-launch"

// TaskPlanner records a plan's tasks as pending activities. It reports
// false when the company already has the plan scheduled.
type TaskPlanner interface {
	SchedulePlan(ctx context.Context, companyID string, plan Plan) (bool, error)
}

// Plan is a phased schedule of activities assigned to agents.
type Plan struct {
	Phase     string     `json:"phase"`
	StartedAt time.Time  `json:"started_at"`
	Timeline  []PlanWeek `json:"timeline"`
	Tasks     []PlanTask `json:"tasks"`
	Reporting Reporting  `json:"reporting"`
}

// PlanWeek is one block of the timeline.
type PlanWeek struct {
	Week       int      `json:"week"`
	Focus      string   `json:"focus"`
	Window     string   `json:"window"`
	Milestones []string `json:"milestones"`
}

// PlanTask becomes one pending activity.
type PlanTask struct {
	Agent       string         `json:"agent"`
	Week        int            `json:"week"`
	ActionType  string         `json:"action_type"`
	Description string         `json:"description"`
	Priority    model.Priority `json:"priority"`
	DueInDays   int            `json:"due_in_days"`
}

// DueDate is when the task is expected to be done.
func (t PlanTask) DueDate(start time.Time) time.Time {
	return start.AddDate(0, 0, t.DueInDays)
}

// Reporting describes the cadence of plan status reports.
type Reporting struct {
	DailyFlash   string `json:"daily_flash"`
	WeeklyReview string `json:"weekly_review"`
	Alerts       string `json:"alerts"`
}

// ActivityAgentName reduces a persona name to the key activities are filed
// under: its first word, uppercased. "ZEUS CORE" becomes "ZEUS".
func ActivityAgentName(name string) string {
	fields := strings.Fields(strings.ToUpper(name))
	if len(fields) == 0 {
		return "ZEUS"
	}
	return fields[0]
}

// BuildPrelaunchPlan returns the three-week prelaunch schedule starting at now.
func BuildPrelaunchPlan(now time.Time) Plan {
	now = now.UTC()
	day := func(offset int) string { return now.AddDate(0, 0, offset).Format(time.DateOnly) }

	return Plan{
		Phase:     PrelaunchPhase,
		StartedAt: now,
		Timeline: []PlanWeek{
			{
				Week:   1,
				Focus:  "Diagnóstico y cimientos",
				Window: day(0) + " → " + day(6),
				Milestones: []string{
					"Inventario de credenciales y accesos",
					"Plan de marketing 360° aprobado",
					"Checklist legal y fiscal preliminar",
				},
			},
			{
				Week:   2,
				Focus:  "Producción y automatizaciones",
				Window: day(7) + " → " + day(13),
				Milestones: []string{
					"Campañas configuradas en modo simulación",
					"Playbooks operativos completados",
					"Alertas de seguridad activas",
				},
			},
			{
				Week:   3,
				Focus:  "Go-Live y soporte inicial",
				Window: day(14) + " → " + day(20),
				Milestones: []string{
					"Checklist final de lanzamiento",
					"Plan de soporte 24/7 operativo",
					"Kit de bienvenida para clientes listo",
				},
			},
		},
		Tasks: []PlanTask{
			{NamePerseo, 1, "task_assigned", "Diseñar plan de marketing 360° con escenarios real y simulación.", model.PriorityHigh, 3},
			{NamePerseo, 2, "task_assigned", "Configurar campañas en Meta y Google en modo simulación y preparar assets finales.", model.PriorityHigh, 10},
			{NamePerseo, 3, "task_assigned", "Preparar playbook de activación inmediata cuando lleguen los tokens pendientes.", model.PriorityNormal, 18},
			{NameRafael, 1, "task_assigned", "Inventariar modelos fiscales necesarios y mapear documentación requerida.", model.PriorityNormal, 4},
			{NameRafael, 2, "task_assigned", "Crear plantillas de facturación y modelos SII con datos ficticios.", model.PriorityNormal, 11},
			{NameRafael, 3, "task_assigned", "Manual operativo de lanzamientos fiscales y gestión de cobros híbridos.", model.PriorityHigh, 19},
			{NameThalos, 1, "security_scan", "Auditoría de credenciales y servicios externos + informe de riesgos.", model.PriorityCritical, 5},
			{NameThalos, 2, "task_assigned", "Configurar alertas de seguridad y monitoreo continuo (logs, tokens, accesos).", model.PriorityHigh, 12},
			{NameThalos, 3, "backup_created", "Plan de recuperación ante desastres y pruebas de backups previas al lanzamiento.", model.PriorityHigh, 19},
			{NameJusticia, 1, "document_reviewed", "Actualizar política de privacidad, términos y acuerdos de confidencialidad.", model.PriorityHigh, 4},
			{NameJusticia, 2, "compliance_check", "Checklist de cumplimiento para integraciones LinkedIn/TikTok y RGPD.", model.PriorityNormal, 11},
			{NameJusticia, 3, "task_assigned", "Kit legal de lanzamiento: contratos de servicio, anexos y disclaimers finales.", model.PriorityHigh, 18},
			{NameAfrodita, 1, "task_assigned", "Definir estructura de soporte y roles para primeras 4 semanas post-lanzamiento.", model.PriorityNormal, 6},
			{NameAfrodita, 2, "task_assigned", "Manual de onboarding interno y de clientes, incluyendo flujos de comunicación.", model.PriorityNormal, 12},
			{NameAfrodita, 3, "task_assigned", "Calendarizar reuniones de soporte y coordinación con RAFAEL para cobros.", model.PriorityNormal, 19},
		},
		Reporting: Reporting{
			DailyFlash:   "Informe flash diario: tareas completadas, bloqueos y novedades en credenciales.",
			WeeklyReview: "Revisión semanal cruzada con checklist de readiness.",
			Alerts:       "Escalada automática al responsable si un bloqueo supera las 24h.",
		},
	}
}

// RenderPlanSummary renders the Markdown reply shown to the user.
func RenderPlanSummary(plan Plan, created bool) string {
	status := "Tareas ya estaban registradas; se mantiene el plan."
	if created {
		status = "Tareas registradas en el panel de actividad."
	}

	var b strings.Builder
	b.WriteString("### Fase PRE-LANZAMIENTO activada\n")
	b.WriteString(status + "\n\n")
	b.WriteString("**Cronograma:**\n")
	for _, w := range plan.Timeline {
		fmt.Fprintf(&b, "- Semana %d (%s): %s → %s\n", w.Week, w.Window, w.Focus, strings.Join(w.Milestones, "; "))
	}
	b.WriteString("\n**Reportes:**\n")
	fmt.Fprintf(&b, "- Diario: %s\n", plan.Reporting.DailyFlash)
	fmt.Fprintf(&b, "- Semanal: %s\n", plan.Reporting.WeeklyReview)
	fmt.Fprintf(&b, "- Alertas: %s\n", plan.Reporting.Alerts)
	b.WriteString("\nSi llega alguna credencial pendiente, actualizo automáticamente el plan y notifico en el informe diario.")
	return b.String()
}
