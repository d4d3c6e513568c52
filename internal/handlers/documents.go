package handlers

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/zeus-ia/zeus/internal/model"
)

// Handler names recorded as executed_handler.
const (
	PerseoLaunchKit         = "PERSEO_LAUNCH_KIT"
	RafaelFiscalPack        = "RAFAEL_FISCAL_PACK"
	JusticiaLegalKit        = "JUSTICIA_LEGAL_KIT"
	AfroditaSupportPlaybook = "AFRODITA_SUPPORT_PLAYBOOK"
	ZeusCoordinationReport  = "ZEUS_COORDINATION_REPORT"
)

// document is a deliverable: a JSON payload plus its Markdown summary.
type document struct {
	Title    string
	Summary  string
	Payload  map[string]any
	Sections []section
	Metrics  map[string]any
	Notes    string
}

type documentHandler struct {
	name  string
	build func(a model.Activity, now time.Time) document
	out   *output
}

func newDocument(name string, build func(model.Activity, time.Time) document, out *output) *documentHandler {
	return &documentHandler{name: name, build: build, out: out}
}

func (h *documentHandler) Name() string { return h.name }

// Execute writes both files and reports their paths under
// details.automation.deliverables.
func (h *documentHandler) Execute(ctx context.Context, a model.Activity) (model.HandlerResult, error) {
	if err := ctx.Err(); err != nil {
		return model.HandlerResult{}, err
	}
	doc := h.build(a, h.out.now().UTC())
	agent := agentKey(a.AgentName)
	id := h.out.artifactID(a)

	payload := maps.Clone(doc.Payload)
	payload["summary"] = doc.Summary
	jsonPath, err := h.out.writeJSON(agent, id, payload)
	if err != nil {
		return model.HandlerResult{}, fmt.Errorf("handlers: %s: %w", h.name, err)
	}
	mdPath, err := h.out.writeMarkdown(agent, id, renderMarkdown(doc.Title, doc.Sections))
	if err != nil {
		return model.HandlerResult{}, fmt.Errorf("handlers: %s: %w", h.name, err)
	}

	return model.HandlerResult{
		Status: model.HandlerStatusCompleted,
		DetailsUpdate: map[string]any{
			"automation": map[string]any{
				"deliverables": map[string]any{"json": jsonPath, "markdown": mdPath},
				"summary":      doc.Summary,
			},
		},
		MetricsUpdate: doc.Metrics,
		Notes:         doc.Notes + " " + jsonPath,
	}, nil
}

func launchKit(_ model.Activity, now time.Time) document {
	script := []map[string]string{
		{"segment": "Hook (0-5s)", "copy": "¿Tu negocio podría funcionar solo, sin estrés operativo?"},
		{"segment": "Problema (5-15s)", "copy": "Facturación, ventas y soporte consumen tu tiempo."},
		{"segment": "Solución (15-40s)", "copy": "ZEUS IA coordina marketing, contabilidad, legal y seguridad con agentes especializados."},
		{"segment": "Prueba (40-50s)", "copy": "Cada decisión crítica pasa por aprobación humana."},
		{"segment": "CTA (50-60s)", "copy": "Activa ZEUS IA hoy y libera tu agenda."},
	}
	scriptLines := make([]string, 0, len(script))
	for _, s := range script {
		scriptLines = append(scriptLines, s["copy"])
	}
	prompts := map[string]map[string]string{
		"video_generator": {"platform": "runwayml/gen-2", "prompt": "Futuristic business control room with holographic assistants orchestrating finance, marketing and support tasks."},
		"thumbnail":       {"platform": "midjourney", "prompt": "High-tech AI control center with glowing interfaces and the title 'ZEUS IA'."},
		"voiceover":       {"platform": "elevenlabs", "prompt": "ZEUS IA automatiza tu negocio las 24 horas. Actívalo hoy."},
	}

	return document{
		Title:   "Plan de Lanzamiento ZEUS IA",
		Summary: "Plan integral de lanzamiento listo para ejecutar con IA y canales orgánicos y de pago.",
		Payload: map[string]any{
			"video_script": map[string]any{
				"title":     "Lanzamiento ZEUS IA",
				"duration":  "60 segundos",
				"structure": script,
			},
			"ai_prompts": prompts,
			"distribution_plan": map[string]any{
				"launch_date": now.Format(time.DateOnly),
				"channels": map[string]any{
					"linkedin":  "Post de liderazgo + vídeo nativo",
					"instagram": []string{"Teaser de 15s (Reel)", "Carrusel con 3 casos de uso"},
					"email":     "Tu negocio funcionando 24/7, ¿listo?",
				},
			},
		},
		Sections: []section{
			{Heading: "Resumen", Items: []string{
				"Incluye guion, prompts de IA y plan de difusión multicanal.",
			}},
			{Heading: "Guion de vídeo", Items: scriptLines},
			{Heading: "Prompts IA", Fields: [][2]string{
				{"video_generator", prompts["video_generator"]["prompt"]},
				{"thumbnail", prompts["thumbnail"]["prompt"]},
				{"voiceover", prompts["voiceover"]["prompt"]},
			}},
			{Heading: "Acciones de difusión", Items: []string{
				"LinkedIn: contenido educativo + vídeo nativo.",
				"Instagram: teaser + carrusel.",
				"Email: seguimiento a leads interesados.",
			}},
		},
		Metrics: map[string]any{"assets_generated": 3},
		Notes:   "Plan de marketing generado automáticamente. Archivos:",
	}
}

func fiscalPack(_ model.Activity, now time.Time) document {
	quarter := (int(now.Month())-1)/3 + 1
	return document{
		Title:   "Paquete Fiscal ZEUS IA",
		Summary: "Documentación fiscal y financiera preparada para activar facturación automática.",
		Payload: map[string]any{
			"invoice_template": map[string]any{
				"invoice_number": "INV-{{YYYY}}{{MM}}-001",
				"issue_date":     "{{today}}",
				"customer":       "{{client_name}}",
				"items": []map[string]any{
					{"description": "Implementación y configuración inicial", "price": 0, "tax": 21},
					{"description": "Licencia mensual ZEUS IA", "price": 0, "tax": 21},
				},
			},
			"tax_models": map[string]any{
				"modelo_303": map[string]any{
					"quarter":         quarter,
					"required_fields": []string{"Base imponible", "Cuota soportada", "Cuota repercutida"},
				},
				"modelo_390": map[string]any{"year": now.Year()},
			},
			"cashflow_projection": []map[string]any{
				{"month": "Mes 1", "expected_recurring": 0, "expected_expenses": 0},
				{"month": "Mes 2", "expected_recurring": 950, "expected_expenses": 150},
				{"month": "Mes 3", "expected_recurring": 2400, "expected_expenses": 300},
			},
		},
		Sections: []section{
			{Heading: "Resumen", Text: "Documentación fiscal y financiera preparada para activar facturación automática."},
			{Heading: "Plantillas disponibles", Items: []string{
				"Factura automática INV-{{YYYY}}{{MM}}-001",
				fmt.Sprintf("Modelo 303 (T%d) y modelo 390 (%d) con placeholders", quarter, now.Year()),
				"Proyección de tesorería trimestral",
			}},
			{Heading: "Próximos pasos", Items: []string{
				"Registrar certificados digitales",
				"Sincronizar contabilidad con las cuentas bancarias",
			}},
		},
		Metrics: map[string]any{"templates_generated": 3},
		Notes:   "Paquete fiscal generado. Archivos disponibles en",
	}
}

func legalKit(_ model.Activity, _ time.Time) document {
	privacy := "ZEUS IA recopila los datos estrictamente necesarios para automatizar operaciones. " +
		"Los datos se cifran en reposo y en tránsito. Los clientes pueden solicitar acceso, rectificación y eliminación en cualquier momento."
	terms := "Al activar ZEUS IA aceptas que el sistema orquestará procesos automatizados en ventas, soporte y finanzas. " +
		"El cliente es responsable de proporcionar credenciales válidas y mantener la información fiscal actualizada."
	return document{
		Title:   "Documentación Legal ZEUS IA",
		Summary: "Documentación legal base preparada para prelanzamiento y auditoría RGPD.",
		Payload: map[string]any{
			"privacy_policy":   privacy,
			"terms_of_service": terms,
			"compliance_checklist": map[string]any{
				"gdpr":   []string{"Contrato de encargado firmado", "Registro de tratamientos actualizado", "DPIA aprobada"},
				"alerts": []string{"Rotar credenciales cada 90 días", "Registrar accesos a información sensible"},
			},
		},
		Sections: []section{
			{Heading: "Política de Privacidad", Text: privacy},
			{Heading: "Términos de Servicio", Text: terms},
			{Heading: "Checklist de Cumplimiento", Items: []string{
				"RGPD: contrato de encargado, registro de tratamientos y DPIA.",
				"Alertas: rotación de credenciales y registro de accesos.",
			}},
		},
		Metrics: map[string]any{"docs_generated": 3},
		Notes:   "Kit legal generado y listo para revisión. Archivos:",
	}
}

func supportPlaybook(_ model.Activity, now time.Time) document {
	day := func(offset int) string { return now.AddDate(0, 0, offset).Format(time.DateOnly) }
	resources := []string{
		"Vídeo demo de 5 minutos",
		"FAQ de soporte primario",
		"Plantilla de toma de requisitos para nuevos clientes",
	}
	return document{
		Title:   "Playbook de Soporte ZEUS IA",
		Summary: "Playbook de soporte y onboarding generado para las primeras cuatro semanas.",
		Payload: map[string]any{
			"support_schedule": map[string]any{
				"week_1": []map[string]string{
					{"day": day(0), "channel": "Email", "goal": "Confirmar acceso al panel"},
					{"day": day(2), "channel": "Email", "goal": "Enviar manual de uso"},
				},
				"week_2": []map[string]string{
					{"day": day(7), "channel": "Videollamada", "goal": "Revisión de métricas"},
					{"day": day(10), "channel": "Email", "goal": "Checklist de seguridad"},
				},
			},
			"onboarding_manual": map[string]any{
				"modules":   []string{"Bienvenida a ZEUS IA", "Configuraciones críticas", "Operación diaria y aprobaciones HITL"},
				"resources": resources,
			},
		},
		Sections: []section{
			{Heading: "Resumen", Text: "Playbook de soporte y onboarding generado para las primeras cuatro semanas."},
			{Heading: "Agenda de contacto", Items: []string{
				"Semana 1: activación y envío de manual.",
				"Semana 2: revisión de métricas y checklist.",
			}},
			{Heading: "Recursos", Items: resources},
		},
		Metrics: map[string]any{"playbooks_generated": 1},
		Notes:   "Playbook de soporte disponible en",
	}
}

func coordinationReport(a model.Activity, now time.Time) document {
	phase := "pre-launch"
	if p, ok := a.Details["phase"].(string); ok && p != "" {
		phase = p
	}
	summary := []string{
		"Plan maestro activo.",
		"Tareas delegadas a agentes secundarios en curso.",
	}
	return document{
		Title:   "Informe ZEUS CORE",
		Summary: "Informe maestro de coordinación actualizado.",
		Payload: map[string]any{
			"generated_at": now.Format(time.RFC3339),
			"phase":        phase,
			"timeline":     a.Details["timeline"],
			"reporting":    a.Details["reporting"],
			"status":       summary,
		},
		Sections: []section{
			{Heading: "Resumen", Items: summary},
			{Heading: "Fase", Text: phase},
			{Heading: "Líneas de trabajo", Items: []string{
				"Marketing coordinado con PERSEO.",
				"Fiscalidad con RAFAEL.",
				"Seguridad monitorizada por THALOS.",
				"Legal con JUSTICIA.",
			}},
		},
		Metrics: map[string]any{"coordination_reports": 1},
		Notes:   "Informe de coordinación generado. Archivos en",
	}
}
