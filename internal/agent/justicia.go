package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/zeus-ia/zeus/internal/model"
)

// Justicia handles legal and data-protection requests. Her conclusions are
// never final: while autoValidation is off every decision is parked.
type Justicia struct {
	*Base
	autoValidation bool
}

// NewJusticia builds the legal persona.
func NewJusticia(deps Deps) *Justicia {
	return &Justicia{Base: newBase(JusticiaPersona, deps)}
}

func (j *Justicia) ProcessRequest(ctx context.Context, cc model.ChatContext) (model.Decision, error) {
	reqType := requestType(cc)

	msg := cc.Message
	switch reqType {
	case "contract":
		msg = fmt.Sprintf(`%s

Revisión de contrato:
- Tipo: %s
- Partes: %s

Analiza:
1. Cláusulas críticas y riesgos
2. Cumplimiento normativo
3. Protección de intereses
4. Cláusulas abusivas o ilegales
5. Recomendaciones de modificación
6. Nivel de riesgo legal (bajo/medio/alto)
`, cc.Message,
			metaText(cc, "contract_type", "no especificado"),
			metaText(cc, "parties", "no especificadas"))
	case "gdpr":
		msg = fmt.Sprintf(`%s

Análisis GDPR:
- Tipo de datos: %s
- Finalidad: %s

Evalúa:
1. Base legal para el tratamiento (Art. 6 GDPR)
2. Necesidad de DPO
3. Evaluación de impacto (DPIA) requerida
4. Derechos de los interesados
5. Medidas de seguridad necesarias
6. Cumplimiento normativo (RGPD/LOPDGDD)
7. Riesgo de sanción
`, cc.Message,
			metaText(cc, "data_type", "no especificado"),
			metaText(cc, "purpose", "no especificado"))
	case "policy":
		msg = fmt.Sprintf(`%s

Política a evaluar:
- Tipo: %s

Revisa:
1. Cumplimiento legal vigente
2. Claridad y comprensibilidad
3. Derechos de usuarios/clientes
4. Consentimiento válido
5. Procedimientos de ejercicio de derechos
6. Actualizaciones necesarias
`, cc.Message, metaText(cc, "policy_type", "no especificado"))
	}

	d, err := j.Decide(ctx, msg, cc, legalRiskReview, j.pendingValidation)
	if err != nil {
		return model.Decision{}, err
	}
	return withMeta(d, map[string]any{
		"domain":                j.persona.Domain,
		"request_type":          reqType,
		"legal_ok":              false,
		"requires_legal_review": true,
	}), nil
}

var highRiskLegalWords = []string{
	"sanción", "multa", "incumplimiento", "ilegal", "prohibido",
	"demanda", "litigio", "contencioso", "infracción",
	"penalty", "fine", "violation", "illegal",
}

func legalRiskReview(content string) bool {
	return containsAny(strings.ToLower(content), highRiskLegalWords)
}

func (j *Justicia) pendingValidation(string) bool {
	return !j.autoValidation
}
