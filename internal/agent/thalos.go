package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/zeus-ia/zeus/internal/model"
	"github.com/zeus-ia/zeus/internal/safeguard"
)

// Thalos handles security requests. Every request goes through the
// safeguard policy: protected targets are refused before the model is
// called and destructive recommendations always need a human.
type Thalos struct {
	*Base
	policy *safeguard.Policy
}

// NewThalos builds the security persona. It fails when the safeguard
// configuration is unsafe.
func NewThalos(deps Deps) (*Thalos, error) {
	policy, err := safeguard.New(deps.Safeguard)
	if err != nil {
		return nil, err
	}
	return &Thalos{Base: newBase(ThalosPersona, deps), policy: policy}, nil
}

func (t *Thalos) ProcessRequest(ctx context.Context, cc model.ChatContext) (model.Decision, error) {
	reqType := requestType(cc)
	req := safeguard.Request{
		Agent:      t.persona.Name,
		TargetIP:   firstNonEmpty(cc.TargetIP, cc.MetaString("target_ip")),
		TargetUser: firstNonEmpty(cc.TargetUser, cc.MetaString("target_user")),
	}

	d, err := t.policy.Evaluate(ctx, req, func(ctx context.Context) (model.Decision, error) {
		return t.Decide(ctx, t.enhance(reqType, cc), cc, t.criticalReview)
	})
	if err != nil {
		return model.Decision{}, err
	}
	if d.Blocked() {
		t.logger.Warn("safeguard block", "reason", d.Reason, "target_ip", req.TargetIP, "target_user", req.TargetUser)
		return d, nil
	}
	return withMeta(d, map[string]any{
		"domain":             t.persona.Domain,
		"request_type":       reqType,
		"safeguards_checked": true,
	}), nil
}

func (t *Thalos) criticalReview(content string) bool {
	return safeguard.IsCriticalAction(t.policy.Config(), content)
}

func (t *Thalos) enhance(reqType string, cc model.ChatContext) string {
	switch reqType {
	case "threat_detection":
		return fmt.Sprintf(`%s

Contexto de amenaza:
- Threat Score: %s
- IP Origen: %s

RECORDATORIO DE SAFEGUARDS:
- NO aislar IPs del creador (%s)
- NO revocar credenciales de usuarios protegidos
- TODA acción destructiva requiere aprobación humana

Proporciona:
1. Análisis del nivel de amenaza (bajo/medio/alto/crítico)
2. Acciones recomendadas (observar/alertar/mitigar/bloquear)
3. Impacto estimado si no se actúa
4. Si requiere intervención humana inmediata
`, cc.Message,
			metaText(cc, "threat_score", "unknown"),
			metaText(cc, "source_ip", "unknown"),
			strings.Join(t.policy.Config().ProtectedIPs, ", "))
	case "incident_response":
		return fmt.Sprintf(`%s

Contexto del incidente:
- Tipo: %s
- Severidad: %s

PROTOCOLOS DE SEGURIDAD:
- Verificar que NO afecta al creador antes de actuar
- Requerir aprobación para acciones irreversibles
- Documentar cada paso

Proporciona:
1. Plan de contención inmediata
2. Pasos de investigación
3. Estrategia de recuperación
4. Prevención futura
`, cc.Message,
			metaText(cc, "incident_type", "unknown"),
			metaText(cc, "severity", "unknown"))
	case "audit":
		return fmt.Sprintf(`%s

Auditoría de seguridad:
- Alcance: %s

Analiza:
1. Vulnerabilidades detectadas
2. Configuraciones inseguras
3. Accesos anómalos
4. Recomendaciones de mejora
5. Nivel de riesgo general
`, cc.Message, metaText(cc, "scope", "full"))
	default:
		return cc.Message
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
