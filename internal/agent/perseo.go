package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/zeus-ia/zeus/internal/model"
)

// Perseo handles marketing and growth requests.
type Perseo struct {
	*Base
}

// NewPerseo builds the marketing persona.
func NewPerseo(deps Deps) *Perseo {
	return &Perseo{Base: newBase(PerseoPersona, deps)}
}

func (p *Perseo) ProcessRequest(ctx context.Context, cc model.ChatContext) (model.Decision, error) {
	reqType := requestType(cc)

	msg := cc.Message
	switch reqType {
	case "campaign":
		msg = fmt.Sprintf(`%s

Contexto adicional:
- Audiencia objetivo: %s
- Presupuesto: %s
- Duración: %s

Por favor, proporciona:
1. Estrategia de canales (Google Ads, Facebook, Instagram, etc.)
2. Presupuesto recomendado por canal
3. KPIs a trackear
4. Cronograma de implementación
5. Métricas de éxito esperadas
`, cc.Message,
			metaText(cc, "target_audience", "no especificada"),
			metaText(cc, "budget", "no especificado"),
			metaText(cc, "duration", "no especificado"))
	case "seo":
		msg = fmt.Sprintf(`%s

Contexto adicional:
- Website: %s
- Keywords objetivo: %s

Por favor, proporciona:
1. Análisis de keywords actuales
2. Oportunidades de optimización
3. Estrategia de contenido
4. Recomendaciones técnicas (velocidad, mobile, estructura)
5. Timeline de implementación
`, cc.Message,
			metaText(cc, "website", "no especificado"),
			metaText(cc, "keywords", "no especificadas"))
	}

	d, err := p.Decide(ctx, msg, cc, perseoReview)
	if err != nil {
		return model.Decision{}, err
	}
	return withMeta(d, map[string]any{"domain": p.persona.Domain, "request_type": reqType}), nil
}

var (
	integerPattern     = regexp.MustCompile(`\d+`)
	budgetWords        = []string{"€", "euros", "presupuesto"}
	strategicShiftWord = []string{"rebranding", "cambio de estrategia", "nueva dirección", "pivote"}
)

// perseoReview parks replies that mention a budget above 1000 or a change
// of strategic direction.
func perseoReview(content string) bool {
	text := strings.ToLower(content)
	if containsAny(text, budgetWords) {
		for _, s := range integerPattern.FindAllString(text, -1) {
			n, err := strconv.Atoi(s)
			if err != nil || n > 1000 {
				return true
			}
		}
	}
	return containsAny(text, strategicShiftWord)
}
