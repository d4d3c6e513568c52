package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/zeus-ia/zeus/internal/model"
)

// Rafael handles fiscal and accounting requests for Spain.
type Rafael struct {
	*Base
	country string
}

// NewRafael builds the fiscal persona.
func NewRafael(deps Deps) *Rafael {
	return &Rafael{Base: newBase(RafaelPersona, deps), country: "ES"}
}

func (r *Rafael) ProcessRequest(ctx context.Context, cc model.ChatContext) (model.Decision, error) {
	reqType := requestType(cc)

	msg := cc.Message
	switch reqType {
	case "invoice":
		msg = fmt.Sprintf(`%s

Datos de la factura:
- Cliente: %s
- Importe: %s€
- Concepto: %s

Por favor, proporciona:
1. IVA aplicable (21%%, 10%%, 4%% o exento)
2. Retención IRPF si aplica
3. Total a facturar
4. Formato recomendado
5. Información adicional requerida según normativa
`, cc.Message,
			metaText(cc, "client_name", "no especificado"),
			metaText(cc, "amount", "no especificado"),
			metaText(cc, "concept", "no especificado"))
	case "tax":
		msg = fmt.Sprintf(`%s

Contexto fiscal:
- Período: %s
- Tipo de impuesto: %s

Por favor, proporciona:
1. Normativa aplicable
2. Cálculo detallado
3. Fecha límite de presentación
4. Documentación necesaria
5. Posibles deducciones u optimizaciones
`, cc.Message,
			metaText(cc, "period", "no especificado"),
			metaText(cc, "tax_type", "no especificado"))
	case "deduction":
		msg = fmt.Sprintf(`%s

Gasto a analizar:
- Tipo: %s
- Importe: %s€

Por favor, determina:
1. ¿Es deducible? (sí/no/parcial)
2. Porcentaje de deducción aplicable
3. Requisitos para la deducción (factura, justificación, etc.)
4. IVA deducible
5. Documentación necesaria
`, cc.Message,
			metaText(cc, "expense_type", "no especificado"),
			metaText(cc, "amount", "no especificado"))
	}

	d, err := r.Decide(ctx, msg, cc, rafaelReview)
	if err != nil {
		return model.Decision{}, err
	}
	return withMeta(d, map[string]any{
		"domain":       r.persona.Domain,
		"country":      r.country,
		"request_type": reqType,
	}), nil
}

var (
	decimalPattern      = regexp.MustCompile(`\d+(?:\.\d+)?`)
	variationWords      = []string{"variación", "diferencia"}
	fiscalUncertainWord = []string{
		"ambiguo", "poco claro", "interpretación", "consulta vinculante",
		"requiere asesor", "caso especial", "normativa nueva",
	}
)

// rafaelReview parks replies with amounts above 5000, variations above 10
// or signs of ambiguous regulation.
func rafaelReview(content string) bool {
	text := strings.ToLower(content)
	var numbers []float64
	for _, s := range decimalPattern.FindAllString(text, -1) {
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			numbers = append(numbers, n)
		}
	}
	for _, n := range numbers {
		if n > 5000 {
			return true
		}
	}
	if containsAny(text, variationWords) {
		for _, n := range numbers {
			if n > 10 {
				return true
			}
		}
	}
	return containsAny(text, fiscalUncertainWord)
}
