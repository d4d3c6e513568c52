package agent

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/zeus-ia/zeus/internal/model"
)

// Afrodita handles HR and logistics requests. Fiscal and legal questions are
// first put to RAFAEL and JUSTICIA and their answers appended to the prompt.
type Afrodita struct {
	*Base
	peers Lookup
}

// NewAfrodita builds the HR persona. peers resolves the agents she consults.
func NewAfrodita(deps Deps, peers Lookup) *Afrodita {
	return &Afrodita{Base: newBase(AfroditaPersona, deps), peers: peers}
}

var (
	fiscalHelpWords = []string{"fiscal", "impuesto", "iva", "irpf", "hacienda", "nómina", "seguridad social"}
	legalHelpWords  = []string{"legal", "contrato", "despido", "baja", "gdpr", "privacidad"}
)

// consultExcerpt caps how much of a peer answer is appended.
const consultExcerpt = 500

func (a *Afrodita) ProcessRequest(ctx context.Context, cc model.ChatContext) (model.Decision, error) {
	msg := cc.Message
	if !cc.InterAgent {
		lower := strings.ToLower(cc.Message)
		if containsAny(lower, fiscalHelpWords) {
			msg += a.consult(ctx, NameRafael, "fiscal", cc)
		}
		if containsAny(lower, legalHelpWords) {
			msg += a.consult(ctx, NameJusticia, "legal", cc)
		}
	}

	queryType := ClassifyQuery(cc.Message)
	d, err := a.Decide(ctx, msg, cc)
	if err != nil {
		return model.Decision{}, err
	}
	return withMeta(d, map[string]any{
		"query_type":        queryType,
		"channel":           metaText(cc, "channel", "chat"),
		"priority":          metaText(cc, "priority", "normal"),
		"domain":            a.persona.Domain,
		"requires_approval": slices.Contains([]string{"nomina", "despido", "contrato"}, queryType),
		"escalate_to_zeus":  false,
	}), nil
}

// consult asks a peer agent and returns the text to append, or "" when the
// peer is missing or fails.
func (a *Afrodita) consult(ctx context.Context, peer, topic string, cc model.ChatContext) string {
	if a.peers == nil {
		return ""
	}
	target, ok := a.peers.Lookup(peer)
	if !ok {
		return ""
	}

	ask := cc
	ask.Message = fmt.Sprintf("AFRODITA necesita información %s para: %s", topic, cc.Message)
	ask.InterAgent = true
	ask.RequestType = ""

	d, err := target.ProcessRequest(ctx, ask)
	if err != nil {
		a.logger.Warn("consult failed", "peer", peer, "error", err)
		return ""
	}
	if !d.Success {
		return ""
	}
	content := []rune(d.Content)
	if len(content) > consultExcerpt {
		content = content[:consultExcerpt]
	}
	return fmt.Sprintf("\n\n[Información de %s]: %s", peer, string(content))
}

type queryCategory struct {
	name  string
	words []string
}

var queryCategories = []queryCategory{
	{"vacaciones", []string{"vacaciones", "dias libres", "ausencia"}},
	{"fichaje", []string{"fichaje", "horario", "entrada", "salida"}},
	{"nomina", []string{"nomina", "salario", "pago", "sueldo"}},
	{"logistica", []string{"ruta", "reparto", "entrega", "logistica"}},
	{"flota", []string{"vehiculo", "flota", "mantenimiento"}},
	{"contrato", []string{"contrato", "alta", "baja", "empleado"}},
	{"conflicto", []string{"conflicto", "problema", "queja"}},
}

// ClassifyQuery returns the first HR category whose keywords appear in
// message, or "general".
func ClassifyQuery(message string) string {
	lower := strings.ToLower(message)
	for _, c := range queryCategories {
		if containsAny(lower, c.words) {
			return c.name
		}
	}
	return "general"
}
