package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Offline answers without a model. The reply echoes the request so chat
// round-trips and memory writes work in development and tests.
type Offline struct{}

func (Offline) Name() string { return "offline" }

// offlineEchoLimit caps how much of the user message is echoed back.
const offlineEchoLimit = 280

func (Offline) Complete(_ context.Context, r Request) (Completion, error) {
	var last string
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			last = r.Messages[i].Content
			break
		}
	}
	// Agents append a context block after the user text; only echo the text.
	if i := strings.Index(last, "\n\nContexto adicional:"); i >= 0 {
		last = last[:i]
	}
	last = strings.TrimSpace(last)
	if utf8.RuneCountInString(last) > offlineEchoLimit {
		last = string([]rune(last)[:offlineEchoLimit]) + "..."
	}

	content := fmt.Sprintf("Solicitud recibida: %q. Modo sin conexión: no hay proveedor LLM configurado, la respuesta se generó localmente.", last)
	return Completion{Content: content, Model: "offline"}, nil
}
