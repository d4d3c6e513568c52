package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode"

	"github.com/zeus-ia/zeus/internal/llm"
	"github.com/zeus-ia/zeus/internal/model"
)

// Persona is the static description of an agent.
type Persona struct {
	Name          string
	Role          string
	Domain        string
	SystemPrompt  string
	Temperature   float64
	MaxTokens     int
	HITLThreshold float64
}

// Base carries what every persona shares: the prompt, the provider call and
// the confidence, reasoning and HITL heuristics.
type Base struct {
	persona     Persona
	provider    llm.Provider
	hitlEnabled bool
	logger      *slog.Logger
}

func newBase(p Persona, deps Deps) *Base {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	provider := deps.Provider
	if provider == nil {
		provider = llm.Offline{}
	}
	return &Base{
		persona:     p,
		provider:    provider,
		hitlEnabled: deps.HITLEnabled,
		logger:      logger.With("agent", p.Name),
	}
}

func (b *Base) Name() string { return b.persona.Name }

// Persona returns the agent's static description.
func (b *Base) Persona() Persona { return b.persona }

// historyWindow bounds how many buffered turns go into the prompt context.
const historyWindow = 20

var (
	highConfidenceWords = []string{"definitivamente", "claramente", "sin duda", "ciertamente", "seguro"}
	lowConfidenceWords  = []string{"quizás", "tal vez", "posiblemente", "podría", "no estoy seguro", "depende"}
	uncertaintyPhrases  = []string{"no estoy seguro", "necesito más información", "requiere revisión"}
	reasoningMarkers    = []string{"porque", "debido a", "razón:", "razonamiento:", "esto se debe", "considerando que", "dado que"}
)

// Confidence scores content: 0.8 baseline, +0.05 per assertive word up to
// 0.95, -0.15 per hedging word down to 0.4, rounded to two decimals.
func Confidence(content string) float64 {
	text := strings.ToLower(content)
	c := 0.8
	for _, kw := range highConfidenceWords {
		if strings.Contains(text, kw) {
			c = math.Min(0.95, c+0.05)
		}
	}
	for _, kw := range lowConfidenceWords {
		if strings.Contains(text, kw) {
			c = math.Max(0.4, c-0.15)
		}
	}
	return math.Round(c*100) / 100
}

// ExtractReasoning returns the "reasoning" field of a JSON reply, else the
// sentence that starts at the first reasoning marker, else the first 200
// characters.
func ExtractReasoning(content string) string {
	if r, ok := jsonReasoning(content); ok {
		return r
	}

	runes := []rune(content)
	lower := make([]rune, len(runes))
	for i, r := range runes {
		lower[i] = unicode.ToLower(r)
	}
	for _, marker := range reasoningMarkers {
		start := indexRunes(lower, []rune(marker), 0)
		if start < 0 {
			continue
		}
		end := indexRunes(runes, []rune("."), start+50)
		if end < 0 {
			end = len(runes)
		}
		return strings.TrimSpace(string(runes[start:end]))
	}

	if len(runes) > 200 {
		return string(runes[:200]) + "..."
	}
	return content
}

func jsonReasoning(content string) (string, bool) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &obj); err != nil {
		return "", false
	}
	v, ok := obj["reasoning"]
	if !ok {
		return "", false
	}
	if str, ok := v.(string); ok {
		return str, true
	}
	return fmt.Sprint(v), true
}

func indexRunes(haystack, needle []rune, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// needsReview applies the shared HITL rules. They are off when HITL is
// disabled.
func (b *Base) needsReview(confidence float64, content string) bool {
	if !b.hitlEnabled {
		return false
	}
	if confidence < b.persona.HITLThreshold {
		b.logger.Info("hitl: low confidence", "confidence", confidence, "threshold", b.persona.HITLThreshold)
		return true
	}
	text := strings.ToLower(content)
	for _, kw := range uncertaintyPhrases {
		if strings.Contains(text, kw) {
			b.logger.Info("hitl: uncertainty phrase", "phrase", kw)
			return true
		}
	}
	return false
}

// ReviewRule is a persona-specific HITL trigger evaluated on the reply.
type ReviewRule func(content string) bool

// Decide sends message to the provider with cc attached as context and
// scores the reply. Extra rules are applied on top of the shared ones.
// A provider failure is returned as an error.
func (b *Base) Decide(ctx context.Context, message string, cc model.ChatContext, extra ...ReviewRule) (model.Decision, error) {
	contextBlock, err := contextJSON(cc)
	if err != nil {
		return model.Decision{}, fmt.Errorf("agent: %s: encode context: %w", b.persona.Name, err)
	}

	completion, err := b.provider.Complete(ctx, llm.Request{
		System:      b.persona.SystemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: message + "\n\nContexto adicional:\n" + contextBlock}},
		Temperature: b.persona.Temperature,
		MaxTokens:   b.persona.MaxTokens,
	})
	if err != nil {
		return model.Decision{}, fmt.Errorf("agent: %s: %w", b.persona.Name, err)
	}

	content := completion.Content
	confidence := Confidence(content)
	hitl := b.needsReview(confidence, content)
	for _, rule := range extra {
		if hitl {
			break
		}
		hitl = rule(content)
	}

	return model.Decision{
		Success:               true,
		Agent:                 b.persona.Name,
		Content:               content,
		Confidence:            confidence,
		HumanApprovalRequired: hitl,
		Reasoning:             ExtractReasoning(content),
		Metadata: map[string]any{
			"role":     b.persona.Role,
			"model":    completion.Model,
			"tokens":   completion.TotalTokens,
			"provider": b.provider.Name(),
		},
	}, nil
}

// contextJSON renders the request context the way the prompt embeds it.
func contextJSON(cc model.ChatContext) (string, error) {
	history := cc.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	block := map[string]any{
		"user_message":         cc.Message,
		"company_id":           cc.Identity.CompanyID,
		"thread_id":            cc.Identity.ThreadID,
		"conversation_history": history,
	}
	if cc.RequestType != "" {
		block["type"] = cc.RequestType
	}
	if st := cc.Memory.Operational; st.CurrentTask != "" || st.Status != "" {
		block["operational_state"] = st
	}
	if len(cc.Recalled) > 0 {
		recalled := make([]string, 0, len(cc.Recalled))
		for _, e := range cc.Recalled {
			recalled = append(recalled, e.Content)
		}
		block["recalled"] = recalled
	}
	for k, v := range cc.Metadata {
		if _, taken := block[k]; !taken {
			block[k] = v
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(block); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// metaText reads a metadata value as text, or def when absent.
func metaText(cc model.ChatContext, key, def string) string {
	v, ok := cc.Metadata[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return def
		}
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, fmt.Sprint(p))
		}
		if len(parts) == 0 {
			return def
		}
		return strings.Join(parts, ", ")
	case []string:
		if len(t) == 0 {
			return def
		}
		return strings.Join(t, ", ")
	default:
		return fmt.Sprint(t)
	}
}

// requestType returns the caller-declared request type, or "general".
func requestType(cc model.ChatContext) string {
	if cc.RequestType != "" {
		return cc.RequestType
	}
	return metaText(cc, "type", "general")
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// withMeta merges extra keys into d.Metadata.
func withMeta(d model.Decision, kv map[string]any) model.Decision {
	if d.Metadata == nil {
		d.Metadata = make(map[string]any, len(kv))
	}
	for k, v := range kv {
		d.Metadata[k] = v
	}
	return d
}
