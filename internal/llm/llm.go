// Package llm provides the chat-completion backends agents reason with.
//
// A Provider turns a system prompt plus a message list into one assistant
// reply. OpenAI and Ollama call remote chat APIs; Offline produces a
// deterministic local reply so the runtime works without any network.
package llm

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Message roles accepted by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion call.
type Request struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Completion is the provider's reply.
type Completion struct {
	Content     string
	Model       string
	TotalTokens int
}

// Provider completes chat requests.
type Provider interface {
	Complete(ctx context.Context, req Request) (Completion, error)
	Name() string
}

// perCallTimeout bounds a single completion call.
const perCallTimeout = 60 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: perCallTimeout + 5*time.Second}
}

// messages flattens System into the leading message.
func (r Request) messages() []Message {
	out := make([]Message, 0, len(r.Messages)+1)
	if r.System != "" {
		out = append(out, Message{Role: RoleSystem, Content: r.System})
	}
	return append(out, r.Messages...)
}

// Settings selects and configures a provider.
type Settings struct {
	Provider        string // "auto", "openai", "ollama" or "offline"
	OpenAIAPIKey    string
	OpenAIModel     string
	OllamaURL       string
	OllamaChatModel string
}

// New builds the provider named by s.Provider. "auto" prefers OpenAI when an
// API key is set, then a reachable Ollama, then Offline.
func New(s Settings, logger *slog.Logger) Provider {
	switch s.Provider {
	case "openai":
		if s.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when ZEUS_LLM_PROVIDER=openai, falling back to offline")
			return Offline{}
		}
		logger.Info("llm provider: openai", "model", s.OpenAIModel)
		return NewOpenAI(s.OpenAIAPIKey, s.OpenAIModel)
	case "ollama":
		logger.Info("llm provider: ollama", "url", s.OllamaURL, "model", s.OllamaChatModel)
		return NewOllama(s.OllamaURL, s.OllamaChatModel)
	case "offline":
		logger.Info("llm provider: offline")
		return Offline{}
	default:
		if s.OpenAIAPIKey != "" {
			logger.Info("llm provider: openai (auto-detected)", "model", s.OpenAIModel)
			return NewOpenAI(s.OpenAIAPIKey, s.OpenAIModel)
		}
		if OllamaReachable(s.OllamaURL) {
			logger.Info("llm provider: ollama (auto-detected)", "url", s.OllamaURL, "model", s.OllamaChatModel)
			return NewOllama(s.OllamaURL, s.OllamaChatModel)
		}
		logger.Warn("no llm provider available, using offline replies")
		return Offline{}
	}
}

// OllamaReachable reports whether an Ollama server answers at baseURL.
func OllamaReachable(baseURL string) bool {
	if baseURL == "" {
		return false
	}
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(c, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
