package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openAIChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		assert.Equal(t, "gpt-4o-mini", req.Model)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, RoleSystem, req.Messages[0].Role)
			assert.Equal(t, "Eres PERSEO", req.Messages[0].Content)
		}
		assert.Equal(t, 0.7, req.Temperature)
		assert.Equal(t, 500, req.MaxTokens)

		_, _ = w.Write([]byte(`{"model":"gpt-4o-mini-2024","choices":[{"message":{"content":"Claramente sí."}}],"usage":{"total_tokens":42}}`))
	}))
	defer server.Close()

	p := NewOpenAI("sk-test", "").WithURL(server.URL)
	got, err := p.Complete(context.Background(), Request{
		System:      "Eres PERSEO",
		Messages:    []Message{{Role: RoleUser, Content: "Hola"}},
		Temperature: 0.7,
		MaxTokens:   500,
	})
	require.NoError(t, err)
	assert.Equal(t, "Claramente sí.", got.Content)
	assert.Equal(t, "gpt-4o-mini-2024", got.Model)
	assert.Equal(t, 42, got.TotalTokens)
}

func TestOpenAICompleteErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"http status", http.StatusTooManyRequests, `{"error":"slow down"}`, "status 429"},
		{"api error", http.StatusOK, `{"error":{"type":"invalid_request_error","message":"bad model"}}`, "bad model"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no choices"},
		{"garbage", http.StatusOK, `not json`, "decode response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewOpenAI("k", "m").WithURL(server.URL).Complete(context.Background(), Request{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOllamaComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		assert.False(t, req.Stream)
		assert.Equal(t, "llama3.1", req.Model)
		assert.Equal(t, 0.3, req.Options.Temperature)

		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"IVA trimestral: modelo 303."},"prompt_eval_count":10,"eval_count":7}`))
	}))
	defer server.Close()

	got, err := NewOllama(server.URL, "llama3.1").Complete(context.Background(), Request{
		System:      "Eres RAFAEL",
		Messages:    []Message{{Role: RoleUser, Content: "¿Qué modelo de IVA?"}},
		Temperature: 0.3,
	})
	require.NoError(t, err)
	assert.Equal(t, "IVA trimestral: modelo 303.", got.Content)
	assert.Equal(t, 17, got.TotalTokens)
}

func TestOllamaCompleteStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewOllama(server.URL, "missing").Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestOfflineEchoesUserText(t *testing.T) {
	t.Parallel()
	got, err := Offline{}.Complete(context.Background(), Request{
		Messages: []Message{
			{Role: RoleUser, Content: "primero"},
			{Role: RoleAssistant, Content: "vale"},
			{Role: RoleUser, Content: "Hola\n\nContexto adicional:\n{\"x\":1}"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, got.Content, `"Hola"`)
	assert.NotContains(t, got.Content, "Contexto adicional")
	assert.Equal(t, "offline", got.Model)
}

func TestOfflineTruncatesLongInput(t *testing.T) {
	t.Parallel()
	got, err := Offline{}.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: strings.Repeat("ñ", 400)}},
	})
	require.NoError(t, err)
	assert.Contains(t, got.Content, strings.Repeat("ñ", offlineEchoLimit)+"...")
	assert.NotContains(t, got.Content, strings.Repeat("ñ", offlineEchoLimit+1))
}

func TestNewSelectsProvider(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.DiscardHandler)
	tests := []struct {
		name string
		s    Settings
		want string
	}{
		{"explicit offline", Settings{Provider: "offline", OpenAIAPIKey: "k"}, "offline"},
		{"openai without key", Settings{Provider: "openai"}, "offline"},
		{"openai", Settings{Provider: "openai", OpenAIAPIKey: "k"}, "openai"},
		{"ollama", Settings{Provider: "ollama", OllamaURL: "http://127.0.0.1:1"}, "ollama"},
		{"auto with key", Settings{Provider: "auto", OpenAIAPIKey: "k"}, "openai"},
		{"auto with nothing", Settings{Provider: "auto"}, "offline"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, New(tt.s, logger).Name(), tt.name)
	}
}
