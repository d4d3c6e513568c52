// Package embedding turns text into vectors for long-term recall.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, text string) (pgvector.Vector, error)
	EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error)
	Dimensions() int
}

// Settings selects and configures a provider.
type Settings struct {
	Provider     string // "auto", "openai", "ollama" or "noop"
	OpenAIAPIKey string
	OpenAIModel  string
	OllamaURL    string
	OllamaModel  string
	Dimensions   int
}

// New returns the provider described by s. Misconfiguration falls back to
// Noop so recall keeps working by recency.
func New(s Settings, reachable func(baseURL string) bool, logger *slog.Logger) Provider {
	dims := s.Dimensions
	openai := func(source string) Provider {
		p, err := NewOpenAIProvider(s.OpenAIAPIKey, s.OpenAIModel, dims)
		if err != nil {
			logger.Error("embedding: openai provider init failed", "error", err)
			return NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai"+source, "model", s.OpenAIModel, "dimensions", dims)
		return p
	}

	switch s.Provider {
	case "openai":
		return openai("")
	case "ollama":
		logger.Info("embedding provider: ollama", "url", s.OllamaURL, "model", s.OllamaModel, "dimensions", dims)
		return NewOllamaProvider(s.OllamaURL, s.OllamaModel, dims)
	case "noop":
		logger.Info("embedding provider: noop (recall by recency)")
		return NewNoopProvider(dims)
	default:
		if reachable != nil && reachable(s.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", s.OllamaURL, "model", s.OllamaModel, "dimensions", dims)
			return NewOllamaProvider(s.OllamaURL, s.OllamaModel, dims)
		}
		if s.OpenAIAPIKey != "" {
			return openai(" (auto-detected)")
		}
		logger.Warn("no embedding provider available, using noop (recall by recency)")
		return NewNoopProvider(dims)
	}
}

// IsNoop reports whether p produces no usable vectors.
func IsNoop(p Provider) bool {
	if p == nil {
		return true
	}
	_, ok := p.(*NoopProvider)
	return ok
}

const openAIEmbeddingsURL = "https://api.openai.com/v1/embeddings"

// OpenAIProvider generates embeddings using the OpenAI API.
type OpenAIProvider struct {
	apiKey     string
	model      string
	url        string
	httpClient *http.Client
	dimensions int
}

// NewOpenAIProvider creates an OpenAI embedding provider. The text-embedding-3
// models are asked to shorten their output to dimensions.
func NewOpenAIProvider(apiKey, model string, dimensions int) (*OpenAIProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("embedding: openai api key is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("embedding: invalid dimensions %d", dimensions)
	}
	return &OpenAIProvider{
		apiKey:     apiKey,
		model:      model,
		url:        openAIEmbeddingsURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dimensions: dimensions,
	}, nil
}

// Dimensions returns the embedding vector size.
func (p *OpenAIProvider) Dimensions() int {
	return p.dimensions
}

type openAIRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Embed generates a single embedding.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return pgvector.Vector{}, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in a single API call.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody, err := json.Marshal(openAIRequest{Input: texts, Model: p.model, Dimensions: p.dimensions})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("embedding: read response: %w", err)
	}
	var result openAIResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("embedding: unmarshal response (status %d): %w", resp.StatusCode, err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("embedding: openai error: %s: %s", result.Error.Type, result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding: unexpected status %d", resp.StatusCode)
	}

	vecs := make([]pgvector.Vector, len(texts))
	seen := 0
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding: invalid index %d in response", d.Index)
		}
		vecs[d.Index] = pgvector.NewVector(d.Embedding)
		seen++
	}
	if seen != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d inputs", seen, len(texts))
	}
	return vecs, nil
}

// NoopProvider returns zero vectors. Used when no provider is configured.
type NoopProvider struct {
	dims int
}

// NewNoopProvider creates a provider that returns zero vectors.
func NewNoopProvider(dims int) *NoopProvider {
	return &NoopProvider{dims: dims}
}

func (p *NoopProvider) Dimensions() int { return p.dims }

func (p *NoopProvider) Embed(_ context.Context, _ string) (pgvector.Vector, error) {
	return pgvector.NewVector(make([]float32, p.dims)), nil
}

func (p *NoopProvider) EmbedBatch(_ context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs := make([]pgvector.Vector, len(texts))
	for i := range vecs {
		vecs[i] = pgvector.NewVector(make([]float32, p.dims))
	}
	return vecs, nil
}
