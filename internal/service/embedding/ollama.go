package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"
)

const (
	// ollamaChunk is how many inputs go into one /api/embed call.
	ollamaChunk = 16
	// ollamaParallel bounds chunks in flight against one local GPU.
	ollamaParallel = 2
)

// OllamaProvider embeds text with a local Ollama server.
type OllamaProvider struct {
	endpoint   string
	model      string
	dimensions int
	client     *http.Client
}

// NewOllamaProvider targets baseURL (default http://localhost:11434).
// dimensions is the model's native size, 1024 for mxbai-embed-large; zero
// skips the size check.
func NewOllamaProvider(baseURL, model string, dimensions int) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		endpoint:   strings.TrimRight(baseURL, "/") + "/api/embed",
		model:      model,
		dimensions: dimensions,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *OllamaProvider) Dimensions() int { return p.dimensions }

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the vector for one text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vecs, err := p.embed(ctx, []string{text})
	if err != nil {
		return pgvector.Vector{}, err
	}
	return vecs[0], nil
}

// EmbedBatch splits texts into chunks and embeds them concurrently,
// keeping input order.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([]pgvector.Vector, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ollamaParallel)
	for start := 0; start < len(texts); start += ollamaChunk {
		end := min(start+ollamaChunk, len(texts))
		g.Go(func() error {
			vecs, err := p.embed(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("ollama: inputs %d-%d: %w", start, end-1, err)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *OllamaProvider) embed(ctx context.Context, inputs []string) ([]pgvector.Vector, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("ollama: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var decoded ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	if len(decoded.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("ollama: got %d embeddings for %d inputs", len(decoded.Embeddings), len(inputs))
	}

	vecs := make([]pgvector.Vector, len(inputs))
	for i, e := range decoded.Embeddings {
		switch {
		case len(e) == 0:
			return nil, errors.New("ollama: empty embedding returned")
		case p.dimensions > 0 && len(e) != p.dimensions:
			return nil, fmt.Errorf("ollama: model returned %d dimensions, want %d", len(e), p.dimensions)
		}
		vecs[i] = pgvector.NewVector(e)
	}
	return vecs, nil
}
