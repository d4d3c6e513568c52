package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultOpenAIURL = "https://api.openai.com/v1/chat/completions"

// OpenAI calls the OpenAI chat completions API.
type OpenAI struct {
	apiKey     string
	model      string
	url        string
	httpClient *http.Client
}

// NewOpenAI creates an OpenAI provider. An empty model defaults to gpt-4o-mini.
func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAI{
		apiKey:     apiKey,
		model:      model,
		url:        defaultOpenAIURL,
		httpClient: newHTTPClient(),
	}
}

// WithURL returns a copy of p that posts to url instead of the public API.
func (p *OpenAI) WithURL(url string) *OpenAI {
	cp := *p
	cp.url = url
	return &cp
}

func (p *OpenAI) Name() string { return "openai" }

type openAIChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *OpenAI) Complete(ctx context.Context, r Request) (Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
	defer cancel()

	body, err := json.Marshal(openAIChatRequest{
		Model:       p.model,
		Messages:    r.messages(),
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("llm: openai: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("llm: openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Completion{}, fmt.Errorf("llm: openai: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Completion{}, fmt.Errorf("llm: openai: status %d: %s", resp.StatusCode, string(respBody))
	}

	var result openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Completion{}, fmt.Errorf("llm: openai: decode response: %w", err)
	}
	if result.Error != nil {
		return Completion{}, fmt.Errorf("llm: openai: %s: %s", result.Error.Type, result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return Completion{}, fmt.Errorf("llm: openai: no choices in response")
	}

	model := result.Model
	if model == "" {
		model = p.model
	}
	return Completion{
		Content:     result.Choices[0].Message.Content,
		Model:       model,
		TotalTokens: result.Usage.TotalTokens,
	}, nil
}
