package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// ChatModel is the model used for completions (default: qwen2.5:7b)
	ChatModel string

	// EmbedModel is the model used for embeddings (default: nomic-embed-text)
	EmbedModel string

	// Timeout is the request timeout duration (default: 30s)
	Timeout time.Duration
}

// OllamaClient handles communication with a local Ollama instance. A single
// client serves both completion and embedding calls; each endpoint gets its
// own circuit breaker so an embedding outage does not trip the chat path.
type OllamaClient struct {
	cfg          OllamaConfig
	client       *http.Client
	chatBreaker  *Breaker
	embedBreaker *Breaker
}

// NewOllamaClient creates a new Ollama client with the given configuration.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "qwen2.5:7b"
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "nomic-embed-text"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OllamaClient{
		cfg:          cfg,
		client:       &http.Client{Timeout: cfg.Timeout},
		chatBreaker:  NewBreaker("ollama-chat"),
		embedBreaker: NewBreaker("ollama-embed"),
	}
}

// generateRequest is the request body for POST /api/generate.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateResponse is the response body from POST /api/generate.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// embedRequest is the request body for POST /api/embed.
type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse is the response body from POST /api/embed. The embeddings
// field is a 2D array; the first row is the embedding for our single input.
type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Complete sends a completion request to Ollama and returns the response text.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	result, err := c.chatBreaker.Execute(ctx, func() (interface{}, error) {
		return c.complete(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("ollama circuit breaker open: %w", err)
		}
		return "", err
	}
	return result.(string), nil
}

func (c *OllamaClient) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var resp generateResponse
	err := postJSON(ctx, c.client, "ollama", c.cfg.BaseURL+"/api/generate", "",
		generateRequest{Model: c.cfg.ChatModel, Prompt: prompt, Stream: false}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Response, nil
}

// Embed generates an embedding vector for the given text.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float64, error) {
	result, err := c.embedBreaker.Execute(ctx, func() (interface{}, error) {
		return c.embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("ollama embedding circuit breaker open: %w", err)
		}
		return nil, err
	}
	return result.([]float64), nil
}

func (c *OllamaClient) embed(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var resp embedResponse
	err := postJSON(ctx, c.client, "ollama", c.cfg.BaseURL+"/api/embed", "",
		embedRequest{Model: c.cfg.EmbedModel, Input: text}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama returned empty embedding vector")
	}
	return resp.Embeddings[0], nil
}

// HealthCheck verifies that Ollama is reachable via /api/version. It does
// not use the circuit breakers since it is a health check itself.
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.cfg.BaseURL+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// GetModel returns the configured chat model name.
func (c *OllamaClient) GetModel() string {
	return c.cfg.ChatModel
}

// Compile-time assertions.
var _ TextGenerator = (*OllamaClient)(nil)
var _ EmbeddingGenerator = (*OllamaClient)(nil)
