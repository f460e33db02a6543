package llm

import (
	"fmt"

	"github.com/engramdev/engram/internal/config"
)

// NewTextGenerator creates the appropriate TextGenerator from provider config.
func NewTextGenerator(cfg config.ProviderConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIChatModel,
			BaseURL: cfg.OpenAIBaseURL,
			Timeout: cfg.Timeout,
		}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{
			BaseURL:    cfg.OllamaURL,
			ChatModel:  cfg.OllamaChatModel,
			EmbedModel: cfg.OllamaEmbedModel,
			Timeout:    cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %q", cfg.Provider)
	}
}

// NewEmbeddingGenerator creates the appropriate EmbeddingGenerator from
// provider config.
func NewEmbeddingGenerator(cfg config.ProviderConfig) (EmbeddingGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIEmbedModel,
			BaseURL: cfg.OpenAIBaseURL,
			Timeout: cfg.Timeout,
		}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{
			BaseURL:    cfg.OllamaURL,
			ChatModel:  cfg.OllamaChatModel,
			EmbedModel: cfg.OllamaEmbedModel,
			Timeout:    cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %q", cfg.Provider)
	}
}
