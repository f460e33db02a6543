// Package config provides configuration management for Engram.
// It loads settings from environment variables with the ENGRAM_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration settings for the Engram service.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Provider  ProviderConfig
	Retrieval RetrievalConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig
	Features  FeaturesConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 5000)
	Host string // Server host (default: 127.0.0.1)
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	StorageEngine string // Storage engine: sqlite, postgres (default: sqlite)
	SQLitePath    string // Path to SQLite database file (default: ./data/engram.db)
	PostgresDSN   string // PostgreSQL connection string (required when engine=postgres)
}

// ProviderConfig contains embedding/LLM provider configuration.
type ProviderConfig struct {
	Provider          string        // Provider: openai, ollama (default: openai)
	OpenAIAPIKey      string        // OpenAI API key
	OpenAIBaseURL     string        // OpenAI base URL (default: https://api.openai.com)
	OpenAIChatModel   string        // Chat model for intent classification (default: gpt-4o-mini)
	OpenAIEmbedModel  string        // Embedding model (default: text-embedding-3-small)
	OllamaURL         string        // Ollama API URL (default: http://localhost:11434)
	OllamaChatModel   string        // Ollama chat model (default: qwen2.5:7b)
	OllamaEmbedModel  string        // Ollama embedding model (default: nomic-embed-text)
	Timeout           time.Duration // Per-call timeout for provider requests (default: 30s)
	ConfidenceMin     float64       // Minimum classifier confidence before downgrading to clarify (default: 0.75)
	EmbedCacheEntries int           // Bounded embedding cache size (default: 4096)
}

// RetrievalConfig contains the similarity and clarification thresholds.
type RetrievalConfig struct {
	DuplicateThreshold float64       // Similarity at or above which a store is a duplicate (default: 0.85)
	AmbiguityGap       float64       // Max gap between top two scores for a query to be ambiguous (default: 0.05)
	MinCandidates      int           // Minimum candidates before ambiguity is considered (default: 2)
	TopK               int           // Default number of ranked results returned (default: 5)
	SessionTTL         time.Duration // Clarification session lifetime (default: 300s)
}

// RateLimitConfig contains per-key fixed-window rate limiting settings.
// The per-key limiter only applies when API keys are configured; without a
// caller-key scheme there is nothing to count against.
type RateLimitConfig struct {
	WindowSeconds int     // Fixed window length in seconds (default: 60)
	MaxRequests   int     // Max requests per key per window (default: 10)
	GlobalPerSec  float64 // Optional server-wide token bucket rate, 0 disables (default: 0)
	GlobalBurst   int     // Burst size for the global limiter (default: 20)
}

// SecurityConfig contains authentication settings.
type SecurityConfig struct {
	// APIKeys is a comma-separated list of accepted X-API-Key values.
	// Empty disables authentication and, with it, per-key rate limiting.
	APIKeys string
}

// FeaturesConfig contains feature flags.
type FeaturesConfig struct {
	EnableMetrics bool // Expose Prometheus metrics at /metrics (default: true)
	EnableEvents  bool // Expose the WebSocket event feed at /ws (default: true)
}

// LoadConfig loads configuration from environment variables with defaults.
// All environment variables use the ENGRAM_ prefix.
func LoadConfig() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("ENGRAM_PORT", 5000),
			Host: getEnv("ENGRAM_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			StorageEngine: getEnv("ENGRAM_STORAGE_ENGINE", "sqlite"),
			SQLitePath:    getEnv("ENGRAM_SQLITE_PATH", "./data/engram.db"),
			PostgresDSN:   getEnv("ENGRAM_POSTGRES_DSN", ""),
		},
		Provider: ProviderConfig{
			Provider:          getEnv("ENGRAM_PROVIDER", "openai"),
			OpenAIAPIKey:      getEnv("ENGRAM_OPENAI_API_KEY", ""),
			OpenAIBaseURL:     getEnv("ENGRAM_OPENAI_BASE_URL", "https://api.openai.com"),
			OpenAIChatModel:   getEnv("ENGRAM_OPENAI_CHAT_MODEL", "gpt-4o-mini"),
			OpenAIEmbedModel:  getEnv("ENGRAM_OPENAI_EMBED_MODEL", "text-embedding-3-small"),
			OllamaURL:         getEnv("ENGRAM_OLLAMA_URL", "http://localhost:11434"),
			OllamaChatModel:   getEnv("ENGRAM_OLLAMA_CHAT_MODEL", "qwen2.5:7b"),
			OllamaEmbedModel:  getEnv("ENGRAM_OLLAMA_EMBED_MODEL", "nomic-embed-text"),
			Timeout:           getEnvDuration("ENGRAM_PROVIDER_TIMEOUT", 30*time.Second),
			ConfidenceMin:     getEnvFloat("ENGRAM_CONFIDENCE_MIN", 0.75),
			EmbedCacheEntries: getEnvInt("ENGRAM_EMBED_CACHE_ENTRIES", 4096),
		},
		Retrieval: RetrievalConfig{
			DuplicateThreshold: getEnvFloat("ENGRAM_DUPLICATE_THRESHOLD", 0.85),
			AmbiguityGap:       getEnvFloat("ENGRAM_AMBIGUITY_GAP", 0.05),
			MinCandidates:      getEnvInt("ENGRAM_MIN_CANDIDATES", 2),
			TopK:               getEnvInt("ENGRAM_TOP_K", 5),
			SessionTTL:         getEnvDuration("ENGRAM_SESSION_TTL", 300*time.Second),
		},
		RateLimit: RateLimitConfig{
			WindowSeconds: getEnvInt("ENGRAM_RATE_WINDOW_SECONDS", 60),
			MaxRequests:   getEnvInt("ENGRAM_RATE_MAX_REQUESTS", 10),
			GlobalPerSec:  getEnvFloat("ENGRAM_RATE_GLOBAL_PER_SEC", 0),
			GlobalBurst:   getEnvInt("ENGRAM_RATE_GLOBAL_BURST", 20),
		},
		Security: SecurityConfig{
			APIKeys: getEnv("ENGRAM_API_KEYS", ""),
		},
		Features: FeaturesConfig{
			EnableMetrics: getEnvBool("ENGRAM_ENABLE_METRICS", true),
			EnableEvents:  getEnvBool("ENGRAM_ENABLE_EVENTS", true),
		},
	}, nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration
// syntax, e.g. "30s") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. It recognizes "true", "1", "yes" and "false", "0", "no".
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
