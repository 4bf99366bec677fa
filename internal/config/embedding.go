package config

import (
	"fmt"
	"os"
	"time"
)

// Supported embedding providers.
const (
	EmbeddingProviderJina   = "jina"
	EmbeddingProviderOpenAI = "openai"
)

// EmbeddingConfig configures the embedding provider and the embedding stage.
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"`    // "jina" or "openai"
	Model      string `mapstructure:"model"`       // Model name/ID
	APIKey     string `mapstructure:"api_key"`     // API key (can be set directly or via env var)
	APIKeyEnv  string `mapstructure:"api_key_env"` // Environment variable name for API key
	BaseURL    string `mapstructure:"base_url"`    // Endpoint override
	Dimensions int    `mapstructure:"dimensions"`  // Embedding vector dimensions

	// Stage settings
	BatchSize   int           `mapstructure:"batch_size"`   // Texts per provider call (hard service limit)
	CommitSize  int           `mapstructure:"commit_size"`  // Vectors per index commit
	MaxAttempts int           `mapstructure:"max_attempts"` // Attempts per provider call
	RetryDelay  time.Duration `mapstructure:"retry_delay"`  // Fixed delay between attempts
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ResolveEnvVars loads the API key from APIKeyEnv when no key is set directly.
func (c *EmbeddingConfig) ResolveEnvVars() {
	if c.APIKeyEnv != "" && c.APIKey == "" {
		if val := os.Getenv(c.APIKeyEnv); val != "" {
			c.APIKey = val
		}
	}
}

// Validate checks that the embedding configuration has all required fields.
// Returns an error describing the first validation failure, or nil if valid.
func (c *EmbeddingConfig) Validate() error {
	switch c.Provider {
	case EmbeddingProviderJina, EmbeddingProviderOpenAI:
	case "":
		return fmt.Errorf("embedding: provider is required")
	default:
		return fmt.Errorf("embedding: unknown provider %q", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("embedding %q: model is required", c.Provider)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("embedding %q: dimensions must be positive", c.Provider)
	}
	if c.BatchSize <= 0 || c.BatchSize > 100 {
		return fmt.Errorf("embedding %q: batch_size must be within 1-100, got %d", c.Provider, c.BatchSize)
	}
	if c.CommitSize <= 0 {
		return fmt.Errorf("embedding %q: commit_size must be positive", c.Provider)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("embedding %q: max_attempts must be positive", c.Provider)
	}
	return nil
}

// ValidateWithAPIKey validates the configuration including API key requirement.
// Use this when the embedding will actually be called.
func (c *EmbeddingConfig) ValidateWithAPIKey() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return fmt.Errorf("embedding %q: api_key is required (set directly or via %s)", c.Provider, c.APIKeyEnv)
	}
	return nil
}
