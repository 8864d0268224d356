package config

import (
	"os"

	llmanthropic "github.com/aschepis/backscratcher/mnemo/llm/anthropic"
	"github.com/rs/zerolog"
)

// applyAnthropicEnv applies environment variable overrides.
func applyAnthropicEnv(cfg *AnthropicConfig) {
	if envAPIKey := os.Getenv("ANTHROPIC_API_KEY"); envAPIKey != "" {
		cfg.APIKey = envAPIKey
	}
}

// NewAnthropicClient creates a new Anthropic LLM client from the configuration.
func NewAnthropicClient(cfg *Config, model string, logger zerolog.Logger) (*llmanthropic.AnthropicClient, error) {
	return llmanthropic.NewAnthropicClient(cfg.Providers.Anthropic.APIKey, model, logger)
}
