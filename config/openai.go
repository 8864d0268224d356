package config

import (
	"os"

	llmopenai "github.com/aschepis/backscratcher/mnemo/llm/openai"
	memopenai "github.com/aschepis/backscratcher/mnemo/memory/openai"
	"github.com/rs/zerolog"
)

// applyOpenAIEnv applies environment variable overrides.
func applyOpenAIEnv(cfg *OpenAIConfig) {
	if envAPIKey := os.Getenv("OPENAI_API_KEY"); envAPIKey != "" {
		cfg.APIKey = envAPIKey
	}
	if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
		cfg.BaseURL = envBaseURL
	}
	if envModel := os.Getenv("OPENAI_MODEL"); envModel != "" {
		cfg.Model = envModel
	}
	if envOrg := os.Getenv("OPENAI_ORG_ID"); envOrg != "" {
		cfg.Organization = envOrg
	}
}

// NewOpenAIClient creates an OpenAI chat client for model, or for the
// configured default model when model is empty.
func NewOpenAIClient(cfg *Config, model string, logger zerolog.Logger) (*llmopenai.OpenAIClient, error) {
	p := cfg.Providers.OpenAI
	if model == "" {
		model = p.Model
	}
	return llmopenai.NewOpenAIClient(p.APIKey, p.BaseURL, model, p.Organization, logger)
}

// NewOpenAIEmbedder creates the OpenAI embedding gateway.
func NewOpenAIEmbedder(cfg *Config, logger zerolog.Logger) (*memopenai.Embedder, error) {
	p := cfg.Providers.OpenAI
	return memopenai.NewEmbedder(p.APIKey, p.BaseURL, p.Organization, cfg.Embedding.Model, cfg.Embedding.Dimensions, logger)
}
