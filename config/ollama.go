package config

import (
	"os"

	llmollama "github.com/aschepis/backscratcher/mnemo/llm/ollama"
	memollama "github.com/aschepis/backscratcher/mnemo/memory/ollama"
	"github.com/rs/zerolog"
)

const defaultOllamaHost = "http://localhost:11434"

// applyOllamaEnv applies environment variable overrides.
func applyOllamaEnv(cfg *OllamaConfig) {
	if envHost := os.Getenv("OLLAMA_HOST"); envHost != "" {
		cfg.Host = envHost
	}
	if envModel := os.Getenv("OLLAMA_MODEL"); envModel != "" {
		cfg.Model = envModel
	}
	// Set defaults if still empty
	if cfg.Host == "" {
		cfg.Host = defaultOllamaHost
	}
}

// NewOllamaClient creates a new Ollama LLM client from the configuration.
func NewOllamaClient(cfg *Config, model string, logger zerolog.Logger) (*llmollama.OllamaClient, error) {
	p := cfg.Providers.Ollama
	if model == "" {
		model = p.Model
	}
	return llmollama.NewOllamaClient(p.Host, model, logger)
}

// NewOllamaEmbedder creates the Ollama embedding gateway.
func NewOllamaEmbedder(cfg *Config, logger zerolog.Logger) (*memollama.Embedder, error) {
	return memollama.NewEmbedder(cfg.Providers.Ollama.Host, memollama.Model(cfg.Embedding.Model), cfg.Embedding.Dimensions, logger)
}
