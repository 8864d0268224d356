package config

import (
	"fmt"

	"github.com/aschepis/backscratcher/mnemo/llm"
	"github.com/rs/zerolog"
)

// ProviderConfig returns the resolved provider credentials.
func (c *Config) ProviderConfig() *llm.ProviderConfig {
	p := c.Providers
	return &llm.ProviderConfig{
		AnthropicAPIKey: p.Anthropic.APIKey,
		OllamaHost:      p.Ollama.Host,
		OllamaModel:     p.Ollama.Model,
		OpenAIAPIKey:    p.OpenAI.APIKey,
		OpenAIBaseURL:   p.OpenAI.BaseURL,
		OpenAIModel:     p.OpenAI.Model,
		OpenAIOrg:       p.OpenAI.Organization,
	}
}

// Preferences lists the configured provider first, then the fallbacks.
// Only the configured provider carries the configured model.
func (c *Config) Preferences() []llm.Preference {
	prefs := []llm.Preference{{Provider: c.LLM.Provider, Model: c.LLM.Model}}
	for _, p := range c.LLM.Fallbacks {
		if p == c.LLM.Provider {
			continue
		}
		prefs = append(prefs, llm.Preference{Provider: p})
	}
	return prefs
}

// NewLLMClient creates a logged client for the first configured provider in
// the preference list and returns the model it resolved to.
func NewLLMClient(cfg *Config, logger zerolog.Logger) (llm.Client, *llm.ClientKey, error) {
	key, err := llm.NewProviderRegistry(cfg.ProviderConfig()).Resolve(cfg.Preferences())
	if err != nil {
		return nil, nil, err
	}

	var client llm.Client
	switch key.Provider {
	case llm.ProviderAnthropic:
		client, err = NewAnthropicClient(cfg, key.Model, logger)
	case llm.ProviderOllama:
		client, err = NewOllamaClient(cfg, key.Model, logger)
	case llm.ProviderOpenAI:
		client, err = NewOpenAIClient(cfg, key.Model, logger)
	default:
		return nil, nil, fmt.Errorf("unknown provider: %s", key.Provider)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s client: %w", key.Provider, err)
	}

	logger.Info().Str("provider", key.Provider).Str("model", key.Model).Msg("Resolved LLM client")
	return llm.WrapWithMiddleware(client, llm.NewLoggingMiddleware(logger)), key, nil
}
