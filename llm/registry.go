package llm

import (
	"fmt"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
)

// Default models used when a preference names a provider but no model.
const (
	DefaultAnthropicModel = "claude-haiku-4-5"
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultOllamaModel    = "llama3.2:3b"
	defaultOllamaHost     = "http://localhost:11434"
)

// Preference is one provider/model choice, tried in order.
type Preference struct {
	Provider string
	Model    string
}

// ClientKey uniquely identifies an LLM client configuration.
type ClientKey struct {
	Provider     string
	Model        string
	APIKey       string // For credential-based providers
	Host         string // For Ollama
	BaseURL      string // For OpenAI
	Organization string // For OpenAI
}

// ProviderConfig holds already-resolved provider credentials. Environment
// overrides are applied by the config package before this is built.
type ProviderConfig struct {
	AnthropicAPIKey string
	OllamaHost      string
	OllamaModel     string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	OpenAIOrg       string
}

// ProviderRegistry picks the first usable provider from a preference list.
type ProviderRegistry struct {
	config *ProviderConfig
}

// NewProviderRegistry creates a ProviderRegistry.
func NewProviderRegistry(providerConfig *ProviderConfig) *ProviderRegistry {
	if providerConfig == nil {
		providerConfig = &ProviderConfig{}
	}
	return &ProviderRegistry{config: providerConfig}
}

// IsProviderConfigured reports whether a provider has the credentials it needs.
func (r *ProviderRegistry) IsProviderConfigured(provider string) bool {
	switch provider {
	case ProviderAnthropic:
		return r.config.AnthropicAPIKey != ""
	case ProviderOllama:
		// no credentials; the host has a default
		return true
	case ProviderOpenAI:
		return r.config.OpenAIAPIKey != ""
	default:
		return false
	}
}

// Resolve returns a ClientKey for the first configured preference.
func (r *ProviderRegistry) Resolve(prefs []Preference) (*ClientKey, error) {
	if len(prefs) == 0 {
		return nil, fmt.Errorf("no LLM preferences given")
	}
	var attempted []string
	for _, pref := range prefs {
		attempted = append(attempted, pref.Provider)
		if !r.IsProviderConfigured(pref.Provider) {
			continue
		}
		return r.resolveProviderConfig(pref.Provider, pref.Model), nil
	}
	return nil, fmt.Errorf("no configured provider among preferences %v", attempted)
}

func (r *ProviderRegistry) resolveProviderConfig(provider, model string) *ClientKey {
	key := &ClientKey{Provider: provider, Model: model}
	switch provider {
	case ProviderAnthropic:
		key.APIKey = r.config.AnthropicAPIKey
		if key.Model == "" {
			key.Model = DefaultAnthropicModel
		}
	case ProviderOllama:
		key.Host = r.config.OllamaHost
		if key.Host == "" {
			key.Host = defaultOllamaHost
		}
		if key.Model == "" {
			key.Model = r.config.OllamaModel
		}
		if key.Model == "" {
			key.Model = DefaultOllamaModel
		}
	case ProviderOpenAI:
		key.APIKey = r.config.OpenAIAPIKey
		key.BaseURL = r.config.OpenAIBaseURL
		key.Organization = r.config.OpenAIOrg
		if key.Model == "" {
			key.Model = r.config.OpenAIModel
		}
		if key.Model == "" {
			key.Model = DefaultOpenAIModel
		}
	}
	return key
}
