package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendSQLite  = "sqlite"
	BackendChromem = "chromem"
	BackendQdrant  = "qdrant"
)

// Embedding providers.
const (
	EmbeddingOpenAI = "openai"
	EmbeddingOllama = "ollama"
)

// AnthropicConfig represents configuration for Anthropic LLM provider.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key,omitempty"` // Anthropic API key
}

// OllamaConfig represents configuration for Ollama LLM provider.
type OllamaConfig struct {
	Host  string `yaml:"host,omitempty"`  // Ollama host (default: "http://localhost:11434")
	Model string `yaml:"model,omitempty"` // Default chat model name
}

// OpenAIConfig represents configuration for OpenAI LLM provider.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`      // OpenAI API key
	BaseURL      string `yaml:"base_url,omitempty"`     // Custom base URL (default: official API)
	Model        string `yaml:"model,omitempty"`        // Default chat model name
	Organization string `yaml:"organization,omitempty"` // Organization ID
}

// ProvidersConfig holds credentials for every provider.
type ProvidersConfig struct {
	Anthropic AnthropicConfig `yaml:"anthropic,omitempty"`
	Ollama    OllamaConfig    `yaml:"ollama,omitempty"`
	OpenAI    OpenAIConfig    `yaml:"openai,omitempty"`
}

// LLMConfig selects the model used for decisions and answers.
type LLMConfig struct {
	Provider    string   `yaml:"provider,omitempty"`    // "anthropic", "openai" or "ollama"
	Model       string   `yaml:"model,omitempty"`       // Provider default if empty
	Fallbacks   []string `yaml:"fallbacks,omitempty"`   // Providers tried when Provider is not configured
	MaxTokens   int64    `yaml:"max_tokens,omitempty"`  // Per call
	Temperature *float64 `yaml:"temperature,omitempty"` // Provider default if unset
}

// EmbeddingConfig selects the embedding gateway.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider,omitempty"`   // "openai" or "ollama"
	Model      string `yaml:"model,omitempty"`      // Provider default (text-embedding-3-small, mxbai-embed-large) if empty
	Dimensions int    `yaml:"dimensions,omitempty"` // Vector size, must match the model
	CacheSize  int64  `yaml:"cache_size,omitempty"` // Cached query vectors, 0 disables the cache
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	Host   string `yaml:"host,omitempty"`
	Port   int    `yaml:"port,omitempty"`
	APIKey string `yaml:"api_key,omitempty"`
	TLS    bool   `yaml:"tls,omitempty"`
}

// StoreConfig selects the memory repository backend.
type StoreConfig struct {
	Backend    string       `yaml:"backend,omitempty"`    // "sqlite", "chromem" or "qdrant"
	Path       string       `yaml:"path,omitempty"`       // SQLite database file, also holds transcripts
	Collection string       `yaml:"collection,omitempty"` // Collection name
	Qdrant     QdrantConfig `yaml:"qdrant,omitempty"`
}

// MemoryConfig tunes retrieval and reconciliation.
type MemoryConfig struct {
	ScoreThreshold   float64       `yaml:"score_threshold,omitempty"`
	Limit            int           `yaml:"limit,omitempty"`
	FacetLimit       int           `yaml:"facet_limit,omitempty"`
	MaxIterations    int           `yaml:"max_iterations,omitempty"`
	TranscriptWindow int           `yaml:"transcript_window,omitempty"`
	RetrievalRetries uint64        `yaml:"retrieval_retries,omitempty"`
	DecisionTimeout  time.Duration `yaml:"decision_timeout,omitempty"`
}

// Config is the full mnemo configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm,omitempty"`
	Embedding EmbeddingConfig `yaml:"embedding,omitempty"`
	Store     StoreConfig     `yaml:"store,omitempty"`
	Memory    MemoryConfig    `yaml:"memory,omitempty"`
	Providers ProvidersConfig `yaml:"providers,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:  "anthropic",
			Fallbacks: []string{"openai", "ollama"},
			MaxTokens: 1024,
		},
		Embedding: EmbeddingConfig{
			Provider:   EmbeddingOpenAI,
			Dimensions: 1536,
			CacheSize:  4096,
		},
		Store: StoreConfig{
			Backend:    BackendSQLite,
			Path:       "~/.mnemo/mnemo.db",
			Collection: "memories",
			Qdrant: QdrantConfig{
				Host: "localhost",
				Port: 6334,
			},
		},
		Memory: MemoryConfig{
			ScoreThreshold:   0.1,
			Limit:            2,
			FacetLimit:       1000,
			MaxIterations:    3,
			TranscriptWindow: 6,
			RetrievalRetries: 2,
			DecisionTimeout:  30 * time.Second,
		},
		Providers: ProvidersConfig{
			Ollama: OllamaConfig{
				Host:  "http://localhost:11434",
				Model: "llama3.2:3b",
			},
			OpenAI: OpenAIConfig{
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
			},
		},
	}
}

// GetConfigPath returns the default config file path.
// Can be overridden via MNEMO_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("MNEMO_CONFIG_PATH"); envPath != "" {
		return ExpandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.mnemo/config.yaml"
	}
	return filepath.Join(homeDir, ".mnemo", "config.yaml")
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Load reads path, merges it over the defaults and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	expandedPath := ExpandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		data, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}
	}

	applyOpenAIEnv(&cfg.Providers.OpenAI)
	applyAnthropicEnv(&cfg.Providers.Anthropic)
	applyOllamaEnv(&cfg.Providers.Ollama)
	if err := applyQdrantEnv(&cfg.Store.Qdrant); err != nil {
		return nil, err
	}
	cfg.Store.Path = ExpandPath(cfg.Store.Path)

	return &cfg, nil
}

// Save writes cfg to path.
func Save(cfg *Config, path string) error {
	expandedPath := ExpandPath(path)

	// Ensure directory exists
	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Memory.ScoreThreshold < 0 || c.Memory.ScoreThreshold > 1 {
		errs = append(errs, fmt.Errorf("memory.score_threshold must be within [0,1], got %v", c.Memory.ScoreThreshold))
	}
	if c.Memory.Limit <= 0 {
		errs = append(errs, fmt.Errorf("memory.limit must be positive, got %d", c.Memory.Limit))
	}
	if c.Memory.FacetLimit <= 0 {
		errs = append(errs, fmt.Errorf("memory.facet_limit must be positive, got %d", c.Memory.FacetLimit))
	}
	if c.Memory.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("memory.max_iterations must be positive, got %d", c.Memory.MaxIterations))
	}
	if c.Memory.TranscriptWindow < 2 {
		errs = append(errs, fmt.Errorf("memory.transcript_window must be at least 2, got %d", c.Memory.TranscriptWindow))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions))
	}
	if c.Embedding.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("embedding.cache_size must not be negative, got %d", c.Embedding.CacheSize))
	}
	switch c.Embedding.Provider {
	case EmbeddingOpenAI, EmbeddingOllama:
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q is not one of openai, ollama", c.Embedding.Provider))
	}
	switch c.Store.Backend {
	case BackendSQLite, BackendChromem:
	case BackendQdrant:
		if c.Store.Qdrant.Host == "" {
			errs = append(errs, errors.New("store.qdrant.host is required for the qdrant backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of sqlite, chromem, qdrant", c.Store.Backend))
	}
	if c.Store.Collection == "" {
		errs = append(errs, errors.New("store.collection is required"))
	}
	return errors.Join(errs...)
}
