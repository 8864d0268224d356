package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/aschepis/backscratcher/mnemo/memory/qdrant"
)

// applyQdrantEnv applies environment variable overrides.
func applyQdrantEnv(cfg *QdrantConfig) error {
	if envHost := os.Getenv("QDRANT_HOST"); envHost != "" {
		cfg.Host = envHost
	}
	if envPort := os.Getenv("QDRANT_PORT"); envPort != "" {
		port, err := strconv.Atoi(envPort)
		if err != nil {
			return fmt.Errorf("invalid QDRANT_PORT %q: %w", envPort, err)
		}
		cfg.Port = port
	}
	if envAPIKey := os.Getenv("QDRANT_API_KEY"); envAPIKey != "" {
		cfg.APIKey = envAPIKey
	}
	return nil
}

// QdrantSettings converts the store section into qdrant connection settings.
func (c *Config) QdrantSettings() qdrant.Config {
	q := c.Store.Qdrant
	return qdrant.Config{Host: q.Host, Port: q.Port, APIKey: q.APIKey, UseTLS: q.TLS}
}
