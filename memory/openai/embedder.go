// Package openai embeds text with the OpenAI embeddings API.
package openai

import (
	"context"
	"fmt"
	"sort"

	"github.com/aschepis/backscratcher/mnemo/memory"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

const (
	providerName = "openai"

	ModelTextEmbedding3Small = "text-embedding-3-small"
)

// Embedder implements memory.Gateway. Each Embed call is one API request.
type Embedder struct {
	client *openai.Client
	model  string
	dims   int
	logger zerolog.Logger
}

// NewEmbedder creates an OpenAI embedder. baseURL and organization are optional.
func NewEmbedder(apiKey, baseURL, organization, model string, dims int, logger zerolog.Logger) (*Embedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if model == "" {
		model = ModelTextEmbedding3Small
	}
	if dims <= 0 {
		dims = memory.DefaultDimensions
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if organization != "" {
		cfg.OrgID = organization
	}
	return &Embedder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		dims:   dims,
		logger: logger.With().Str("component", "openai_embedder").Logger(),
	}, nil
}

// Embed implements memory.Gateway.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, memory.ErrEmptyInput
	}
	e.logger.Debug().Str("model", e.model).Int("count", len(texts)).Msg("Embed")

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dims,
	})
	if err != nil {
		return nil, &memory.EmbeddingError{Provider: providerName, Err: err}
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	vecs := make([][]float32, len(data))
	for i, d := range data {
		vecs[i] = d.Embedding
	}
	if err := memory.CheckEmbeddings(providerName, texts, vecs, e.dims); err != nil {
		return nil, err
	}
	return vecs, nil
}

// Dimensions implements memory.Gateway.
func (e *Embedder) Dimensions() int { return e.dims }
