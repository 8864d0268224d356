// Package ollama embeds text with a local Ollama server.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/aschepis/backscratcher/mnemo/memory"
	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
)

const providerName = "ollama"

type Model string

const (
	ModelMXBAI       Model = "mxbai-embed-large"
	ModelNomicEmbed  Model = "nomic-embed-text"
	defaultModelDims       = 1024
)

// Embedder implements memory.Gateway using the batch /api/embed endpoint.
type Embedder struct {
	client *api.Client
	model  Model
	dims   int
	logger zerolog.Logger
}

// NewEmbedder creates an embedder against host, or against OLLAMA_HOST
// when host is empty. dims must match the model's output size.
func NewEmbedder(host string, model Model, dims int, logger zerolog.Logger) (*Embedder, error) {
	var (
		cli *api.Client
		err error
	)
	if host != "" {
		var base *url.URL
		base, err = url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("parse ollama host: %w", err)
		}
		cli = api.NewClient(base, http.DefaultClient)
	} else {
		cli, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
	}
	if model == "" {
		model = ModelMXBAI
	}
	if dims <= 0 {
		dims = defaultModelDims
	}
	return &Embedder{
		client: cli,
		model:  model,
		dims:   dims,
		logger: logger.With().Str("component", "ollama_embedder").Logger(),
	}, nil
}

// Embed implements memory.Gateway.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, memory.ErrEmptyInput
	}
	e.logger.Debug().Str("model", string(e.model)).Int("count", len(texts)).Msg("Embed")

	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: string(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, &memory.EmbeddingError{Provider: providerName, Err: err}
	}
	if err := memory.CheckEmbeddings(providerName, texts, resp.Embeddings, e.dims); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}

// Dimensions implements memory.Gateway.
func (e *Embedder) Dimensions() int { return e.dims }
