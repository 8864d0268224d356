// Package retrieval turns a query string into ranked candidate memories
// and renders them for a model prompt.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/aschepis/backscratcher/mnemo/memory"
	"github.com/rs/zerolog"
)

// Request describes one retrieval. Zero ScoreThreshold is a valid
// threshold; use DefaultRequest for the usual defaults.
type Request struct {
	Query          string
	OwnerID        string
	Categories     []string
	ScoreThreshold float64
	Limit          int
}

// DefaultRequest fills in the default threshold and limit.
func DefaultRequest(query, ownerID string, categories ...string) Request {
	return Request{
		Query:          query,
		OwnerID:        ownerID,
		Categories:     categories,
		ScoreThreshold: memory.DefaultScoreThreshold,
		Limit:          memory.DefaultLimit,
	}
}

// Assembler embeds queries and searches a repository.
type Assembler struct {
	gateway memory.Gateway
	repo    memory.Repository
	logger  zerolog.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(gateway memory.Gateway, repo memory.Repository, logger zerolog.Logger) *Assembler {
	return &Assembler{
		gateway: gateway,
		repo:    repo,
		logger:  logger.With().Str("component", "retrieval").Logger(),
	}
}

var errEmptyQuery = errors.New("retrieval query is empty")

// Retrieve embeds req.Query and returns the matching candidates. An
// embedding failure fails the whole call.
func (a *Assembler) Retrieve(ctx context.Context, req Request) (*memory.CandidateSet, error) {
	if req.Query == "" {
		return nil, errEmptyQuery
	}
	if req.OwnerID == "" {
		return nil, memory.ErrMissingOwner
	}
	vec, err := memory.EmbedOne(ctx, a.gateway, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	set, err := a.repo.Search(ctx, memory.SearchQuery{
		Vector:         vec,
		OwnerID:        req.OwnerID,
		Categories:     req.Categories,
		ScoreThreshold: req.ScoreThreshold,
		Limit:          req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	a.logger.Debug().
		Str("owner_id", req.OwnerID).
		Strs("categories", req.Categories).
		Int("candidates", set.Len()).
		Msg("Retrieve")
	return set, nil
}
