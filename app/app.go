// Package app builds the object graph shared by the mnemo binaries from a
// loaded configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aschepis/backscratcher/mnemo/config"
	"github.com/aschepis/backscratcher/mnemo/conversations"
	"github.com/aschepis/backscratcher/mnemo/llm"
	"github.com/aschepis/backscratcher/mnemo/memory"
	"github.com/aschepis/backscratcher/mnemo/memory/chromem"
	"github.com/aschepis/backscratcher/mnemo/memory/qdrant"
	"github.com/aschepis/backscratcher/mnemo/migrations"
	"github.com/aschepis/backscratcher/mnemo/reconcile"
	"github.com/aschepis/backscratcher/mnemo/retrieval"
	"github.com/aschepis/backscratcher/mnemo/session"
	"github.com/aschepis/backscratcher/mnemo/tools"
	"github.com/rs/zerolog"
)

// Options replace pieces that would otherwise be built from the config.
type Options struct {
	Client  llm.Client
	Gateway memory.Gateway
}

// App owns every long-lived resource. Close releases them.
type App struct {
	Config       *config.Config
	DB           *sql.DB
	Gateway      memory.Gateway
	Repository   memory.Repository
	Transcript   *conversations.Store
	Engine       *reconcile.Engine
	Orchestrator *session.Orchestrator
	Registry     *tools.Registry

	cache  *memory.CachedGateway
	logger zerolog.Logger
}

// Open builds the App. The sqlite database always holds transcripts; it
// holds memories too when the sqlite backend is selected.
func Open(ctx context.Context, cfg *config.Config, opts Options, logger zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	a := &App{Config: cfg, logger: logger.With().Str("component", "app").Logger()}

	db, err := migrations.OpenDatabase(cfg.Store.Path, logger)
	if err != nil {
		return nil, err
	}
	a.DB = db

	if err := a.openGateway(cfg, opts, logger); err != nil {
		_ = a.Close() //nolint:errcheck // already failing
		return nil, err
	}
	if err := a.openRepository(ctx, cfg, logger); err != nil {
		_ = a.Close() //nolint:errcheck // already failing
		return nil, err
	}

	client := opts.Client
	model := cfg.LLM.Model
	if client == nil {
		var key *llm.ClientKey
		client, key, err = config.NewLLMClient(cfg, logger)
		if err != nil {
			_ = a.Close() //nolint:errcheck // already failing
			return nil, err
		}
		model = key.Model
	}

	a.Transcript = conversations.NewStore(db, logger)
	a.Engine = reconcile.NewEngine(client, a.Gateway, a.Repository, reconcile.Config{
		Model:           model,
		MaxTokens:       cfg.LLM.MaxTokens,
		Temperature:     cfg.LLM.Temperature,
		MaxIterations:   cfg.Memory.MaxIterations,
		Window:          cfg.Memory.TranscriptWindow,
		DecisionTimeout: cfg.Memory.DecisionTimeout,
		DecisionRetries: reconcile.DefaultDecisionRetries,
		ScoreThreshold:  cfg.Memory.ScoreThreshold,
		Limit:           cfg.Memory.Limit,
	}, logger)

	scfg := session.DefaultConfig()
	scfg.ScoreThreshold = cfg.Memory.ScoreThreshold
	scfg.Limit = cfg.Memory.Limit
	scfg.FacetLimit = cfg.Memory.FacetLimit
	scfg.Window = cfg.Memory.TranscriptWindow
	scfg.RetrievalRetries = cfg.Memory.RetrievalRetries
	a.Orchestrator = session.New(
		retrieval.NewAssembler(a.Gateway, a.Repository, logger),
		a.Engine, a.Repository, a.Transcript, scfg, logger)
	a.Orchestrator.SetResponder(session.NewResponder(client, nil, session.ResponderConfig{
		Model:       model,
		Temperature: cfg.LLM.Temperature,
	}, logger))

	a.Registry = tools.NewRegistry(logger)
	a.Registry.RegisterMemoryTools(a.Orchestrator)

	a.logger.Info().
		Str("backend", cfg.Store.Backend).
		Str("embedding", cfg.Embedding.Provider).
		Str("model", model).
		Msg("Application ready")
	return a, nil
}

func (a *App) openGateway(cfg *config.Config, opts Options, logger zerolog.Logger) error {
	gateway := opts.Gateway
	if gateway == nil {
		var err error
		switch cfg.Embedding.Provider {
		case config.EmbeddingOpenAI:
			gateway, err = config.NewOpenAIEmbedder(cfg, logger)
		case config.EmbeddingOllama:
			gateway, err = config.NewOllamaEmbedder(cfg, logger)
		default:
			err = fmt.Errorf("unknown embedding provider: %s", cfg.Embedding.Provider)
		}
		if err != nil {
			return fmt.Errorf("failed to create embedder: %w", err)
		}
	}
	if cfg.Embedding.CacheSize > 0 {
		cache, err := memory.NewCachedGateway(gateway, cfg.Embedding.CacheSize, logger)
		if err != nil {
			return err
		}
		a.cache = cache
		gateway = cache
	}
	a.Gateway = gateway
	return nil
}

func (a *App) openRepository(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	dims := a.Gateway.Dimensions()
	var repo memory.Repository
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		repo = memory.NewSQLiteStore(a.DB, cfg.Store.Collection, dims, logger)
	case config.BackendChromem:
		repo = chromem.New(cfg.Store.Collection, dims, logger)
	case config.BackendQdrant:
		q, err := qdrant.New(cfg.QdrantSettings(), cfg.Store.Collection, dims, logger)
		if err != nil {
			return err
		}
		repo = q
	default:
		return fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
	a.Repository = repo
	if err := repo.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("failed to prepare collection %s: %w", cfg.Store.Collection, err)
	}
	return nil
}

// Close releases the repository, the embedding cache and the database.
func (a *App) Close() error {
	var firstErr error
	if a.Repository != nil {
		if err := a.Repository.Close(); err != nil {
			firstErr = err
		}
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
