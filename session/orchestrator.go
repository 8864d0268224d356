// Package session drives memory around a chat turn: retrieval before the
// answer, reconciliation after it, and the category cache in between.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aschepis/backscratcher/mnemo/conversations"
	"github.com/aschepis/backscratcher/mnemo/memory"
	"github.com/aschepis/backscratcher/mnemo/reconcile"
	"github.com/aschepis/backscratcher/mnemo/retrieval"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Config tunes the Orchestrator.
type Config struct {
	ScoreThreshold   float64
	Limit            int
	FacetLimit       int
	Window           int
	RetrievalRetries uint64
	RetryInterval    time.Duration
}

// DefaultConfig returns the defaults used by the binaries.
func DefaultConfig() Config {
	return Config{
		ScoreThreshold:   memory.DefaultScoreThreshold,
		Limit:            memory.DefaultLimit,
		FacetLimit:       memory.DefaultFacetLimit,
		Window:           reconcile.DefaultWindow,
		RetrievalRetries: 2,
		RetryInterval:    200 * time.Millisecond,
	}
}

// TurnResult is the outcome of one chat turn.
type TurnResult struct {
	Response   string
	Memories   []string
	SaveMemory bool
	Outcome    *reconcile.Outcome
	// Warnings lists degraded steps. The turn itself still succeeded.
	Warnings []string
}

// Orchestrator coordinates retrieval, answering and reconciliation for any
// number of owners. Remember calls are serialized per owner.
type Orchestrator struct {
	retriever  *retrieval.Assembler
	engine     *reconcile.Engine
	repo       memory.Repository
	transcript *conversations.Store
	responder  *Responder
	cfg        Config
	logger     zerolog.Logger

	locksMu sync.Mutex
	locks   map[string]*ownerMutex

	catMu      sync.RWMutex
	categories map[string][]string
}

// New creates an Orchestrator. transcript and responder may be nil; Turn
// requires a responder.
func New(
	retriever *retrieval.Assembler,
	engine *reconcile.Engine,
	repo memory.Repository,
	transcript *conversations.Store,
	cfg Config,
	logger zerolog.Logger,
) *Orchestrator {
	if cfg.Limit <= 0 {
		cfg.Limit = memory.DefaultLimit
	}
	if cfg.FacetLimit <= 0 {
		cfg.FacetLimit = memory.DefaultFacetLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = reconcile.DefaultWindow
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 200 * time.Millisecond
	}
	return &Orchestrator{
		retriever:  retriever,
		engine:     engine,
		repo:       repo,
		transcript: transcript,
		cfg:        cfg,
		logger:     logger.With().Str("component", "session").Logger(),
		locks:      make(map[string]*ownerMutex),
		categories: make(map[string][]string),
	}
}

// SetResponder installs the answer step used by Turn.
func (o *Orchestrator) SetResponder(r *Responder) {
	o.responder = r
}

// SearchFunc returns a SearchFunc bound to ownerID, for a Responder.
func (o *Orchestrator) SearchFunc(ownerID string) SearchFunc {
	return func(ctx context.Context, query string, categories []string) ([]string, error) {
		set, err := o.Search(ctx, ownerID, query, categories, o.cfg.Limit)
		if err != nil {
			return nil, err
		}
		return retrieval.FormatAll(set), nil
	}
}

// Search retrieves memories, retrying transient failures. Searching is
// read-only, so retries are safe.
func (o *Orchestrator) Search(ctx context.Context, ownerID, query string, categories []string, limit int) (*memory.CandidateSet, error) {
	if limit <= 0 {
		limit = o.cfg.Limit
	}
	req := retrieval.Request{
		Query:          query,
		OwnerID:        ownerID,
		Categories:     categories,
		ScoreThreshold: o.cfg.ScoreThreshold,
		Limit:          limit,
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.cfg.RetryInterval
	eb.Reset()

	var set *memory.CandidateSet
	operation := func() error {
		s, err := o.retriever.Retrieve(ctx, req)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			o.logger.Debug().Err(err).Str("owner_id", ownerID).Msg("Retrieval failed, retrying")
			return err
		}
		set = s
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(eb, o.cfg.RetrievalRetries), ctx)); err != nil {
		return nil, err
	}
	return set, nil
}

func retryable(err error) bool {
	return errors.Is(err, memory.ErrStorageUnavailable) || errors.Is(err, memory.ErrEmbedding)
}

// PrepareTurn returns the formatted memories for a question. A retrieval
// failure yields no memories plus the error, which callers treat as a
// warning.
func (o *Orchestrator) PrepareTurn(ctx context.Context, ownerID, question string) ([]string, error) {
	set, err := o.Search(ctx, ownerID, question, nil, o.cfg.Limit)
	if err != nil {
		o.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("Retrieval failed, no memories available this turn")
		return nil, err
	}
	return retrieval.FormatAll(set), nil
}

// Remember reconciles the trailing window of messages into the owner's
// memories. At most one Remember runs per owner at a time. The category
// cache is refreshed whenever something was written, even if the call then
// failed.
func (o *Orchestrator) Remember(ctx context.Context, ownerID string, messages []conversations.Message) (*reconcile.Outcome, error) {
	unlock := o.lockOwner(ownerID)
	defer unlock()

	categories := o.Categories(ownerID)
	if categories == nil {
		categories, _ = o.RefreshCategories(ctx, ownerID) //nolint:errcheck // a missing facet only weakens the prompt
	}

	window := conversations.Window(messages, o.cfg.Window)
	outcome, err := o.engine.SearchAndReconcile(ctx, ownerID, window, categories)
	if outcome != nil && outcome.Mutated() {
		if _, ferr := o.RefreshCategories(ctx, ownerID); ferr != nil {
			o.logger.Warn().Err(ferr).Str("owner_id", ownerID).Msg("Category refresh failed")
		}
	}
	if err != nil {
		o.logger.Warn().
			Err(err).
			Str("owner_id", ownerID).
			Str("outcome", outcome.Describe()).
			Msg("Reconciliation failed, this turn's information was not saved")
		return outcome, err
	}
	o.logger.Info().Str("owner_id", ownerID).Str("outcome", outcome.Describe()).Msg("Memories reconciled")
	return outcome, nil
}

// ownerMutex serializes writers of one owner. refs counts holders and
// waiters so the entry can be dropped once nobody needs it.
type ownerMutex struct {
	mu   sync.Mutex
	refs int
}

// lockOwner blocks until the caller holds the owner's lock and returns the
// function that releases it.
func (o *Orchestrator) lockOwner(ownerID string) (unlock func()) {
	o.locksMu.Lock()
	l, ok := o.locks[ownerID]
	if !ok {
		l = &ownerMutex{}
		o.locks[ownerID] = l
	}
	l.refs++
	o.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		o.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.locks, ownerID)
		}
		o.locksMu.Unlock()
	}
}

// Categories returns the cached category facet of an owner, or nil if it
// was never loaded.
func (o *Orchestrator) Categories(ownerID string) []string {
	o.catMu.RLock()
	defer o.catMu.RUnlock()
	cats, ok := o.categories[ownerID]
	if !ok {
		return nil
	}
	return append([]string{}, cats...)
}

// RefreshCategories reloads the category facet of an owner.
func (o *Orchestrator) RefreshCategories(ctx context.Context, ownerID string) ([]string, error) {
	cats, err := o.repo.FacetCategories(ctx, ownerID, o.cfg.FacetLimit)
	if err != nil {
		return nil, fmt.Errorf("facet categories: %w", err)
	}
	if cats == nil {
		cats = []string{}
	}
	o.catMu.Lock()
	o.categories[ownerID] = cats
	o.catMu.Unlock()
	return append([]string{}, cats...), nil
}

// Forget removes every memory, transcript entry and cached category of an
// owner.
func (o *Orchestrator) Forget(ctx context.Context, ownerID string) error {
	unlock := o.lockOwner(ownerID)
	defer unlock()

	if err := o.repo.DeleteOwner(ctx, ownerID); err != nil {
		return err
	}
	if o.transcript != nil {
		if err := o.transcript.Clear(ctx, ownerID); err != nil {
			return err
		}
	}
	o.catMu.Lock()
	delete(o.categories, ownerID)
	o.catMu.Unlock()
	return nil
}

// List returns every memory of an owner.
func (o *Orchestrator) List(ctx context.Context, ownerID string) ([]memory.Record, error) {
	return o.repo.ListOwner(ctx, ownerID)
}

// Turn answers a question and, when the answer step judges the exchange
// memory-worthy, reconciles it. Retrieval and reconciliation failures are
// reported as warnings, never as a failed turn.
func (o *Orchestrator) Turn(ctx context.Context, ownerID, question string) (*TurnResult, error) {
	if o.responder == nil {
		return nil, errors.New("session has no responder")
	}
	log := o.logger.With().Str("method", "Turn").Str("owner_id", ownerID).Logger()
	result := &TurnResult{}

	var history []conversations.Message
	if o.transcript != nil {
		var err error
		history, err = o.transcript.Recent(ctx, ownerID, o.cfg.Window)
		if err != nil {
			log.Warn().Err(err).Msg("Transcript unavailable")
			result.Warnings = append(result.Warnings, "conversation history unavailable")
		}
	}

	memories, err := o.PrepareTurn(ctx, ownerID, question)
	if err != nil {
		result.Warnings = append(result.Warnings, "no memories available this turn")
	}
	result.Memories = memories

	categories := o.Categories(ownerID)
	if categories == nil {
		if categories, err = o.RefreshCategories(ctx, ownerID); err != nil {
			log.Warn().Err(err).Msg("Category facet unavailable")
		}
	}

	reply, err := o.responder.Respond(ctx, RespondInput{
		Transcript: history,
		Memories:   memories,
		Categories: categories,
		Question:   question,
		Search:     o.SearchFunc(ownerID),
	})
	if err != nil {
		return nil, err
	}
	result.Response = reply.Response
	result.SaveMemory = reply.SaveMemory

	if o.transcript != nil {
		if err := o.transcript.AppendTurn(ctx, ownerID, question, reply.Response); err != nil {
			log.Warn().Err(err).Msg("Failed to persist turn")
		}
	}

	if reply.SaveMemory {
		msgs := append(append([]conversations.Message{}, history...),
			conversations.Message{Role: conversations.RoleUser, Content: question},
			conversations.Message{Role: conversations.RoleAssistant, Content: reply.Response},
		)
		outcome, err := o.Remember(ctx, ownerID, msgs)
		result.Outcome = outcome
		if err != nil {
			result.Warnings = append(result.Warnings, "this turn's information was not saved")
		}
	}
	return result, nil
}
