// Package reconcile decides how new conversational information changes an
// owner's stored memories, and applies the decision.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aschepis/backscratcher/mnemo/conversations"
	"github.com/aschepis/backscratcher/mnemo/llm"
	"github.com/aschepis/backscratcher/mnemo/memory"
	"github.com/aschepis/backscratcher/mnemo/retrieval"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Defaults for Config.
const (
	DefaultMaxIterations   = 3
	DefaultWindow          = 6
	DefaultMaxTokens       = 1024
	DefaultDecisionRetries = 2
)

// Config tunes the decision loop.
type Config struct {
	Model         string
	MaxTokens     int64
	Temperature   *float64
	MaxIterations int
	// Window caps how many trailing messages reach the decision step.
	Window int
	// DecisionTimeout bounds each decision call made before the first
	// mutation. Zero disables it.
	DecisionTimeout time.Duration
	// DecisionRetries is how often a retryable decision failure is retried
	// before the first mutation.
	DecisionRetries uint64
	// RetryInterval is the initial backoff between decision retries.
	RetryInterval time.Duration
	// ScoreThreshold and Limit shape the search done by SearchAndReconcile.
	ScoreThreshold float64
	Limit          int
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		MaxTokens:       DefaultMaxTokens,
		MaxIterations:   DefaultMaxIterations,
		Window:          DefaultWindow,
		DecisionTimeout: 30 * time.Second,
		DecisionRetries: DefaultDecisionRetries,
		RetryInterval:   time.Second,
		ScoreThreshold:  memory.DefaultScoreThreshold,
		Limit:           memory.DefaultLimit,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Second
	}
	if c.Limit <= 0 {
		c.Limit = memory.DefaultLimit
	}
	return c
}

// Input is one reconciliation request.
type Input struct {
	OwnerID            string
	Messages           []conversations.Message
	Candidates         *memory.CandidateSet
	ExistingCategories []string
}

// AppliedAction is an action that changed (or, for Noop, inspected) the store.
type AppliedAction struct {
	Action   Action
	Inserted []string // point ids written
	Removed  []string // point ids deleted
}

// RejectedAction is a tool call that was not applied.
type RejectedAction struct {
	Tool   string
	Action Action // nil when the call could not be decoded
	Err    error
}

// Outcome reports what one reconciliation call did. It is returned even
// when the call fails part way.
type Outcome struct {
	Applied    []AppliedAction
	Rejected   []RejectedAction
	Summary    string
	Completed  bool
	Iterations int
}

// Mutated reports whether any applied action changed the store.
func (o *Outcome) Mutated() bool {
	for _, a := range o.Applied {
		if len(a.Inserted) > 0 || len(a.Removed) > 0 {
			return true
		}
	}
	return false
}

// Describe returns a short human readable account of the call.
func (o *Outcome) Describe() string {
	if o == nil {
		return "nothing attempted"
	}
	var parts []string
	for _, a := range o.Applied {
		parts = append(parts, describe(a.Action))
	}
	line := "no actions applied"
	if len(parts) > 0 {
		line = "applied " + strings.Join(parts, "; ")
	}
	if len(o.Rejected) > 0 {
		line += fmt.Sprintf(" (%d rejected)", len(o.Rejected))
	}
	if !o.Completed {
		line += fmt.Sprintf(" after %d rounds without completion", o.Iterations)
	}
	if o.Summary != "" {
		line = o.Summary + ": " + line
	}
	return line
}

// Engine runs the bounded decision loop against a repository.
type Engine struct {
	client    llm.Client
	gateway   memory.Gateway
	repo      memory.Repository
	retriever *retrieval.Assembler
	cfg       Config
	logger    zerolog.Logger
}

// NewEngine creates an Engine.
func NewEngine(client llm.Client, gateway memory.Gateway, repo memory.Repository, cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{
		client:    client,
		gateway:   gateway,
		repo:      repo,
		retriever: retrieval.NewAssembler(gateway, repo, logger),
		cfg:       cfg.withDefaults(),
		logger:    logger.With().Str("component", "reconcile").Logger(),
	}
}

// Reconcile runs up to MaxIterations decision rounds. Each round applies at
// most one action. Actions applied before a failure stay applied and are
// listed in the returned Outcome, which is non-nil whenever the input is
// valid.
func (e *Engine) Reconcile(ctx context.Context, in Input) (*Outcome, error) {
	if in.OwnerID == "" {
		return nil, memory.ErrMissingOwner
	}
	if in.Candidates == nil {
		in.Candidates = memory.NewCandidateSet(nil)
	}
	window := conversations.Window(in.Messages, e.cfg.Window)
	prompt, err := renderPrompt(window, in.Candidates, in.ExistingCategories)
	if err != nil {
		return nil, err
	}

	log := e.logger.With().Str("method", "Reconcile").Str("owner_id", in.OwnerID).Logger()
	log.Debug().
		Int("messages", len(window)).
		Int("candidates", in.Candidates.Len()).
		Int("categories", len(in.ExistingCategories)).
		Msg("Starting reconciliation")

	out := &Outcome{}
	transcript := []llm.Message{llm.NewTextMessage(llm.RoleUser, prompt)}
	// Point ids removed by earlier actions; their indices are stale.
	gone := make(map[string]bool)

	for out.Iterations < e.cfg.MaxIterations {
		out.Iterations++

		resp, err := e.decide(ctx, transcript, out.Mutated())
		for err != nil && out.Iterations == 1 && llm.IsRequestTooLargeError(err) && len(window) > 1 {
			window = window[len(window)/2:]
			log.Warn().Int("messages", len(window)).Msg("Decision request too large, shrinking window")
			if prompt, err = renderPrompt(window, in.Candidates, in.ExistingCategories); err != nil {
				return out, err
			}
			transcript = []llm.Message{llm.NewTextMessage(llm.RoleUser, prompt)}
			resp, err = e.decide(ctx, transcript, false)
		}
		if err != nil {
			return out, fmt.Errorf("decision step: %w", err)
		}

		calls := resp.ToolUses()
		if len(calls) == 0 {
			out.Completed = true
			out.Summary = resp.Text()
			break
		}
		transcript = append(transcript, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

		results := make([]llm.ToolResultBlock, 0, len(calls))
		for i, call := range calls {
			if i > 0 {
				err := fmt.Errorf("only one action is applied per step; %s was not applied", call.Name)
				out.Rejected = append(out.Rejected, RejectedAction{Tool: call.Name, Err: err})
				results = append(results, llm.NewToolResultBlock(call.ID, err.Error(), true))
				continue
			}

			action, err := DecodeAction(call)
			if err != nil {
				log.Warn().Err(err).Str("tool", call.Name).Msg("Rejected malformed action")
				out.Rejected = append(out.Rejected, RejectedAction{Tool: call.Name, Err: err})
				results = append(results, llm.NewToolResultBlock(call.ID, err.Error(), true))
				continue
			}

			applied, msg, err := e.apply(ctx, in, action, gone)
			if applied != nil {
				out.Applied = append(out.Applied, *applied)
				for _, id := range applied.Removed {
					gone[id] = true
				}
			}
			switch {
			case err == nil:
				log.Info().Str("action", describe(action)).Msg("Applied action")
				results = append(results, llm.NewToolResultBlock(call.ID, msg, false))
			case errors.Is(err, memory.ErrUnknownMemoryIndex):
				log.Warn().Err(err).Str("action", describe(action)).Msg("Rejected action")
				out.Rejected = append(out.Rejected, RejectedAction{Tool: call.Name, Action: action, Err: err})
				results = append(results, llm.NewToolResultBlock(call.ID, err.Error(), true))
			default:
				out.Rejected = append(out.Rejected, RejectedAction{Tool: call.Name, Action: action, Err: err})
				log.Error().Err(err).Str("action", describe(action)).Msg("Reconciliation aborted")
				return out, fmt.Errorf("%s: %w", action.Kind(), err)
			}
		}
		transcript = append(transcript, llm.NewToolResultMessage(results))
	}

	if !out.Completed {
		log.Warn().Int("iterations", out.Iterations).Msg("Iteration cap reached")
	}
	log.Debug().Str("outcome", out.Describe()).Msg("Reconciliation finished")
	return out, nil
}

// ErrNoUserMessage is returned by SearchAndReconcile when the messages hold
// no user turn to search on.
var ErrNoUserMessage = errors.New("no user message to reconcile")

// SearchAndReconcile searches the owner's memories with the latest user
// message and reconciles the messages against the result.
func (e *Engine) SearchAndReconcile(ctx context.Context, ownerID string, messages []conversations.Message, categories []string) (*Outcome, error) {
	latest, ok := conversations.LatestUserMessage(messages)
	if !ok {
		return nil, ErrNoUserMessage
	}
	candidates, err := e.retriever.Retrieve(ctx, retrieval.Request{
		Query:          latest,
		OwnerID:        ownerID,
		ScoreThreshold: e.cfg.ScoreThreshold,
		Limit:          e.cfg.Limit,
	})
	if err != nil {
		return nil, err
	}
	return e.Reconcile(ctx, Input{
		OwnerID:            ownerID,
		Messages:           messages,
		Candidates:         candidates,
		ExistingCategories: categories,
	})
}

// decide makes one decision call. The timeout and retries apply only while
// nothing has been mutated.
func (e *Engine) decide(ctx context.Context, transcript []llm.Message, mutated bool) (*llm.Response, error) {
	req := &llm.Request{
		Model:       e.cfg.Model,
		System:      systemPrompt,
		Messages:    transcript,
		Tools:       ToolSpecs(),
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
	}
	if mutated {
		return e.client.Synchronous(ctx, req)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = e.cfg.RetryInterval
	eb.MaxInterval = 30 * time.Second
	eb.RandomizationFactor = 0.2
	eb.Reset()

	hinted := &retryAfterBackOff{BackOff: eb}
	var resp *llm.Response
	operation := func() error {
		callCtx := ctx
		if e.cfg.DecisionTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, e.cfg.DecisionTimeout)
			defer cancel()
		}
		r, err := e.client.Synchronous(callCtx, req)
		if err != nil {
			// Resending the same oversized request cannot succeed.
			if !llm.IsRetryableError(err) || llm.IsRequestTooLargeError(err) {
				return backoff.Permanent(err)
			}
			if llm.IsRateLimitError(err) {
				if after := llm.ExtractRetryAfter(err); after != nil {
					hinted.hint = *after
				}
			}
			e.logger.Warn().Err(err).Dur("retry_after", hinted.hint).Msg("Decision call failed, retrying")
			return err
		}
		resp = r
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(hinted, e.cfg.DecisionRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return resp, nil
}

// retryAfterBackOff waits at least as long as the provider asked for after
// a rate limit response.
type retryAfterBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if b.hint > next {
		next = b.hint
	}
	b.hint = 0
	return next
}

// apply executes one action. The returned AppliedAction is non-nil whenever
// the store changed, including on partial failure. Indices resolving to a
// point id in gone are rejected as stale.
func (e *Engine) apply(ctx context.Context, in Input, action Action, gone map[string]bool) (*AppliedAction, string, error) {
	switch a := action.(type) {
	case Add:
		vec, err := memory.EmbedOne(ctx, e.gateway, a.Text)
		if err != nil {
			return nil, "", err
		}
		ids, err := e.store(ctx, in.OwnerID, a.Text, a.Categories, vec)
		if err != nil {
			return nil, "", err
		}
		return &AppliedAction{Action: a, Inserted: ids}, fmt.Sprintf("Memory %q was added", a.Text), nil

	case Update:
		pointID, err := resolve(in.Candidates, a.Index, gone)
		if err != nil {
			return nil, "", err
		}
		// Embed before deleting so an embedding failure leaves the old record.
		vec, err := memory.EmbedOne(ctx, e.gateway, a.Text)
		if err != nil {
			return nil, "", err
		}
		if err := e.repo.Delete(ctx, []string{pointID}); err != nil {
			return nil, "", err
		}
		// The old record is gone; losing the replacement to a cancelled
		// caller would lose the memory.
		ids, err := e.store(context.WithoutCancel(ctx), in.OwnerID, a.Text, a.Categories, vec)
		if err != nil {
			e.logger.Error().Err(err).Str("point_id", pointID).Msg("Update lost its replacement record")
			return &AppliedAction{Action: a, Removed: []string{pointID}}, "", &memory.PartialMutationError{
				Action:    string(KindUpdate),
				Succeeded: []string{"delete " + pointID},
				Failed:    []string{"insert replacement"},
				Err:       err,
			}
		}
		return &AppliedAction{Action: a, Inserted: ids, Removed: []string{pointID}},
			fmt.Sprintf("Memory %d has been updated to %q", a.Index, a.Text), nil

	case Delete:
		pointIDs := make([]string, 0, len(a.Indices))
		seen := make(map[string]bool, len(a.Indices))
		for _, idx := range a.Indices {
			id, err := resolve(in.Candidates, idx, gone)
			if err != nil {
				return nil, "", err
			}
			if !seen[id] {
				seen[id] = true
				pointIDs = append(pointIDs, id)
			}
		}
		var removed, failed []string
		var firstErr error
		for _, id := range pointIDs {
			if err := e.repo.Delete(ctx, []string{id}); err != nil {
				failed = append(failed, id)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			removed = append(removed, id)
		}
		switch {
		case firstErr == nil:
			return &AppliedAction{Action: a, Removed: removed}, fmt.Sprintf("Memories %v deleted", a.Indices), nil
		case len(removed) == 0:
			return nil, "", firstErr
		default:
			return &AppliedAction{Action: a, Removed: removed}, "", &memory.PartialMutationError{
				Action:    string(KindDelete),
				Succeeded: removed,
				Failed:    failed,
				Err:       firstErr,
			}
		}

	case Noop:
		return &AppliedAction{Action: a}, "No action done", nil
	}
	return nil, "", fmt.Errorf("%w: unhandled action %T", ErrInvalidAction, action)
}

func resolve(candidates *memory.CandidateSet, index int, gone map[string]bool) (string, error) {
	id, err := candidates.Resolve(index)
	if err != nil {
		return "", err
	}
	if gone[id] {
		return "", &memory.StaleMemoryIndexError{Index: index}
	}
	return id, nil
}

func (e *Engine) store(ctx context.Context, ownerID, text string, categories []string, vec []float32) ([]string, error) {
	stored, err := e.repo.Insert(ctx, []memory.Record{{
		OwnerID:    ownerID,
		Text:       text,
		Categories: categories,
		CreatedAt:  memory.Now(),
		Embedding:  vec,
	}})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(stored))
	for _, r := range stored {
		ids = append(ids, r.PointID)
	}
	return ids, nil
}
