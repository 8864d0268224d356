// Package tools maps tool names to handlers over the memory session.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aschepis/backscratcher/mnemo/conversations"
	"github.com/aschepis/backscratcher/mnemo/retrieval"
	"github.com/aschepis/backscratcher/mnemo/session"
	"github.com/aschepis/backscratcher/mnemo/tools/schemas"
	"github.com/rs/zerolog"
)

// ToolHandler handles a tool call for a specific owner.
type ToolHandler func(ctx context.Context, ownerID string, args json.RawMessage) (any, error)

// Registry maps tool names to handlers.
type Registry struct {
	handlers map[string]ToolHandler
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]ToolHandler),
		logger:   logger.With().Str("component", "tool_registry").Logger(),
	}
}

// Register registers a handler for a tool name.
func (r *Registry) Register(name string, h ToolHandler) {
	r.logger.Debug().Str("name", name).Msg("Registering tool handler")
	r.handlers[name] = h
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle dispatches a tool call.
func (r *Registry) Handle(ctx context.Context, toolName, ownerID string, args []byte) (any, error) {
	h, ok := r.handlers[toolName]
	if !ok {
		r.logger.Error().Str("tool", toolName).Msg("Unknown tool requested")
		return nil, fmt.Errorf("unknown tool: %s", toolName)
	}
	if len(args) == 0 {
		args = []byte("{}")
	}
	r.logger.Debug().Str("tool", toolName).Str("owner_id", ownerID).Str("args", string(args)).Msg("Executing tool")

	result, err := h(ctx, ownerID, json.RawMessage(args))
	if err != nil {
		r.logger.Warn().Str("tool", toolName).Str("owner_id", ownerID).Err(err).Msg("Tool returned error")
		return nil, err
	}
	if resultBytes, e := json.Marshal(result); e == nil {
		s := string(resultBytes)
		if len(s) > 500 {
			s = s[:500] + "... (truncated)"
		}
		r.logger.Info().Str("tool", toolName).Str("owner_id", ownerID).Str("result", s).Msg("Tool returned result")
	}
	return result, nil
}

// ownerArg lets a call name its owner explicitly.
type ownerArg struct {
	OwnerID string `json:"owner_id"`
}

func (o ownerArg) resolve(fallback string) (string, error) {
	if id := strings.TrimSpace(o.OwnerID); id != "" {
		return id, nil
	}
	if fallback == "" {
		return "", errors.New("owner_id is required")
	}
	return fallback, nil
}

// RegisterMemoryTools registers the memory tools backed by an Orchestrator.
// Tool names must match ^[a-zA-Z0-9_-]{1,128}$.
func (r *Registry) RegisterMemoryTools(o *session.Orchestrator) {
	r.Register("memory_search", func(ctx context.Context, ownerID string, args json.RawMessage) (any, error) {
		var payload struct {
			ownerArg
			Query      string   `json:"query"`
			Categories []string `json:"categories"`
			Limit      int      `json:"limit"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}
		owner, err := payload.resolve(ownerID)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(payload.Query) == "" {
			return nil, fmt.Errorf("query cannot be empty")
		}
		set, err := o.Search(ctx, owner, payload.Query, payload.Categories, payload.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"memories": retrieval.FormatAll(set)}, nil
	})

	r.Register("memory_remember", func(ctx context.Context, ownerID string, args json.RawMessage) (any, error) {
		var payload struct {
			ownerArg
			Messages []conversations.Message `json:"messages"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}
		owner, err := payload.resolve(ownerID)
		if err != nil {
			return nil, err
		}
		outcome, err := o.Remember(ctx, owner, payload.Messages)
		if err != nil {
			// report what happened before the failure along with it
			return nil, fmt.Errorf("%w (%s)", err, outcome.Describe())
		}
		actions := make([]string, 0, len(outcome.Applied))
		for _, a := range outcome.Applied {
			actions = append(actions, string(a.Action.Kind()))
		}
		return map[string]any{
			"summary":  outcome.Describe(),
			"actions":  actions,
			"rejected": len(outcome.Rejected),
		}, nil
	})

	r.Register("memory_categories", func(ctx context.Context, ownerID string, args json.RawMessage) (any, error) {
		var payload ownerArg
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}
		owner, err := payload.resolve(ownerID)
		if err != nil {
			return nil, err
		}
		cats, err := o.RefreshCategories(ctx, owner)
		if err != nil {
			return nil, err
		}
		return map[string]any{"categories": cats}, nil
	})

	r.Register("memory_forget_all", func(ctx context.Context, ownerID string, args json.RawMessage) (any, error) {
		var payload ownerArg
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}
		owner, err := payload.resolve(ownerID)
		if err != nil {
			return nil, err
		}
		if err := o.Forget(ctx, owner); err != nil {
			return nil, err
		}
		return map[string]any{"forgotten": owner}, nil
	})
}

// Schema returns the input schema of a registered tool.
func (r *Registry) Schema(name string) (schemas.ToolSchema, bool) {
	if _, ok := r.handlers[name]; !ok {
		return schemas.ToolSchema{}, false
	}
	s, ok := schemas.All()[name]
	return s, ok
}
