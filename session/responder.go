package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aschepis/backscratcher/mnemo/conversations"
	"github.com/aschepis/backscratcher/mnemo/llm"
	"github.com/rs/zerolog"
)

const (
	toolSearchMemories = "search_memories"
	toolRespond        = "respond"

	// DefaultMaxSearches bounds memory lookups per answer.
	DefaultMaxSearches = 2
)

const responderPrompt = `You will be given a past conversation transcript between the user and you, memories retrieved for the latest question, the existing memory categories, and the latest question.

If the transcript, the retrieved memories and your own knowledge cannot answer the question, use search_memories. Pick categories from existing_categories, or pass an empty list to search everything. Retrieved memories may or may not contain what the user wants.

You are continuously learning about the user. If you do not know something about them, say what you know, acknowledge the gap and ask.

Finish by calling respond with your reply. Set save_memory to true only when the user supplied new information about themselves that is richer than what the memories already hold. Never save information about yourself or general knowledge.`

// ErrNoResponse is returned when the model never calls respond.
var ErrNoResponse = errors.New("model did not produce a response")

// SearchFunc looks up formatted memories for the Responder.
type SearchFunc func(ctx context.Context, query string, categories []string) ([]string, error)

// ResponderConfig tunes the Responder.
type ResponderConfig struct {
	Model       string
	MaxTokens   int64
	Temperature *float64
	MaxSearches int
}

// RespondInput is what the Responder sees for one question.
type RespondInput struct {
	Transcript []conversations.Message
	Memories   []string
	Categories []string
	Question   string
	// Search overrides the Responder's SearchFunc for this call.
	Search SearchFunc
}

// Reply is the Responder's answer.
type Reply struct {
	Response   string
	SaveMemory bool
	Searches   []string
}

// Responder answers a question, optionally searching memories first, and
// judges whether the exchange is worth remembering.
type Responder struct {
	client llm.Client
	search SearchFunc
	cfg    ResponderConfig
	logger zerolog.Logger
}

// NewResponder creates a Responder.
func NewResponder(client llm.Client, search SearchFunc, cfg ResponderConfig, logger zerolog.Logger) *Responder {
	if cfg.MaxSearches <= 0 {
		cfg.MaxSearches = DefaultMaxSearches
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	return &Responder{
		client: client,
		search: search,
		cfg:    cfg,
		logger: logger.With().Str("component", "responder").Logger(),
	}
}

// Respond runs the answer loop.
func (r *Responder) Respond(ctx context.Context, in RespondInput) (*Reply, error) {
	search := in.Search
	if search == nil {
		search = r.search
	}
	maxSearches := r.cfg.MaxSearches
	if search == nil {
		maxSearches = 0
	}
	transcript := []llm.Message{llm.NewTextMessage(llm.RoleUser, renderResponderPrompt(in))}
	reply := &Reply{}

	// each search takes a round; one more round is left for respond
	for round := 0; round <= maxSearches; round++ {
		tools := []llm.ToolSpec{respondSpec}
		if len(reply.Searches) < maxSearches {
			tools = append([]llm.ToolSpec{searchSpec}, tools...)
		}
		resp, err := r.client.Synchronous(ctx, &llm.Request{
			Model:       r.cfg.Model,
			System:      responderPrompt,
			Messages:    transcript,
			Tools:       tools,
			MaxTokens:   r.cfg.MaxTokens,
			Temperature: r.cfg.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("responder: %w", err)
		}

		calls := resp.ToolUses()
		if len(calls) == 0 {
			// plain text is taken as the answer, with nothing to save
			if text := resp.Text(); text != "" {
				reply.Response = text
				return reply, nil
			}
			return nil, ErrNoResponse
		}
		transcript = append(transcript, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

		var results []llm.ToolResultBlock
		for _, call := range calls {
			switch call.Name {
			case toolRespond:
				text, _ := call.Input["response"].(string)
				if strings.TrimSpace(text) == "" {
					results = append(results, llm.NewToolResultBlock(call.ID, "response is required", true))
					continue
				}
				reply.Response = text
				reply.SaveMemory = boolArg(call.Input["save_memory"])
				return reply, nil

			case toolSearchMemories:
				if len(reply.Searches) >= maxSearches {
					results = append(results, llm.NewToolResultBlock(call.ID, "search budget exhausted; call respond", true))
					continue
				}
				query, _ := call.Input["search_text"].(string)
				cats := stringList(call.Input["categories"])
				reply.Searches = append(reply.Searches, query)
				found, err := search(ctx, query, cats)
				if err != nil {
					r.logger.Warn().Err(err).Str("query", query).Msg("Memory search failed")
					results = append(results, llm.NewToolResultBlock(call.ID, "memory search is unavailable", true))
					continue
				}
				if found == nil {
					found = []string{}
				}
				results = append(results, llm.NewToolResultBlock(call.ID, map[string]any{"memories": found}, false))

			default:
				results = append(results, llm.NewToolResultBlock(call.ID, fmt.Sprintf("unknown tool %q", call.Name), true))
			}
		}
		transcript = append(transcript, llm.NewToolResultMessage(results))
	}
	return nil, ErrNoResponse
}

var searchSpec = llm.ToolSpec{
	Name:        toolSearchMemories,
	Description: "Search the user's memories when the conversation needs more context.",
	Schema: llm.ToolSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"search_text": map[string]interface{}{
				"type":        "string",
				"description": "Text to embed for the similarity search.",
			},
			"categories": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Categories from existing_categories. Use an empty list to search all.",
			},
		},
		Required: []string{"search_text", "categories"},
	},
}

var respondSpec = llm.ToolSpec{
	Name:        toolRespond,
	Description: "Give the final reply to the user.",
	Schema: llm.ToolSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"response": map[string]interface{}{
				"type":        "string",
				"description": "The reply shown to the user.",
			},
			"save_memory": map[string]interface{}{
				"type":        "boolean",
				"description": "True if the latest interaction holds new information about the user that should be remembered.",
			},
		},
		Required: []string{"response", "save_memory"},
	},
}

func renderResponderPrompt(in RespondInput) string {
	var b strings.Builder
	b.WriteString("transcript:\n")
	if len(in.Transcript) == 0 {
		b.WriteString("(empty)\n")
	}
	for _, m := range in.Transcript {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	b.WriteString("\nretrieved_memories:\n")
	if len(in.Memories) == 0 {
		b.WriteString("(none)\n")
	}
	for _, m := range in.Memories {
		fmt.Fprintf(&b, "- %s\n", m)
	}
	fmt.Fprintf(&b, "\nexisting_categories: [%s]\n", strings.Join(in.Categories, ", "))
	fmt.Fprintf(&b, "\nquestion: %s", in.Question)
	return b.String()
}

func boolArg(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(strings.TrimSpace(b), "true")
	}
	return false
}

func stringList(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
