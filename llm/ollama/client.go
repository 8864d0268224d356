package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aschepis/backscratcher/mnemo/llm"
	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
)

// OllamaClient implements llm.Client for a local Ollama server.
type OllamaClient struct {
	client *api.Client
	model  string
	logger zerolog.Logger
}

// NewOllamaClient creates a new OllamaClient. An empty host falls back to
// OLLAMA_HOST or the local default.
func NewOllamaClient(host, model string, logger zerolog.Logger) (*OllamaClient, error) {
	var client *api.Client
	if host != "" {
		baseURL, err := parseHost(host)
		if err != nil {
			return nil, fmt.Errorf("invalid host: %w", err)
		}
		client = api.NewClient(baseURL, &http.Client{})
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
	}
	if model == "" {
		model = llm.DefaultOllamaModel
	}

	return &OllamaClient{
		client: client,
		model:  model,
		logger: logger.With().Str("provider", llm.ProviderOllama).Logger(),
	}, nil
}

func parseHost(host string) (*url.URL, error) {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

// Synchronous implements llm.Client.Synchronous.
func (c *OllamaClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	msgs, err := ToOllamaMessages(req.Messages, req.Tools)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}
	if req.System != "" {
		msgs = append([]api.Message{{Role: "system", Content: req.System}}, msgs...)
	}

	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   new(bool),
		Options:  make(map[string]interface{}),
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = ToOllamaTools(req.Tools)
	}
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = int(req.MaxTokens)
	}
	if req.Temperature != nil {
		chatReq.Options["temperature"] = *req.Temperature
	}

	var chatResp api.ChatResponse
	err = c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		chatResp = resp
		return nil
	})
	if err != nil {
		return nil, classifyError(err)
	}

	content := make([]llm.ContentBlock, 0, 1+len(chatResp.Message.ToolCalls))
	if chatResp.Message.Content != "" {
		content = append(content, llm.ContentBlock{
			Type: llm.ContentBlockTypeText,
			Text: chatResp.Message.Content,
		})
	}
	for i, toolCall := range chatResp.Message.ToolCalls {
		content = append(content, llm.ContentBlock{
			Type:    llm.ContentBlockTypeToolUse,
			ToolUse: FromOllamaToolCall(toolCall, i),
		})
	}

	stopReason := "end_turn"
	if chatResp.DoneReason != "" {
		stopReason = chatResp.DoneReason
	}
	c.logger.Debug().
		Str("model", model).
		Int("prompt_eval_count", chatResp.PromptEvalCount).
		Int("eval_count", chatResp.EvalCount).
		Msg("Chat complete")

	return &llm.Response{
		Content: content,
		Usage: &llm.Usage{
			InputTokens:  int64(chatResp.PromptEvalCount),
			OutputTokens: int64(chatResp.EvalCount),
		},
		StopReason: stopReason,
	}, nil
}

func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return llm.FromStatusCode(statusErr.StatusCode, nil, err)
	}
	return llm.NewNetworkError("ollama chat request failed", err)
}

var _ llm.Client = (*OllamaClient)(nil)
