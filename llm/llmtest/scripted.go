// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/aschepis/backscratcher/mnemo/llm"
)

// Step is one scripted reply. Exactly one of Response or Err is used.
type Step struct {
	Response *llm.Response
	Err      error
}

// ScriptedClient replays Steps in order and records every request.
// Calls beyond the script fail.
type ScriptedClient struct {
	mu       sync.Mutex
	steps    []Step
	requests []*llm.Request
}

// NewScriptedClient creates a client that replays steps.
func NewScriptedClient(steps ...Step) *ScriptedClient {
	return &ScriptedClient{steps: steps}
}

// Synchronous implements llm.Client.
func (c *ScriptedClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// snapshot so callers appending to their transcript don't alter history
	snapshot := *req
	snapshot.Messages = append([]llm.Message(nil), req.Messages...)
	c.requests = append(c.requests, &snapshot)

	if len(c.steps) == 0 {
		return nil, fmt.Errorf("llmtest: unexpected call %d", len(c.requests))
	}
	step := c.steps[0]
	c.steps = c.steps[1:]
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Requests returns the requests seen so far.
func (c *ScriptedClient) Requests() []*llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*llm.Request(nil), c.requests...)
}

// Remaining reports how many steps were not consumed.
func (c *ScriptedClient) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.steps)
}

// Text builds a text-only reply.
func Text(text string) Step {
	return Step{Response: &llm.Response{
		Content:    []llm.ContentBlock{{Type: llm.ContentBlockTypeText, Text: text}},
		StopReason: "end_turn",
	}}
}

// ToolCall builds a reply holding a single tool call.
func ToolCall(id, name string, input map[string]interface{}) Step {
	return ToolCalls(llm.ToolUseBlock{ID: id, Name: name, Input: input})
}

// ToolCalls builds a reply holding several tool calls.
func ToolCalls(calls ...llm.ToolUseBlock) Step {
	content := make([]llm.ContentBlock, 0, len(calls))
	for i := range calls {
		call := calls[i]
		content = append(content, llm.ContentBlock{Type: llm.ContentBlockTypeToolUse, ToolUse: &call})
	}
	return Step{Response: &llm.Response{Content: content, StopReason: "tool_use"}}
}

// Fail builds a step that returns err.
func Fail(err error) Step {
	return Step{Err: err}
}

var _ llm.Client = (*ScriptedClient)(nil)
