package llm

import (
	"encoding/json"
	"testing"
)

func TestNewTextMessage(t *testing.T) {
	msg := NewTextMessage(RoleUser, "Hello, world!")
	if msg.Role != RoleUser {
		t.Errorf("Expected role %v, got %v", RoleUser, msg.Role)
	}
	if len(msg.Content) != 1 {
		t.Errorf("Expected 1 content block, got %d", len(msg.Content))
	}
	if msg.Content[0].Type != ContentBlockTypeText {
		t.Errorf("Expected text block type, got %v", msg.Content[0].Type)
	}
	if msg.Content[0].Text != "Hello, world!" {
		t.Errorf("Expected text 'Hello, world!', got %q", msg.Content[0].Text)
	}
}

func TestNewToolUseMessage(t *testing.T) {
	toolUses := []ToolUseBlock{
		{ID: "tool-1", Name: "test_tool", Input: map[string]interface{}{"arg": "value"}},
	}
	msg := NewToolUseMessage(toolUses)
	if msg.Role != RoleAssistant {
		t.Errorf("Expected role %v, got %v", RoleAssistant, msg.Role)
	}
	if len(msg.Content) != 1 {
		t.Errorf("Expected 1 content block, got %d", len(msg.Content))
	}
	if msg.Content[0].Type != ContentBlockTypeToolUse {
		t.Errorf("Expected tool use block type, got %v", msg.Content[0].Type)
	}
	if msg.Content[0].ToolUse == nil {
		t.Fatal("Expected ToolUse to be set")
	}
	if msg.Content[0].ToolUse.ID != "tool-1" {
		t.Errorf("Expected tool ID 'tool-1', got %q", msg.Content[0].ToolUse.ID)
	}
}

func TestNewToolResultMessage(t *testing.T) {
	toolResults := []ToolResultBlock{
		{ID: "tool-1", Content: `{"result": "success"}`, IsError: false},
	}
	msg := NewToolResultMessage(toolResults)
	if msg.Role != RoleUser {
		t.Errorf("Expected role %v, got %v", RoleUser, msg.Role)
	}
	if len(msg.Content) != 1 {
		t.Errorf("Expected 1 content block, got %d", len(msg.Content))
	}
	if msg.Content[0].Type != ContentBlockTypeToolResult {
		t.Errorf("Expected tool result block type, got %v", msg.Content[0].Type)
	}
	if msg.Content[0].ToolResult == nil {
		t.Fatal("Expected ToolResult to be set")
	}
	if msg.Content[0].ToolResult.ID != "tool-1" {
		t.Errorf("Expected tool ID 'tool-1', got %q", msg.Content[0].ToolResult.ID)
	}
}

func TestResponseHelpers(t *testing.T) {
	resp := &Response{Content: []ContentBlock{
		{Type: ContentBlockTypeText, Text: "Added "},
		{Type: ContentBlockTypeToolUse, ToolUse: &ToolUseBlock{ID: "a", Name: "noop"}},
		{Type: ContentBlockTypeToolUse},
		{Type: ContentBlockTypeText, Text: "one memory"},
	}}
	if got := resp.Text(); got != "Added \none memory" {
		t.Errorf("Text() = %q", got)
	}
	uses := resp.ToolUses()
	if len(uses) != 1 || uses[0].Name != "noop" {
		t.Errorf("ToolUses() = %v", uses)
	}
}

func TestNewToolResultBlock(t *testing.T) {
	block := NewToolResultBlock("t1", "plain", false)
	if block.Content != "plain" || block.ID != "t1" || block.IsError {
		t.Errorf("unexpected block %+v", block)
	}
	block = NewToolResultBlock("t2", map[string]any{"ok": true}, true)
	var decoded map[string]bool
	if err := json.Unmarshal([]byte(block.Content), &decoded); err != nil || !decoded["ok"] {
		t.Errorf("expected JSON content, got %q (%v)", block.Content, err)
	}
	if !block.IsError {
		t.Errorf("IsError not kept")
	}
}
