package ollama

import (
	"testing"

	"github.com/aschepis/backscratcher/mnemo/llm"
	"github.com/ollama/ollama/api"
)

var updateSchema = llm.ToolSchema{
	Type: "object",
	Properties: map[string]interface{}{
		"memory_id":           map[string]interface{}{"type": "integer"},
		"updated_memory_text": map[string]interface{}{"type": "string"},
		"categories":          map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
	},
	Required: []string{"memory_id", "updated_memory_text"},
}

func TestCoerceArguments(t *testing.T) {
	args, err := coerceArguments("update_memory", map[string]interface{}{
		"memory_id":           "1",
		"updated_memory_text": "Lives in Osaka",
		"categories":          []interface{}{"location"},
		"extra":               true,
	}, updateSchema)
	if err != nil {
		t.Fatalf("coerceArguments: %v", err)
	}
	if args["memory_id"] != 1 {
		t.Errorf("memory_id = %#v, want 1", args["memory_id"])
	}
	if args["extra"] != true {
		t.Errorf("undeclared parameter not passed through")
	}

	if _, err := coerceArguments("update_memory", map[string]interface{}{"memory_id": 1}, updateSchema); err == nil {
		t.Errorf("expected missing required parameter error")
	}
	if _, err := coerceArguments("update_memory", map[string]interface{}{
		"memory_id": "first", "updated_memory_text": "x",
	}, updateSchema); err == nil {
		t.Errorf("expected conversion error")
	}
}

func TestToOllamaMessagesSplitsToolResults(t *testing.T) {
	specs := []llm.ToolSpec{{Name: "update_memory", Schema: updateSchema}}
	msgs := []llm.Message{
		llm.NewToolUseMessage([]llm.ToolUseBlock{{
			ID: "call_0_update_memory", Name: "update_memory",
			Input: map[string]interface{}{"memory_id": 0.0, "updated_memory_text": "Lives in Osaka"},
		}}),
		llm.NewToolResultMessage([]llm.ToolResultBlock{{ID: "call_0_update_memory", Content: "updated"}}),
	}
	got, err := ToOllamaMessages(msgs, specs)
	if err != nil {
		t.Fatalf("ToOllamaMessages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if len(got[0].ToolCalls) != 1 || got[0].ToolCalls[0].Function.Arguments["memory_id"] != 0 {
		t.Errorf("unexpected tool call %+v", got[0].ToolCalls)
	}
	if got[1].Role != "tool" || got[1].Content != "updated" {
		t.Errorf("unexpected tool result message %+v", got[1])
	}
}

func TestFromOllamaToolCallAssignsPositionalID(t *testing.T) {
	block := FromOllamaToolCall(api.ToolCall{Function: api.ToolCallFunction{
		Name:      "noop",
		Arguments: api.ToolCallFunctionArguments{},
	}}, 2)
	if block.ID != "call_2_noop" || block.Name != "noop" {
		t.Fatalf("unexpected block %+v", block)
	}
}

func TestToOllamaToolsDefaultsObjectType(t *testing.T) {
	tools := ToOllamaTools([]llm.ToolSpec{{Name: "update_memory", Description: "Update", Schema: llm.ToolSchema{
		Properties: updateSchema.Properties,
		Required:   updateSchema.Required,
	}}})
	if len(tools) != 1 || tools[0].Function.Parameters.Type != "object" {
		t.Fatalf("unexpected tools %+v", tools)
	}
	if tools[0].Function.Parameters.Properties["memory_id"].Type[0] != "integer" {
		t.Errorf("memory_id type not carried over")
	}
}
