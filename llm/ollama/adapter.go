package ollama

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aschepis/backscratcher/mnemo/llm"
	"github.com/ollama/ollama/api"
)

// coerceArguments checks required parameters and coerces values to the
// types the schema declares. Smaller local models often send numbers and
// booleans as strings.
func coerceArguments(toolName string, args map[string]interface{}, schema llm.ToolSchema) (api.ToolCallFunctionArguments, error) {
	for _, name := range schema.Required {
		v, ok := args[name]
		if !ok || v == nil || v == "" {
			return nil, fmt.Errorf("tool %s: required parameter %q is missing", toolName, name)
		}
	}

	out := make(api.ToolCallFunctionArguments, len(args))
	for k, v := range args {
		prop, _ := schema.Properties[k].(map[string]interface{})
		typ, _ := prop["type"].(string)
		converted, err := coerce(v, typ)
		if err != nil {
			return nil, fmt.Errorf("tool %s: parameter %q: %w", toolName, k, err)
		}
		out[k] = converted
	}
	return out, nil
}

func coerce(v interface{}, typ string) (interface{}, error) {
	switch typ {
	case "integer":
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case float64:
			return int(n), nil
		case string:
			i, err := strconv.Atoi(strings.TrimSpace(n))
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to integer", n)
			}
			return i, nil
		}
		return nil, fmt.Errorf("cannot convert %T to integer", v)
	case "number":
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to number", n)
			}
			return f, nil
		}
		return nil, fmt.Errorf("cannot convert %T to number", v)
	case "boolean":
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to boolean", b)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("cannot convert %T to boolean", v)
	case "string":
		if v == nil {
			return "", nil
		}
		return fmt.Sprintf("%v", v), nil
	default:
		// arrays, objects and undeclared parameters pass through
		return v, nil
	}
}

// ToOllamaMessages converts llm.Messages to Ollama chat messages. Tool
// results become separate "tool" role messages. When specs are given, the
// arguments of replayed tool calls are checked against them.
func ToOllamaMessages(msgs []llm.Message, specs []llm.ToolSpec) ([]api.Message, error) {
	specMap := make(map[string]llm.ToolSpec, len(specs))
	for _, spec := range specs {
		specMap[spec.Name] = spec
	}

	result := make([]api.Message, 0, len(msgs))
	for _, msg := range msgs {
		converted, err := ToOllamaMessage(msg, specMap)
		if err != nil {
			return nil, fmt.Errorf("failed to convert message: %w", err)
		}
		result = append(result, converted...)
	}
	return result, nil
}

// ToOllamaMessage converts a single llm.Message to Ollama format.
func ToOllamaMessage(msg llm.Message, specMap map[string]llm.ToolSpec) ([]api.Message, error) {
	var text []string
	var toolCalls []api.ToolCall
	var toolResults []api.Message

	for _, block := range msg.Content {
		switch block.Type {
		case llm.ContentBlockTypeText:
			if block.Text != "" {
				text = append(text, block.Text)
			}
		case llm.ContentBlockTypeToolUse:
			if block.ToolUse == nil {
				continue
			}
			var args api.ToolCallFunctionArguments
			if spec, ok := specMap[block.ToolUse.Name]; ok {
				converted, err := coerceArguments(block.ToolUse.Name, block.ToolUse.Input, spec.Schema)
				if err != nil {
					return nil, fmt.Errorf("tool argument validation failed: %w", err)
				}
				args = converted
			} else {
				args = make(api.ToolCallFunctionArguments, len(block.ToolUse.Input))
				for k, v := range block.ToolUse.Input {
					args[k] = v
				}
			}
			toolCalls = append(toolCalls, api.ToolCall{
				Function: api.ToolCallFunction{
					Name:      block.ToolUse.Name,
					Arguments: args,
				},
			})
		case llm.ContentBlockTypeToolResult:
			if block.ToolResult != nil {
				toolResults = append(toolResults, api.Message{
					Role:    "tool",
					Content: block.ToolResult.Content,
				})
			}
		}
	}

	var out []api.Message
	if len(text) > 0 || len(toolCalls) > 0 {
		out = append(out, api.Message{
			Role:      string(msg.Role),
			Content:   strings.Join(text, "\n"),
			ToolCalls: toolCalls,
		})
	}
	return append(out, toolResults...), nil
}

// ToOllamaTools converts llm.ToolSpecs to Ollama function tools.
func ToOllamaTools(specs []llm.ToolSpec) []api.Tool {
	result := make([]api.Tool, 0, len(specs))
	for i := range specs {
		result = append(result, ToOllamaTool(&specs[i]))
	}
	return result
}

// ToOllamaTool converts a single llm.ToolSpec to an Ollama function tool.
func ToOllamaTool(spec *llm.ToolSpec) api.Tool {
	properties := make(map[string]api.ToolProperty, len(spec.Schema.Properties))
	for k, v := range spec.Schema.Properties {
		prop := api.ToolProperty{Type: []string{"string"}}
		if propMap, ok := v.(map[string]interface{}); ok {
			if propType, ok := propMap["type"].(string); ok {
				prop.Type = []string{propType}
			}
			if desc, ok := propMap["description"].(string); ok {
				prop.Description = desc
			}
			if items, ok := propMap["items"]; ok {
				prop.Items = items
			}
		}
		properties[k] = prop
	}

	schemaType := spec.Schema.Type
	if schemaType == "" {
		schemaType = "object"
	}
	return api.Tool{
		Type: "function",
		Function: api.ToolFunction{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters: api.ToolFunctionParameters{
				Type:       schemaType,
				Properties: properties,
				Required:   spec.Schema.Required,
			},
		},
	}
}

// FromOllamaToolCall converts an Ollama tool call to an llm.ToolUseBlock.
// Ollama does not assign call ids, so one is derived from the position.
func FromOllamaToolCall(toolCall api.ToolCall, position int) *llm.ToolUseBlock {
	input := make(map[string]interface{}, len(toolCall.Function.Arguments))
	for k, v := range toolCall.Function.Arguments {
		input[k] = v
	}
	return &llm.ToolUseBlock{
		ID:    fmt.Sprintf("call_%d_%s", position, toolCall.Function.Name),
		Name:  toolCall.Function.Name,
		Input: input,
	}
}
