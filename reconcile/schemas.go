package reconcile

import "github.com/aschepis/backscratcher/mnemo/llm"

var categoriesProperty = map[string]interface{}{
	"type":        "array",
	"items":       map[string]interface{}{"type": "string"},
	"description": "Reuse existing categories where they fit; create new ones only if required.",
}

// ToolSpecs returns the tools offered to the decision step.
func ToolSpecs() []llm.ToolSpec {
	return []llm.ToolSpec{
		{
			Name:        ToolAddMemory,
			Description: "Add a new memory to the database.",
			Schema: llm.ToolSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"memory_text": map[string]interface{}{
						"type":        "string",
						"description": "A simple atomic fact about the user.",
					},
					"categories": categoriesProperty,
				},
				Required: []string{"memory_text", "categories"},
			},
		},
		{
			Name:        ToolUpdateMemory,
			Description: "Replace an existing memory with richer or corrected information.",
			Schema: llm.ToolSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"memory_id": map[string]interface{}{
						"type":        "integer",
						"description": "memory_id of the existing memory to replace.",
					},
					"updated_memory_text": map[string]interface{}{
						"type":        "string",
						"description": "A simple atomic fact that replaces the old memory.",
					},
					"categories": categoriesProperty,
				},
				Required: []string{"memory_id", "updated_memory_text", "categories"},
			},
		},
		{
			Name:        ToolDeleteMemories,
			Description: "Remove existing memories that are no longer true given the new information.",
			Schema: llm.ToolSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"memory_ids": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "integer"},
						"description": "memory_id values of the memories to remove.",
					},
				},
				Required: []string{"memory_ids"},
			},
		},
		{
			Name:        ToolNoop,
			Description: "Call this if no action is required.",
			Schema: llm.ToolSchema{
				Type:       "object",
				Properties: map[string]interface{}{},
			},
		},
	}
}
