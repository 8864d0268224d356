package schemas

var ownerProperty = map[string]any{
	"type":        "string",
	"description": "Owner whose memories are used. Defaults to the server's owner.",
}

// MemorySchemas returns schemas for memory-related tools.
func MemorySchemas() map[string]ToolSchema {
	return map[string]ToolSchema{
		"memory_search": {
			Description: "Search an owner's memories by semantic similarity. Returns formatted memories with categories and relevance.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"owner_id": ownerProperty,
					"query": map[string]any{
						"type":        "string",
						"description": "Text to search for.",
					},
					"categories": map[string]any{
						"type":        "array",
						"description": "Only match memories with any of these categories. Empty searches all.",
						"items":       map[string]any{"type": "string"},
					},
					"limit": map[string]any{
						"type":        "number",
						"description": "Maximum number of memories to return.",
					},
				},
				"required": []string{"query"},
			},
		},
		"memory_remember": {
			Description: "Reconcile the latest conversation turns into the owner's memories. New facts are added, changed facts updated, stale facts deleted.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"owner_id": ownerProperty,
					"messages": map[string]any{
						"type":        "array",
						"description": "Recent conversation turns, oldest first. Must contain a user turn.",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"role":    map[string]any{"type": "string", "enum": []string{"user", "assistant"}},
								"content": map[string]any{"type": "string"},
							},
							"required": []string{"role", "content"},
						},
					},
				},
				"required": []string{"messages"},
			},
		},
		"memory_categories": {
			Description: "List the distinct categories used by the owner's memories.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"owner_id": ownerProperty,
				},
			},
		},
		"memory_forget_all": {
			Description: "Delete every memory and the transcript of the owner. This cannot be undone.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"owner_id": ownerProperty,
				},
			},
		},
	}
}
