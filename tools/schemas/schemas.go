// Package schemas contains the input schemas of the tools exposed to MCP
// clients.
package schemas

// ToolSchema represents a tool's description and JSON schema.
type ToolSchema struct {
	Description string
	Schema      map[string]any
}

// All returns all tool schemas.
func All() map[string]ToolSchema {
	schemas := make(map[string]ToolSchema)
	for name, schema := range MemorySchemas() {
		schemas[name] = schema
	}
	return schemas
}
