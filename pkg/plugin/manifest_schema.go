package plugin

import "github.com/harun/warden/pkg/capability"

// manifestSchema is the JSON Schema every plugin.json must satisfy. The
// capability enum is the closed capability set.
func manifestSchema() map[string]any {
	names := make([]any, 0, len(capability.All()))
	for _, c := range capability.All() {
		names = append(names, c.String())
	}

	stringList := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string", "minLength": 1},
	}

	return map[string]any{
		"$schema":  "http://json-schema.org/draft-07/schema#",
		"type":     "object",
		"required": []any{"id", "name", "version"},
		"properties": map[string]any{
			"id": map[string]any{
				"type":    "string",
				"pattern": `^[a-z0-9_-]+$`,
			},
			"name": map[string]any{
				"type":      "string",
				"minLength": 1,
			},
			"version":     map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
			"author":      map[string]any{"type": "string"},
			"capabilities": map[string]any{
				"type":        "array",
				"uniqueItems": true,
				"items":       map[string]any{"type": "string", "enum": names},
			},
			"tools": stringList,
			"dependencies": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []any{"pluginId"},
					"properties": map[string]any{
						"pluginId": map[string]any{"type": "string", "minLength": 1},
						"version":  map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}
