package elastic

import (
	"github.com/retail-agent/backend/internal/catalog"
)

// indexBody builds the create-index body of a kind. Text fields get a
// keyword sub-field for exact-match boosting and filters.
func indexBody(schema *catalog.Schema) map[string]any {
	properties := map[string]any{
		catalog.TenantField:    map[string]any{"type": "keyword"},
		catalog.TenantKeyField: map[string]any{"type": "keyword"},
	}
	for _, f := range schema.Fields {
		properties[f.Name] = fieldMapping(f.Type)
	}

	return map[string]any{
		"mappings": map[string]any{
			"properties": properties,
		},
	}
}

func fieldMapping(t catalog.FieldType) map[string]any {
	switch t {
	case catalog.FieldKeyword:
		return map[string]any{"type": "keyword"}
	case catalog.FieldInteger:
		return map[string]any{"type": "integer"}
	case catalog.FieldFloat:
		return map[string]any{"type": "double"}
	default:
		return map[string]any{
			"type": "text",
			"fields": map[string]any{
				"keyword": map[string]any{"type": "keyword", "ignore_above": 256},
			},
		}
	}
}
