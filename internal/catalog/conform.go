package catalog

import "strings"

// Conform checks a JSON-decoded entry against the schema and coerces its
// values to the stored types. Unknown fields are rejected and the tenant
// fields are dropped. A full entry must carry the name field; a partial one
// only the fields it changes. Null values are kept so a partial update can
// clear a field.
func (s *Schema) Conform(e Entry, partial bool) (Entry, error) {
	out := make(Entry, len(e))
	for name, v := range e {
		if name == TenantField || name == TenantKeyField {
			continue
		}
		field, ok := s.Field(name)
		if !ok {
			return nil, NewValidationError(name, "unknown %s field", s.Kind)
		}
		if v == nil {
			if partial {
				out[name] = nil
			}
			continue
		}

		switch field.Type {
		case FieldInteger:
			f, ok := toFloat(v)
			if !ok {
				return nil, NewValidationError(name, "must be a number")
			}
			if f < 0 {
				f = 0
			}
			out[name] = int64(f)
		case FieldFloat:
			f, ok := toFloat(v)
			if !ok {
				return nil, NewValidationError(name, "must be a number")
			}
			out[name] = f
		default:
			switch v.(type) {
			case map[string]any, []any:
				return nil, NewValidationError(name, "must be a string")
			}
			str := strings.TrimSpace(stringify(v))
			if str == "" {
				continue
			}
			out[name] = str
		}
	}

	if !partial && !out.Has(s.NameField) {
		return nil, NewValidationError(s.NameField, "is required")
	}
	if partial && len(out) == 0 {
		return nil, NewValidationError("body", "no fields to update")
	}
	return out, nil
}
