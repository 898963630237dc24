package catalog

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// TenantField carries the sanitized tenant and TenantKeyField its exact
// tenant.Key. Both are stamped on every stored document and both are part of
// the tenant hard filter.
const (
	TenantField    = "tenant_id"
	TenantKeyField = "tenant_key"
)

// Entry is one catalog document as stored: field name to value. Values are
// strings, float64 or int64 after ingestion, and whatever the JSON decoder
// produced after a read.
type Entry map[string]any

func (e Entry) Has(field string) bool {
	v, ok := e[field]
	return ok && v != nil
}

// String renders a field for display and matching. Integral numbers are
// printed without a fraction.
func (e Entry) String(field string) string {
	v, ok := e[field]
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}

func (e Entry) Float(field string) (float64, bool) {
	v, ok := e[field]
	if !ok || v == nil {
		return 0, false
	}
	return toFloat(v)
}

func (e Entry) Int(field string) (int64, bool) {
	f, ok := e.Float(field)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func (e Entry) Clone() Entry {
	out := make(Entry, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Hit is one search result. ID is the composite storage key.
type Hit struct {
	ID     string  `json:"id"`
	Score  float64 `json:"score"`
	Source Entry   `json:"source"`
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return formatFloat(t)
	case float32:
		return formatFloat(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), ",", ""), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
