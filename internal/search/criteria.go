package search

import (
	"sort"
	"strings"

	"github.com/retail-agent/backend/internal/catalog"
)

// Criteria is one structured catalog search as produced by the agent tool
// layer. Terms are keyed by criterion name of the kind's schema.
type Criteria struct {
	Terms    map[string]string `json:"terms"`
	MinPrice *float64          `json:"min_price,omitempty"`
	MaxPrice *float64          `json:"max_price,omitempty"`
	Offset   int               `json:"offset"`
	// OriginalQuery is the user's literal utterance. It only drives the
	// relevance filter.
	OriginalQuery string   `json:"query,omitempty"`
	History       []string `json:"history,omitempty"`
	ThreadID      string   `json:"thread_id,omitempty"`
}

// Validate rejects criteria the kind does not know and drops empty terms.
func (c *Criteria) Validate(schema *catalog.Schema) error {
	if c.Offset < 0 {
		return catalog.NewValidationError("offset", "must not be negative")
	}

	cleaned := make(map[string]string, len(c.Terms))
	for name, value := range c.Terms {
		if _, ok := schema.Criterion(name); !ok {
			return catalog.NewValidationError(name, "unknown search criterion for %s, expected one of %s",
				schema.Kind, strings.Join(criterionNames(schema), ", "))
		}
		if v := strings.TrimSpace(value); v != "" {
			cleaned[name] = v
		}
	}
	c.Terms = cleaned

	if c.MinPrice != nil || c.MaxPrice != nil {
		if !schema.HasPrice() {
			return catalog.NewValidationError("price", "%s entries have no price", schema.Kind)
		}
		if c.MinPrice != nil && c.MaxPrice != nil && *c.MinPrice > *c.MaxPrice {
			return catalog.NewValidationError("price", "min_price %.2f is above max_price %.2f", *c.MinPrice, *c.MaxPrice)
		}
	}
	return nil
}

// FreeText lists the supplied term values in schema criterion order.
func (c Criteria) FreeText(schema *catalog.Schema) []string {
	var out []string
	for _, cr := range schema.Criteria {
		if v, ok := c.Terms[cr.Name]; ok && v != "" {
			out = append(out, v)
		}
	}
	return out
}

func criterionNames(schema *catalog.Schema) []string {
	names := make([]string, len(schema.Criteria))
	for i, cr := range schema.Criteria {
		names[i] = cr.Name
	}
	sort.Strings(names)
	return names
}
