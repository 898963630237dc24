package search

import (
	"strings"

	"github.com/retail-agent/backend/internal/catalog"
	"github.com/retail-agent/backend/internal/catalog/dsl"
)

// Boosts of the name tiers. An exact keyword hit always outranks a phrase
// hit, which outranks a token match.
const (
	exactBoost  = 3.0
	phraseBoost = 2.0
)

// BuildQuery turns validated criteria into the structured query of a kind.
// The tenant filter is added by the store.
func BuildQuery(schema *catalog.Schema, c Criteria) dsl.Query {
	var q dsl.Bool

	for _, cr := range schema.Criteria {
		value, ok := c.Terms[cr.Name]
		if !ok || value == "" {
			continue
		}

		switch cr.Mode {
		case catalog.ModeNameTiers:
			q.Must = append(q.Must, nameTiers(cr.Field, value))
		case catalog.ModeMustMatch:
			q.Must = append(q.Must, dsl.Match{Field: cr.Field, Query: value})
		case catalog.ModeShouldMatch:
			q.Should = append(q.Should, dsl.Match{Field: cr.Field, Query: value, Boost: cr.Boost})
		case catalog.ModeAllTermsShould:
			q.Should = append(q.Should, dsl.Match{Field: cr.Field, Query: value, Operator: dsl.OperatorAnd, Boost: cr.Boost})
		case catalog.ModeExactFilter:
			q.Filter = append(q.Filter, dsl.Term{Field: keywordField(schema, cr.Field), Value: value})
		}
	}

	if r, ok := priceRange(schema, c); ok {
		q.Filter = append(q.Filter, r)
	}

	if len(q.Must) == 0 && len(q.Should) == 0 && len(q.Filter) == 0 {
		return dsl.MatchAll{}
	}
	return q
}

// FallbackQuery is a typo-tolerant multi_match over the kind's weighted
// fields using every supplied term. It keeps the price range as a hard
// filter. ok is false when no free-text criterion was supplied.
func FallbackQuery(schema *catalog.Schema, c Criteria) (dsl.Query, bool) {
	text := c.FreeText(schema)
	if len(text) == 0 || len(schema.Fallback) == 0 {
		return nil, false
	}

	fields := make([]dsl.FieldWeight, len(schema.Fallback))
	for i, f := range schema.Fallback {
		fields[i] = dsl.FieldWeight{Field: f.Field, Weight: f.Weight}
	}

	var q dsl.Query = dsl.MultiMatch{
		Query:     strings.Join(text, " "),
		Fields:    fields,
		Fuzziness: dsl.FuzzinessAuto,
	}
	if r, ok := priceRange(schema, c); ok {
		q = dsl.WithFilter(q, r)
	}
	return q, true
}

func nameTiers(field, value string) dsl.Query {
	return dsl.Bool{Should: []dsl.Query{
		dsl.Term{Field: field + dsl.KeywordSuffix, Value: value, Boost: exactBoost},
		dsl.MatchPhrase{Field: field, Query: value, Boost: phraseBoost},
		dsl.Match{Field: field, Query: value},
	}}
}

func keywordField(schema *catalog.Schema, field string) string {
	if f, ok := schema.Field(field); ok && f.Type == catalog.FieldText {
		return field + dsl.KeywordSuffix
	}
	return field
}

func priceRange(schema *catalog.Schema, c Criteria) (dsl.Query, bool) {
	if !schema.HasPrice() || (c.MinPrice == nil && c.MaxPrice == nil) {
		return nil, false
	}
	return dsl.Range{Field: schema.PriceField, GTE: c.MinPrice, LTE: c.MaxPrice}, true
}
