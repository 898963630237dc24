// Package dsl is a typed subset of the Elasticsearch query DSL. The
// Elasticsearch backend serializes it with Source and the in-memory backend
// evaluates it directly.
package dsl

import (
	"strconv"
)

type Query interface {
	Source() map[string]any
}

type Operator string

const (
	OperatorOr  Operator = "or"
	OperatorAnd Operator = "and"
)

const FuzzinessAuto = "AUTO"

// KeywordSuffix addresses the exact sub-field of a text field.
const KeywordSuffix = ".keyword"

type Bool struct {
	Must               []Query
	Should             []Query
	Filter             []Query
	MustNot            []Query
	MinimumShouldMatch int
}

func (b Bool) Source() map[string]any {
	body := map[string]any{}
	add := func(key string, qs []Query) {
		if len(qs) == 0 {
			return
		}
		out := make([]map[string]any, len(qs))
		for i, q := range qs {
			out[i] = q.Source()
		}
		body[key] = out
	}
	add("must", b.Must)
	add("should", b.Should)
	add("filter", b.Filter)
	add("must_not", b.MustNot)
	if b.MinimumShouldMatch > 0 {
		body["minimum_should_match"] = b.MinimumShouldMatch
	}
	return map[string]any{"bool": body}
}

// RequiredShould is the number of should clauses that must match, following
// Elasticsearch: one when the bool has no must or filter clause, else zero.
func (b Bool) RequiredShould() int {
	if b.MinimumShouldMatch > 0 {
		return b.MinimumShouldMatch
	}
	if len(b.Should) > 0 && len(b.Must) == 0 && len(b.Filter) == 0 {
		return 1
	}
	return 0
}

type Term struct {
	Field string
	Value any
	Boost float64
}

func (t Term) Source() map[string]any {
	inner := map[string]any{"value": t.Value}
	if t.Boost > 0 {
		inner["boost"] = t.Boost
	}
	return map[string]any{"term": map[string]any{t.Field: inner}}
}

type Terms struct {
	Field  string
	Values []string
}

func (t Terms) Source() map[string]any {
	return map[string]any{"terms": map[string]any{t.Field: t.Values}}
}

type Match struct {
	Field     string
	Query     string
	Operator  Operator
	Boost     float64
	Fuzziness string
}

func (m Match) Source() map[string]any {
	inner := map[string]any{"query": m.Query}
	if m.Operator != "" {
		inner["operator"] = string(m.Operator)
	}
	if m.Boost > 0 {
		inner["boost"] = m.Boost
	}
	if m.Fuzziness != "" {
		inner["fuzziness"] = m.Fuzziness
	}
	return map[string]any{"match": map[string]any{m.Field: inner}}
}

type MatchPhrase struct {
	Field string
	Query string
	Boost float64
}

func (m MatchPhrase) Source() map[string]any {
	inner := map[string]any{"query": m.Query}
	if m.Boost > 0 {
		inner["boost"] = m.Boost
	}
	return map[string]any{"match_phrase": map[string]any{m.Field: inner}}
}

type FieldWeight struct {
	Field  string
	Weight float64
}

func (f FieldWeight) String() string {
	if f.Weight <= 0 || f.Weight == 1 {
		return f.Field
	}
	return f.Field + "^" + strconv.FormatFloat(f.Weight, 'f', -1, 64)
}

type MultiMatch struct {
	Query     string
	Fields    []FieldWeight
	Operator  Operator
	Fuzziness string
}

func (m MultiMatch) Source() map[string]any {
	fields := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		fields[i] = f.String()
	}
	inner := map[string]any{
		"query":  m.Query,
		"fields": fields,
		"type":   "best_fields",
	}
	if m.Operator != "" {
		inner["operator"] = string(m.Operator)
	}
	if m.Fuzziness != "" {
		inner["fuzziness"] = m.Fuzziness
	}
	return map[string]any{"multi_match": inner}
}

// Range bounds are inclusive; a nil bound is open.
type Range struct {
	Field string
	GTE   *float64
	LTE   *float64
}

func (r Range) Source() map[string]any {
	inner := map[string]any{}
	if r.GTE != nil {
		inner["gte"] = *r.GTE
	}
	if r.LTE != nil {
		inner["lte"] = *r.LTE
	}
	return map[string]any{"range": map[string]any{r.Field: inner}}
}

type MatchAll struct{}

func (MatchAll) Source() map[string]any {
	return map[string]any{"match_all": map[string]any{}}
}

// WithFilter ANDs filters into q without changing how q scores. A bool
// query receives them as extra filter clauses, which leaves a should-only
// bool with purely optional should clauses, as in Elasticsearch.
func WithFilter(q Query, filters ...Query) Query {
	if len(filters) == 0 {
		return q
	}
	switch b := q.(type) {
	case nil:
		return Bool{Filter: filters}
	case MatchAll:
		return Bool{Filter: filters}
	case Bool:
		out := b
		out.Filter = append(append([]Query{}, b.Filter...), filters...)
		return out
	default:
		return Bool{Must: []Query{q}, Filter: filters}
	}
}

// SearchBody builds the request body of a paged search.
func SearchBody(q Query, from, size int) map[string]any {
	return map[string]any{
		"query": q.Source(),
		"from":  from,
		"size":  size,
	}
}
