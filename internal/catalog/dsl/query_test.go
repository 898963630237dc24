package dsl

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonOf(t *testing.T, q Query) string {
	t.Helper()
	data, err := json.Marshal(q.Source())
	require.NoError(t, err)
	return string(data)
}

func TestNameTierSource(t *testing.T) {
	q := Bool{Should: []Query{
		Term{Field: "model" + KeywordSuffix, Value: "iPhone 12", Boost: 3},
		MatchPhrase{Field: "model", Query: "iPhone 12", Boost: 2},
		Match{Field: "model", Query: "iPhone 12"},
	}}

	assert.JSONEq(t, `{"bool":{"should":[
		{"term":{"model.keyword":{"value":"iPhone 12","boost":3}}},
		{"match_phrase":{"model":{"query":"iPhone 12","boost":2}}},
		{"match":{"model":{"query":"iPhone 12"}}}
	]}}`, jsonOf(t, q))
}

func TestMultiMatchAndRangeSource(t *testing.T) {
	low := 100.0
	mm := MultiMatch{
		Query:     "thay pin",
		Fields:    []FieldWeight{{Field: "service_name", Weight: 3}, {Field: "product_name", Weight: 1}},
		Fuzziness: FuzzinessAuto,
		Operator:  OperatorOr,
	}
	assert.JSONEq(t, `{"multi_match":{"query":"thay pin","fields":["service_name^3","product_name"],
		"type":"best_fields","operator":"or","fuzziness":"AUTO"}}`, jsonOf(t, mm))

	assert.JSONEq(t, `{"range":{"price":{"gte":100}}}`, jsonOf(t, Range{Field: "price", GTE: &low}))
}

func TestWithFilter(t *testing.T) {
	tenant := Term{Field: "tenant_id", Value: "shop-1"}

	merged := WithFilter(Bool{Must: []Query{Match{Field: "color", Query: "red"}}}, tenant)
	b, ok := merged.(Bool)
	require.True(t, ok)
	assert.Len(t, b.Must, 1)
	assert.Equal(t, []Query{tenant}, b.Filter)

	wrapped := WithFilter(Match{Field: "color", Query: "red"}, tenant)
	assert.JSONEq(t, `{"bool":{"must":[{"match":{"color":{"query":"red"}}}],
		"filter":[{"term":{"tenant_id":{"value":"shop-1"}}}]}}`, jsonOf(t, wrapped))

	all := WithFilter(MatchAll{}, tenant)
	assert.Equal(t, Bool{Filter: []Query{tenant}}, all)
}

func TestWithFilterDoesNotAliasInput(t *testing.T) {
	base := Bool{Filter: make([]Query, 1, 4)}
	base.Filter[0] = Term{Field: "a", Value: "1"}

	first := WithFilter(base, Term{Field: "b", Value: "2"}).(Bool)
	second := WithFilter(base, Term{Field: "c", Value: "3"}).(Bool)

	assert.Equal(t, "b", first.Filter[1].(Term).Field)
	assert.Equal(t, "c", second.Filter[1].(Term).Field)
}

func TestRequiredShould(t *testing.T) {
	assert.Equal(t, 1, Bool{Should: []Query{MatchAll{}}}.RequiredShould())
	assert.Equal(t, 0, Bool{Should: []Query{MatchAll{}}, Filter: []Query{MatchAll{}}}.RequiredShould())
	assert.Equal(t, 2, Bool{Should: []Query{MatchAll{}}, MinimumShouldMatch: 2}.RequiredShould())
}
