package memory

import (
	"strings"
	"unicode"

	"github.com/retail-agent/backend/internal/catalog"
	"github.com/retail-agent/backend/internal/catalog/dsl"
)

func evaluate(q dsl.Query, doc catalog.Entry) (bool, float64) {
	switch t := q.(type) {
	case dsl.MatchAll:
		return true, 1
	case dsl.Bool:
		return evalBool(t, doc)
	case dsl.Term:
		if value(doc, t.Field) != "" && value(doc, t.Field) == literal(t.Value) {
			return true, boost(t.Boost)
		}
		return false, 0
	case dsl.Terms:
		v := value(doc, t.Field)
		for _, want := range t.Values {
			if v != "" && v == want {
				return true, 1
			}
		}
		return false, 0
	case dsl.Match:
		return evalMatch(t, doc)
	case dsl.MatchPhrase:
		if containsPhrase(analyze(value(doc, t.Field)), analyze(t.Query)) {
			return true, boost(t.Boost)
		}
		return false, 0
	case dsl.MultiMatch:
		return evalMultiMatch(t, doc)
	case dsl.Range:
		return evalRange(t, doc), 1
	default:
		return false, 0
	}
}

func evalBool(b dsl.Bool, doc catalog.Entry) (bool, float64) {
	score := 0.0
	for _, q := range b.Must {
		ok, s := evaluate(q, doc)
		if !ok {
			return false, 0
		}
		score += s
	}
	for _, q := range b.Filter {
		if ok, _ := evaluate(q, doc); !ok {
			return false, 0
		}
	}
	for _, q := range b.MustNot {
		if ok, _ := evaluate(q, doc); ok {
			return false, 0
		}
	}

	matched := 0
	for _, q := range b.Should {
		if ok, s := evaluate(q, doc); ok {
			matched++
			score += s
		}
	}
	if matched < b.RequiredShould() {
		return false, 0
	}
	return true, score
}

func evalMatch(m dsl.Match, doc catalog.Entry) (bool, float64) {
	query := analyze(m.Query)
	if len(query) == 0 {
		return false, 0
	}
	matched := countMatches(query, analyze(value(doc, m.Field)), m.Fuzziness != "")
	if !satisfies(m.Operator, matched, len(query)) {
		return false, 0
	}
	return true, boost(m.Boost) * float64(matched) / float64(len(query))
}

// evalMultiMatch follows best_fields: the best single field scores the document.
func evalMultiMatch(m dsl.MultiMatch, doc catalog.Entry) (bool, float64) {
	query := analyze(m.Query)
	if len(query) == 0 {
		return false, 0
	}

	found := false
	best := 0.0
	for _, f := range m.Fields {
		matched := countMatches(query, analyze(value(doc, f.Field)), m.Fuzziness != "")
		if !satisfies(m.Operator, matched, len(query)) {
			continue
		}
		found = true
		score := boost(f.Weight) * float64(matched) / float64(len(query))
		if score > best {
			best = score
		}
	}
	return found, best
}

func evalRange(r dsl.Range, doc catalog.Entry) bool {
	v, ok := doc.Float(strings.TrimSuffix(r.Field, dsl.KeywordSuffix))
	if !ok {
		return false
	}
	if r.GTE != nil && v < *r.GTE {
		return false
	}
	if r.LTE != nil && v > *r.LTE {
		return false
	}
	return true
}

func satisfies(op dsl.Operator, matched, total int) bool {
	if op == dsl.OperatorAnd {
		return matched == total
	}
	return matched > 0
}

func countMatches(query, field []string, fuzzy bool) int {
	if len(field) == 0 {
		return 0
	}
	matched := 0
	for _, q := range query {
		for _, f := range field {
			if q == f || (fuzzy && withinEdits(q, f, autoFuzziness(q))) {
				matched++
				break
			}
		}
	}
	return matched
}

func containsPhrase(field, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(field) {
		return false
	}
	for i := 0; i+len(phrase) <= len(field); i++ {
		match := true
		for j := range phrase {
			if field[i+j] != phrase[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// value reads a field for matching. "x.keyword" addresses the raw value of x.
func value(doc catalog.Entry, field string) string {
	return strings.TrimSpace(doc.String(strings.TrimSuffix(field, dsl.KeywordSuffix)))
}

func literal(v any) string {
	return strings.TrimSpace(catalog.Entry{"v": v}.String("v"))
}

func boost(b float64) float64 {
	if b <= 0 {
		return 1
	}
	return b
}

// analyze approximates the standard analyzer: lowercase tokens split on
// anything that is not a letter or digit.
func analyze(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// autoFuzziness mirrors fuzziness AUTO: exact for 1-2 runes, one edit for
// 3-5, two edits beyond.
func autoFuzziness(term string) int {
	n := len([]rune(term))
	switch {
	case n <= 2:
		return 0
	case n <= 5:
		return 1
	default:
		return 2
	}
}

func withinEdits(a, b string, maxEdits int) bool {
	if maxEdits == 0 {
		return a == b
	}
	ra, rb := []rune(a), []rune(b)
	if abs(len(ra)-len(rb)) > maxEdits {
		return false
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)] <= maxEdits
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
