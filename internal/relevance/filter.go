// Package relevance asks a language model to drop search results that do
// not contain every key term of the user's literal query.
package relevance

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/retail-agent/backend/internal/metrics"
	"github.com/retail-agent/backend/pkg/logger"
)

const (
	// Delimiter separates surviving entries in the model's answer.
	Delimiter = "|||"
	// NoMatch is the whole answer when no entry qualifies.
	NoMatch = "NONE"
)

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Filter struct {
	model   Generator
	timeout time.Duration
}

// New returns a filter over model. A nil model makes Apply a pass-through.
func New(model Generator, timeout time.Duration) *Filter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Filter{model: model, timeout: timeout}
}

// Apply keeps the entries the model judged to contain every key term of
// query, in their input order. Any failure returns entries unchanged.
func (f *Filter) Apply(ctx context.Context, query string, entries []string, history []string) []string {
	if len(entries) == 0 {
		return []string{}
	}
	if f == nil || f.model == nil || strings.TrimSpace(query) == "" {
		metrics.RelevanceFilterTotal.WithLabelValues("skipped").Inc()
		return entries
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	answer, err := f.model.Generate(ctx, BuildPrompt(query, entries, history))
	if err != nil {
		logger.Warn("Relevance filter failed, keeping all results",
			zap.Int("entries", len(entries)),
			zap.Error(err),
		)
		metrics.RelevanceFilterTotal.WithLabelValues("fail_open").Inc()
		return entries
	}

	kept, ok := Parse(answer, entries)
	if !ok {
		logger.Warn("Relevance filter answer unusable, keeping all results",
			zap.Int("answer_length", len(answer)),
		)
		metrics.RelevanceFilterTotal.WithLabelValues("fail_open").Inc()
		return entries
	}

	outcome := "filtered"
	switch {
	case len(kept) == 0:
		outcome = "none"
	case len(kept) == len(entries):
		outcome = "kept_all"
	}
	metrics.RelevanceFilterTotal.WithLabelValues(outcome).Inc()

	logger.Debug("Relevance filter applied",
		zap.Int("entries", len(entries)),
		zap.Int("kept", len(kept)),
	)
	return kept
}

func BuildPrompt(query string, entries []string, history []string) string {
	var b strings.Builder

	b.WriteString("You check search results of a retail shop against what the customer asked for.\n\n")

	if len(history) > 0 {
		b.WriteString("Recent conversation, for context only:\n")
		for _, turn := range history {
			b.WriteString("- ")
			b.WriteString(strings.TrimSpace(turn))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	b.WriteString("Customer query: ")
	b.WriteString(strings.TrimSpace(query))
	b.WriteString("\n\nCandidates:\n")
	for i, e := range entries {
		b.WriteString("[")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("]\n")
		b.WriteString(e)
		b.WriteString("\n\n")
	}

	b.WriteString(`Instructions:
1. Extract the key terms of the customer query: brand, model, and any distinguishing attribute such as version, size, capacity or color.
2. Keep only the candidates that contain ALL key terms. The conversation never makes a candidate acceptable that the query alone would reject.
3. Output each kept candidate exactly as written above, without its [number] marker, separated by ` + Delimiter + `.
4. Output nothing else: no explanation, no numbering, no formatting.
5. If no candidate qualifies, output exactly ` + NoMatch + `.`)

	return b.String()
}

var marker = regexp.MustCompile(`^\[\d+\]\s*`)

// Parse maps the model's answer back onto entries. ok is false when the
// answer is empty or names no known entry, which callers treat as a failure.
func Parse(answer string, entries []string) (kept []string, ok bool) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, false
	}
	if strings.EqualFold(strings.Trim(answer, "`\"' ."), NoMatch) {
		return []string{}, true
	}

	survivors := make(map[string]bool)
	for _, segment := range strings.Split(answer, Delimiter) {
		segment = marker.ReplaceAllString(strings.TrimSpace(segment), "")
		if segment == "" {
			continue
		}
		survivors[normalize(segment)] = true
	}

	kept = make([]string, 0, len(entries))
	for _, e := range entries {
		if survivors[normalize(e)] {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		return nil, false
	}
	return kept, true
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
