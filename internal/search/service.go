package search

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/retail-agent/backend/internal/catalog"
	"github.com/retail-agent/backend/pkg/logger"
)

// ErrorIndicator is the single item returned when the store cannot answer.
// The agent relays it instead of failing the conversation turn.
const ErrorIndicator = "Product search is temporarily unavailable. Please try again in a moment."

// WholesaleLookup resolves whether a conversation is a wholesale sale.
type WholesaleLookup interface {
	IsWholesale(ctx context.Context, tenantID, threadID string) (bool, error)
}

// RelevanceFilter drops formatted entries that do not satisfy every key
// term of the user's query. It must fail open.
type RelevanceFilter interface {
	Apply(ctx context.Context, query string, entries []string, history []string) []string
}

type Request struct {
	Kind     catalog.Kind `json:"kind"`
	TenantID string       `json:"customer_id"`
	Criteria Criteria     `json:"criteria"`
}

type Response struct {
	Items     []string `json:"items"`
	Count     int      `json:"count"`
	Total     int      `json:"total"`
	Fallback  bool     `json:"fallback"`
	Filtered  bool     `json:"filtered"`
	Wholesale bool     `json:"-"`
	Error     string   `json:"error,omitempty"`

	err error
}

// Err is the failure behind Error, if any.
func (r Response) Err() error {
	return r.err
}

type Service struct {
	engine       *Engine
	formatter    *Formatter
	lookup       WholesaleLookup
	relevance    RelevanceFilter
	historyTurns int
}

type ServiceOption func(*Service)

func WithWholesaleLookup(l WholesaleLookup) ServiceOption {
	return func(s *Service) { s.lookup = l }
}

func WithRelevanceFilter(f RelevanceFilter) ServiceOption {
	return func(s *Service) { s.relevance = f }
}

// WithHistoryTurns bounds how many trailing conversation turns reach the
// relevance filter.
func WithHistoryTurns(n int) ServiceOption {
	return func(s *Service) { s.historyTurns = n }
}

func NewService(engine *Engine, opts ...ServiceOption) *Service {
	s := &Service{
		engine:       engine,
		formatter:    NewFormatter(),
		historyTurns: 6,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search never fails. Bad criteria come back as an Error with no items and
// store outages as the ErrorIndicator item.
func (s *Service) Search(ctx context.Context, req Request) Response {
	schema := catalog.SchemaFor(req.Kind)
	if schema == nil {
		err := catalog.NewValidationError("kind", "unknown catalog kind %d", int(req.Kind))
		return Response{Items: []string{}, Error: err.Error(), err: err}
	}

	page, err := s.engine.Search(ctx, req.Kind, req.TenantID, req.Criteria)
	if err != nil {
		if errors.Is(err, catalog.ErrValidation) {
			return Response{Items: []string{}, Error: err.Error(), err: err}
		}
		logger.Error("Catalog search failed",
			zap.String("kind", req.Kind.String()),
			zap.String("tenant", req.TenantID),
			zap.Error(err),
		)
		return Response{Items: []string{ErrorIndicator}, Count: 1, Error: err.Error(), err: err}
	}

	wholesale := s.wholesale(ctx, req.TenantID, req.Criteria.ThreadID)

	entries := make([]catalog.Entry, len(page.Hits))
	for i, h := range page.Hits {
		entries[i] = h.Source
	}
	items := s.formatter.Format(schema, entries, wholesale)

	resp := Response{
		Total:     page.Total,
		Fallback:  page.Fallback,
		Wholesale: wholesale,
	}

	if s.relevance != nil && req.Criteria.OriginalQuery != "" && len(items) > 0 {
		kept := s.relevance.Apply(ctx, req.Criteria.OriginalQuery, items, s.history(req.Criteria.History))
		resp.Filtered = len(kept) != len(items)
		items = kept
	}

	if items == nil {
		items = []string{}
	}
	resp.Items = items
	resp.Count = len(items)
	return resp
}

// wholesale defaults to retail on any lookup problem so wholesale prices
// never leak to a retail conversation.
func (s *Service) wholesale(ctx context.Context, tenantID, threadID string) bool {
	if s.lookup == nil || threadID == "" {
		return false
	}
	ok, err := s.lookup.IsWholesale(ctx, tenantID, threadID)
	if err != nil {
		logger.Warn("Sale classification lookup failed, using retail prices",
			zap.String("tenant", tenantID),
			zap.String("thread", threadID),
			zap.Error(err),
		)
		return false
	}
	return ok
}

func (s *Service) history(turns []string) []string {
	if s.historyTurns > 0 && len(turns) > s.historyTurns {
		return turns[len(turns)-s.historyTurns:]
	}
	return turns
}
