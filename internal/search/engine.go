package search

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/retail-agent/backend/internal/catalog"
	"github.com/retail-agent/backend/internal/catalog/dsl"
	"github.com/retail-agent/backend/internal/metrics"
	"github.com/retail-agent/backend/internal/store"
	"github.com/retail-agent/backend/pkg/logger"
	"github.com/retail-agent/backend/pkg/tenant"
	"github.com/retail-agent/backend/pkg/utils"
)

const DefaultPageSize = 10

type Searcher interface {
	Search(ctx context.Context, kind catalog.Kind, tenantID string, q dsl.Query, from, size int) (store.SearchResult, error)
}

// HitCache stores encoded result pages. Generation changes whenever the
// tenant's entries of a kind change, which retires every older key.
type HitCache interface {
	Generation(ctx context.Context, kind catalog.Kind, tenantID string) (int64, error)
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Page struct {
	Hits     []catalog.Hit `json:"hits"`
	Total    int           `json:"total"`
	Fallback bool          `json:"fallback"`
}

type EngineConfig struct {
	PageSize        int
	FallbackEnabled bool
	Cache           HitCache
	CacheTTL        time.Duration
}

type Engine struct {
	store    Searcher
	pageSize int
	fallback bool
	cache    HitCache
	cacheTTL time.Duration
}

func NewEngine(s Searcher, cfg EngineConfig) *Engine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &Engine{
		store:    s,
		pageSize: cfg.PageSize,
		fallback: cfg.FallbackEnabled,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
	}
}

// Search runs the structured query of the kind and, when it matches nothing
// at all, the fuzzy fallback over the same tenant and price range.
func (e *Engine) Search(ctx context.Context, kind catalog.Kind, tenantID string, c Criteria) (Page, error) {
	start := time.Now()
	page, err := e.search(ctx, kind, tenantID, c)

	status := "ok"
	switch {
	case err != nil && catalog.IsClientError(err):
		status = "invalid"
	case err != nil:
		status = "error"
	case page.Fallback:
		status = "fallback"
	case len(page.Hits) == 0:
		status = "empty"
	}
	metrics.SearchDuration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
	metrics.SearchTotal.WithLabelValues(kind.String(), status).Inc()

	return page, err
}

func (e *Engine) search(ctx context.Context, kind catalog.Kind, tenantID string, c Criteria) (Page, error) {
	schema := catalog.SchemaFor(kind)
	if schema == nil {
		return Page{}, catalog.NewValidationError("kind", "unknown catalog kind %d", int(kind))
	}
	if err := c.Validate(schema); err != nil {
		return Page{}, err
	}

	key := e.cacheKey(ctx, kind, tenantID, c)
	if page, ok := e.cached(ctx, key); ok {
		return page, nil
	}

	res, err := e.store.Search(ctx, kind, tenantID, BuildQuery(schema, c), c.Offset, e.pageSize)
	if err != nil {
		return Page{}, err
	}
	page := Page{Hits: res.Hits, Total: res.Total}

	if res.Total == 0 && e.fallback {
		if fq, ok := FallbackQuery(schema, c); ok {
			res, err = e.store.Search(ctx, kind, tenantID, fq, c.Offset, e.pageSize)
			if err != nil {
				return Page{}, err
			}
			page = Page{Hits: res.Hits, Total: res.Total, Fallback: true}
			metrics.FallbackTotal.WithLabelValues(kind.String()).Inc()

			logger.Debug("Fuzzy fallback search",
				zap.String("kind", kind.String()),
				zap.String("tenant", tenantID),
				zap.Int("hits", len(page.Hits)),
			)
		}
	}

	if len(page.Hits) > e.pageSize {
		page.Hits = page.Hits[:e.pageSize]
	}

	e.remember(ctx, key, page)
	return page, nil
}

// cacheKey is empty when caching is off or the generation is unknown.
func (e *Engine) cacheKey(ctx context.Context, kind catalog.Kind, tenantID string, c Criteria) string {
	if e.cache == nil {
		return ""
	}

	tk := tenant.Key(tenantID)
	gen, err := e.cache.Generation(ctx, kind, tk)
	if err != nil {
		logger.Warn("Cache generation lookup failed", zap.Error(err))
		return ""
	}

	hash, err := utils.HashJSON(struct {
		Terms    map[string]string `json:"t"`
		MinPrice *float64          `json:"min"`
		MaxPrice *float64          `json:"max"`
		Offset   int               `json:"o"`
		Size     int               `json:"s"`
		Fallback bool              `json:"f"`
	}{c.Terms, c.MinPrice, c.MaxPrice, c.Offset, e.pageSize, e.fallback})
	if err != nil {
		return ""
	}
	return fmt.Sprintf("search:%s:%s:%d:%s", kind, tk, gen, hash)
}

func (e *Engine) cached(ctx context.Context, key string) (Page, bool) {
	if key == "" {
		return Page{}, false
	}

	data, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("Search cache read failed", zap.Error(err))
	}
	if err != nil || !ok {
		metrics.CacheMisses.WithLabelValues("search").Inc()
		return Page{}, false
	}

	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		metrics.CacheMisses.WithLabelValues("search").Inc()
		return Page{}, false
	}
	metrics.CacheHits.WithLabelValues("search").Inc()
	return page, true
}

func (e *Engine) remember(ctx context.Context, key string, page Page) {
	if key == "" {
		return
	}
	data, err := json.Marshal(page)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, data, e.cacheTTL); err != nil {
		logger.Warn("Search cache write failed", zap.Error(err))
	}
}
