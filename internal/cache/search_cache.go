package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/retail-agent/backend/internal/catalog"
	"github.com/retail-agent/backend/pkg/logger"
	"github.com/retail-agent/backend/pkg/retry"
)

// ErrStale is returned by Generation while a tenant's last invalidation has
// not reached the shared cache.
var ErrStale = errors.New("search cache generation is stale")

// GenerationStore is the shared cache behind search result pages.
type GenerationStore interface {
	Generation(ctx context.Context, kind catalog.Kind, tenantID string) (int64, error)
	BumpGeneration(ctx context.Context, kind catalog.Kind, tenantID string) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// SearchCache retries generation bumps and remembers the ones that failed.
// Until a later bump for the same kind and tenant succeeds, Generation fails
// with ErrStale and readers skip the cache instead of serving pages written
// before the change.
type SearchCache struct {
	GenerationStore
	retryConfig retry.Config

	mu    sync.Mutex
	stale map[string]struct{}
}

func NewSearchCache(store GenerationStore, retryConfig retry.Config) *SearchCache {
	if retryConfig.Operation == "" {
		retryConfig.Operation = "bump_generation"
	}
	return &SearchCache{
		GenerationStore: store,
		retryConfig:     retryConfig,
		stale:           make(map[string]struct{}),
	}
}

// DefaultRetryConfig keeps bumps short because they run on the write path.
func DefaultRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:    3,
		InitialDelay:   50 * time.Millisecond,
		MaxDelay:       500 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}
}

func (c *SearchCache) BumpGeneration(ctx context.Context, kind catalog.Kind, tenantID string) error {
	err := retry.Do(ctx, c.retryConfig, func() error {
		return c.GenerationStore.BumpGeneration(ctx, kind, tenantID)
	})

	key := staleKey(kind, tenantID)
	c.mu.Lock()
	if err != nil {
		c.stale[key] = struct{}{}
	} else {
		delete(c.stale, key)
	}
	c.mu.Unlock()

	if err != nil {
		logger.Warn("Search cache disabled for tenant until the next invalidation",
			zap.String("kind", kind.String()),
			zap.String("tenant", tenantID),
			zap.Error(err),
		)
	}
	return err
}

// Generation retries a pending bump once before answering, so the cache
// comes back as soon as the shared store does.
func (c *SearchCache) Generation(ctx context.Context, kind catalog.Kind, tenantID string) (int64, error) {
	key := staleKey(kind, tenantID)

	c.mu.Lock()
	_, stale := c.stale[key]
	c.mu.Unlock()

	if stale {
		if err := c.GenerationStore.BumpGeneration(ctx, kind, tenantID); err != nil {
			return 0, fmt.Errorf("%w for %s: %v", ErrStale, key, err)
		}
		c.mu.Lock()
		delete(c.stale, key)
		c.mu.Unlock()
	}
	return c.GenerationStore.Generation(ctx, kind, tenantID)
}

func (c *SearchCache) Stale(kind catalog.Kind, tenantID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.stale[staleKey(kind, tenantID)]
	return ok
}

func staleKey(kind catalog.Kind, tenantID string) string {
	return kind.String() + ":" + tenantID
}
