package store

import (
	"context"

	"github.com/retail-agent/backend/internal/catalog"
	"github.com/retail-agent/backend/internal/catalog/dsl"
)

// Backend is an engine-level document store addressed by index, document id
// and routing key. Implementations report a missing document with an error
// wrapping catalog.ErrNotFound and infrastructure failures with
// *catalog.StoreUnavailableError. Writes are visible to reads once they return,
// unless the backend was configured otherwise.
type Backend interface {
	EnsureIndex(ctx context.Context, schema *catalog.Schema) error
	Index(ctx context.Context, index, id, routing string, doc catalog.Entry) (catalog.WriteResult, error)
	// Bulk reports per-item failures using each item's Index.
	Bulk(ctx context.Context, index, routing string, items []BulkItem) (catalog.BulkResult, error)
	Update(ctx context.Context, index, id, routing string, partial catalog.Entry) error
	Get(ctx context.Context, index, id, routing string) (catalog.Entry, error)
	Delete(ctx context.Context, index, id, routing string) error
	DeleteByQuery(ctx context.Context, index, routing string, q dsl.Query) (int, error)
	Search(ctx context.Context, index, routing string, q dsl.Query, from, size int) (SearchResult, error)
	Close() error
}

type BulkItem struct {
	Index int
	ID    string
	Doc   catalog.Entry
}

type SearchResult struct {
	Hits  []catalog.Hit
	Total int
}
