// Package memory is an in-process document backend. It evaluates the same
// query AST the Elasticsearch backend serializes, with additive scoring, and
// is used for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/retail-agent/backend/internal/catalog"
	"github.com/retail-agent/backend/internal/catalog/dsl"
	"github.com/retail-agent/backend/internal/store"
)

type document struct {
	routing string
	source  catalog.Entry
	seq     int64
}

type index struct {
	fields map[string]catalog.FieldType
	docs   map[string]*document
}

// Backend keeps everything on one shard, so routing is recorded but does
// not restrict reads.
type Backend struct {
	mu      sync.RWMutex
	indices map[string]*index
	seq     int64
}

var _ store.Backend = (*Backend)(nil)

func New() *Backend {
	return &Backend{indices: make(map[string]*index)}
}

func (b *Backend) EnsureIndex(_ context.Context, schema *catalog.Schema) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.indexLocked(schema.Index)
	for _, f := range schema.Fields {
		idx.fields[f.Name] = f.Type
	}
	idx.fields[catalog.TenantField] = catalog.FieldKeyword
	idx.fields[catalog.TenantKeyField] = catalog.FieldKeyword
	return nil
}

func (b *Backend) Index(ctx context.Context, indexName, id, routing string, doc catalog.Entry) (catalog.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, &catalog.StoreUnavailableError{Op: "index", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.indexLocked(indexName)
	if err := idx.check(doc); err != nil {
		return 0, err
	}
	return b.putLocked(idx, id, routing, doc), nil
}

func (b *Backend) Bulk(ctx context.Context, indexName, routing string, items []store.BulkItem) (catalog.BulkResult, error) {
	result := catalog.NewBulkResult()
	if err := ctx.Err(); err != nil {
		return result, &catalog.StoreUnavailableError{Op: "bulk", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.indexLocked(indexName)
	for _, item := range items {
		if err := idx.check(item.Doc); err != nil {
			result.Fail(item.Index, item.ID, err.Error())
			continue
		}
		b.putLocked(idx, item.ID, routing, item.Doc)
		result.SuccessCount++
	}
	return result, nil
}

func (b *Backend) Update(ctx context.Context, indexName, id, _ string, partial catalog.Entry) error {
	if err := ctx.Err(); err != nil {
		return &catalog.StoreUnavailableError{Op: "update", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.indexLocked(indexName)
	doc, ok := idx.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, catalog.ErrNotFound)
	}
	if err := idx.check(partial); err != nil {
		return err
	}

	merged := doc.source.Clone()
	for k, v := range partial {
		merged[k] = v
	}
	doc.source = merged
	return nil
}

func (b *Backend) Get(ctx context.Context, indexName, id, _ string) (catalog.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, &catalog.StoreUnavailableError{Op: "get", Err: err}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	idx, ok := b.indices[indexName]
	if !ok {
		return nil, fmt.Errorf("index %s: %w", indexName, catalog.ErrNotFound)
	}
	doc, ok := idx.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, catalog.ErrNotFound)
	}
	return doc.source.Clone(), nil
}

func (b *Backend) Delete(ctx context.Context, indexName, id, _ string) error {
	if err := ctx.Err(); err != nil {
		return &catalog.StoreUnavailableError{Op: "delete", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	idx, ok := b.indices[indexName]
	if !ok {
		return fmt.Errorf("index %s: %w", indexName, catalog.ErrNotFound)
	}
	if _, ok := idx.docs[id]; !ok {
		return fmt.Errorf("document %s: %w", id, catalog.ErrNotFound)
	}
	delete(idx.docs, id)
	return nil
}

func (b *Backend) DeleteByQuery(ctx context.Context, indexName, _ string, q dsl.Query) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, &catalog.StoreUnavailableError{Op: "delete_by_query", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	idx, ok := b.indices[indexName]
	if !ok {
		return 0, nil
	}

	deleted := 0
	for id, doc := range idx.docs {
		if ok, _ := evaluate(q, doc.source); ok {
			delete(idx.docs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (b *Backend) Search(ctx context.Context, indexName, _ string, q dsl.Query, from, size int) (store.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return store.SearchResult{}, &catalog.StoreUnavailableError{Op: "search", Err: err}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	idx, ok := b.indices[indexName]
	if !ok {
		return store.SearchResult{Hits: []catalog.Hit{}}, nil
	}

	type scored struct {
		id    string
		doc   *document
		score float64
	}
	matches := make([]scored, 0)
	for id, doc := range idx.docs {
		if ok, score := evaluate(q, doc.source); ok {
			matches = append(matches, scored{id: id, doc: doc, score: score})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].doc.seq < matches[j].doc.seq
	})

	res := store.SearchResult{Hits: []catalog.Hit{}, Total: len(matches)}
	if from >= len(matches) {
		return res, nil
	}
	end := len(matches)
	if size >= 0 && from+size < end {
		end = from + size
	}
	for _, m := range matches[from:end] {
		res.Hits = append(res.Hits, catalog.Hit{ID: m.id, Score: m.score, Source: m.doc.source.Clone()})
	}
	return res, nil
}

func (b *Backend) Close() error {
	return nil
}

// Count returns the number of documents in an index across all tenants.
func (b *Backend) Count(indexName string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if idx, ok := b.indices[indexName]; ok {
		return len(idx.docs)
	}
	return 0
}

func (b *Backend) indexLocked(name string) *index {
	idx, ok := b.indices[name]
	if !ok {
		idx = &index{fields: map[string]catalog.FieldType{}, docs: map[string]*document{}}
		b.indices[name] = idx
	}
	return idx
}

func (b *Backend) putLocked(idx *index, id, routing string, doc catalog.Entry) catalog.WriteResult {
	if existing, ok := idx.docs[id]; ok {
		existing.source = doc.Clone()
		existing.routing = routing
		return catalog.Updated
	}
	b.seq++
	idx.docs[id] = &document{routing: routing, source: doc.Clone(), seq: b.seq}
	return catalog.Created
}

// check rejects values a numeric mapping could not parse, as Elasticsearch
// does with a mapper_parsing_exception.
func (idx *index) check(doc catalog.Entry) error {
	for field, typ := range idx.fields {
		if !typ.Numeric() || !doc.Has(field) {
			continue
		}
		if _, ok := doc.Float(field); !ok {
			return catalog.NewValidationError(field, "mapper_parsing_exception: failed to parse %q as a number", doc.String(field))
		}
	}
	return nil
}
