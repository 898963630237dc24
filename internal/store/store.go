package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/retail-agent/backend/internal/catalog"
	"github.com/retail-agent/backend/internal/catalog/dsl"
	"github.com/retail-agent/backend/internal/events"
	"github.com/retail-agent/backend/internal/metrics"
	"github.com/retail-agent/backend/pkg/logger"
	"github.com/retail-agent/backend/pkg/tenant"
)

// Invalidator is told about every committed write so tenant-scoped caches
// can drop stale search results.
type Invalidator interface {
	BumpGeneration(ctx context.Context, kind catalog.Kind, tenantID string) error
}

type Options struct {
	BulkBatchSize int
	Timeout       time.Duration
	Invalidator   Invalidator
	Publisher     events.Publisher
}

// Store is the tenant-scoped catalog document store. Every document lives in
// the shared index of its kind under tenant.CompositeKey, carries the
// sanitized tenant in catalog.TenantField and its exact key in
// catalog.TenantKeyField, and is routed by the sanitized tenant.
type Store struct {
	backend     Backend
	batchSize   int
	timeout     time.Duration
	invalidator Invalidator
	publisher   events.Publisher
}

func New(backend Backend, opts Options) *Store {
	if opts.BulkBatchSize <= 0 {
		opts.BulkBatchSize = 500
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NopPublisher{}
	}
	return &Store{
		backend:     backend,
		batchSize:   opts.BulkBatchSize,
		timeout:     opts.Timeout,
		invalidator: opts.Invalidator,
		publisher:   opts.Publisher,
	}
}

func (s *Store) EnsureIndices(ctx context.Context) error {
	for _, kind := range catalog.Kinds() {
		if err := s.backend.EnsureIndex(ctx, catalog.SchemaFor(kind)); err != nil {
			return fmt.Errorf("failed to ensure %s index: %w", kind, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) UpsertOne(ctx context.Context, kind catalog.Kind, tenantID, naturalID string, body catalog.Entry) (catalog.WriteResult, error) {
	schema, sc, err := resolve(kind, tenantID)
	if err != nil {
		return 0, err
	}
	naturalID = strings.TrimSpace(naturalID)
	if naturalID == "" {
		return 0, catalog.NewValidationError(schema.IDField, "natural id is required")
	}

	doc := body.Clone()
	sc.stamp(doc)
	doc[schema.IDField] = naturalID

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var result catalog.WriteResult
	err = s.observe("upsert_one", kind, func() error {
		var err error
		result, err = s.backend.Index(ctx, schema.Index, sc.docID(naturalID), sc.routing, doc)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert %s %q: %w", kind, naturalID, err)
	}

	s.afterWrite(ctx, kind, sc, "upsert", 1)
	return result, nil
}

// UpsertBulk writes entries best-effort. Entries without a value in
// naturalIDField are reported as failed items and never written. Nothing is
// deleted. A store outage aborts the remaining batches and is returned
// together with the partial result.
func (s *Store) UpsertBulk(ctx context.Context, kind catalog.Kind, tenantID string, entries []catalog.Entry, naturalIDField string) (catalog.BulkResult, error) {
	result := catalog.NewBulkResult()

	schema, sc, err := resolve(kind, tenantID)
	if err != nil {
		return result, err
	}
	if naturalIDField == "" {
		naturalIDField = schema.IDField
	}

	items := make([]BulkItem, 0, len(entries))
	for i, entry := range entries {
		naturalID := strings.TrimSpace(entry.String(naturalIDField))
		if naturalID == "" {
			result.Fail(i, "", "missing natural id field "+naturalIDField)
			continue
		}

		doc := entry.Clone()
		sc.stamp(doc)
		doc[schema.IDField] = naturalID
		items = append(items, BulkItem{
			Index: i,
			ID:    sc.docID(naturalID),
			Doc:   doc,
		})
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for start := 0; start < len(items); start += s.batchSize {
		end := start + s.batchSize
		if end > len(items) {
			end = len(items)
		}

		var batch catalog.BulkResult
		err := s.observe("upsert_bulk", kind, func() error {
			var err error
			batch, err = s.backend.Bulk(ctx, schema.Index, sc.routing, items[start:end])
			return err
		})
		result.Merge(batch, 0)
		if err != nil {
			sortFailed(&result)
			if result.SuccessCount > 0 {
				s.afterWrite(ctx, kind, sc, "bulk_upsert", result.SuccessCount)
			}
			return result, fmt.Errorf("failed to bulk upsert %s batch at item %d: %w", kind, start, err)
		}
	}

	sortFailed(&result)

	logger.Info("Bulk upsert completed",
		zap.String("kind", kind.String()),
		zap.String("customer_id", sc.routing),
		zap.Int("success", result.SuccessCount),
		zap.Int("failed", result.FailedCount()),
	)

	if result.SuccessCount > 0 {
		s.afterWrite(ctx, kind, sc, "bulk_upsert", result.SuccessCount)
	}
	return result, nil
}

// Update merges partial into an existing entry. The tenant and natural id
// fields cannot be changed this way.
func (s *Store) Update(ctx context.Context, kind catalog.Kind, tenantID, naturalID string, partial catalog.Entry) error {
	schema, sc, err := resolve(kind, tenantID)
	if err != nil {
		return err
	}
	naturalID = strings.TrimSpace(naturalID)
	if naturalID == "" {
		return catalog.NewValidationError(schema.IDField, "natural id is required")
	}

	doc := partial.Clone()
	delete(doc, catalog.TenantField)
	delete(doc, catalog.TenantKeyField)
	delete(doc, schema.IDField)
	if len(doc) == 0 {
		return catalog.NewValidationError("body", "no updatable fields")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.observe("update", kind, func() error {
		return s.backend.Update(ctx, schema.Index, sc.docID(naturalID), sc.routing, doc)
	})
	if err != nil {
		return s.translate(err, kind, naturalID, "update")
	}

	s.afterWrite(ctx, kind, sc, "update", 1)
	return nil
}

func (s *Store) Get(ctx context.Context, kind catalog.Kind, tenantID, naturalID string) (catalog.Entry, error) {
	schema, sc, err := resolve(kind, tenantID)
	if err != nil {
		return nil, err
	}
	naturalID = strings.TrimSpace(naturalID)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var entry catalog.Entry
	err = s.observe("get", kind, func() error {
		var err error
		entry, err = s.backend.Get(ctx, schema.Index, sc.docID(naturalID), sc.routing)
		return err
	})
	if err != nil {
		return nil, s.translate(err, kind, naturalID, "get")
	}
	// A composite key can only be reached through its own tenant, but the
	// stored tags are the authority.
	if entry.String(catalog.TenantField) != sc.routing || entry.String(catalog.TenantKeyField) != sc.key {
		return nil, &catalog.NotFoundError{Kind: kind, ID: naturalID}
	}
	return entry, nil
}

func (s *Store) DeleteOne(ctx context.Context, kind catalog.Kind, tenantID, naturalID string) error {
	schema, sc, err := resolve(kind, tenantID)
	if err != nil {
		return err
	}
	naturalID = strings.TrimSpace(naturalID)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.observe("delete_one", kind, func() error {
		return s.backend.Delete(ctx, schema.Index, sc.docID(naturalID), sc.routing)
	})
	if err != nil {
		return s.translate(err, kind, naturalID, "delete")
	}

	s.afterWrite(ctx, kind, sc, "delete", 1)
	return nil
}

// DeleteByIDs removes the tenant's entries whose natural id field holds one
// of naturalIDs and returns how many were deleted.
func (s *Store) DeleteByIDs(ctx context.Context, kind catalog.Kind, tenantID string, naturalIDs []string, naturalIDField string) (int, error) {
	schema, sc, err := resolve(kind, tenantID)
	if err != nil {
		return 0, err
	}
	if len(naturalIDs) == 0 {
		return 0, nil
	}
	if naturalIDField == "" {
		naturalIDField = schema.IDField
	}
	if f, ok := schema.Field(naturalIDField); ok && f.Type == catalog.FieldText {
		naturalIDField += dsl.KeywordSuffix
	}

	filters := append(sc.filters(), dsl.Terms{Field: naturalIDField, Values: naturalIDs})
	return s.deleteByQuery(ctx, kind, schema, sc, dsl.Bool{Filter: filters}, "delete_by_ids")
}

func (s *Store) DeleteAllForTenant(ctx context.Context, kind catalog.Kind, tenantID string) (int, error) {
	schema, sc, err := resolve(kind, tenantID)
	if err != nil {
		return 0, err
	}

	return s.deleteByQuery(ctx, kind, schema, sc, dsl.Bool{Filter: sc.filters()}, "delete_all")
}

// ReplaceTenant deletes every entry of the tenant for kind and then bulk
// loads entries. The two steps are not atomic: if the load fails after the
// delete succeeded the tenant is left with no entries of this kind and the
// caller must retry the whole replace.
func (s *Store) ReplaceTenant(ctx context.Context, kind catalog.Kind, tenantID string, entries []catalog.Entry, naturalIDField string) (catalog.BulkResult, error) {
	deleted, err := s.DeleteAllForTenant(ctx, kind, tenantID)
	if err != nil {
		return catalog.NewBulkResult(), fmt.Errorf("failed to clear tenant before replace: %w", err)
	}

	result, err := s.UpsertBulk(ctx, kind, tenantID, entries, naturalIDField)
	if err != nil {
		logger.Error("Replace left tenant partially loaded",
			zap.String("kind", kind.String()),
			zap.String("customer_id", tenant.Sanitize(tenantID)),
			zap.Int("deleted", deleted),
			zap.Int("loaded", result.SuccessCount),
			zap.Error(err),
		)
		return result, fmt.Errorf("replace of %s cleared %d entries but loaded only %d, retry the replace: %w",
			kind, deleted, result.SuccessCount, err)
	}

	logger.Info("Tenant catalog replaced",
		zap.String("kind", kind.String()),
		zap.String("customer_id", tenant.Sanitize(tenantID)),
		zap.Int("deleted", deleted),
		zap.Int("loaded", result.SuccessCount),
	)
	return result, nil
}

// List pages through the tenant's entries in storage order.
func (s *Store) List(ctx context.Context, kind catalog.Kind, tenantID string, from, size int) ([]catalog.Hit, int, error) {
	res, err := s.Search(ctx, kind, tenantID, dsl.MatchAll{}, from, size)
	if err != nil {
		return nil, 0, err
	}
	return res.Hits, res.Total, nil
}

// Search runs q restricted to the tenant. The tenant filter is always added
// here, so callers cannot omit it.
func (s *Store) Search(ctx context.Context, kind catalog.Kind, tenantID string, q dsl.Query, from, size int) (SearchResult, error) {
	schema, sc, err := resolve(kind, tenantID)
	if err != nil {
		return SearchResult{}, err
	}
	if from < 0 || size < 0 {
		return SearchResult{}, catalog.NewValidationError("offset", "must not be negative")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var res SearchResult
	err = s.observe("search", kind, func() error {
		var err error
		res, err = s.backend.Search(ctx, schema.Index, sc.routing, dsl.WithFilter(q, sc.filters()...), from, size)
		return err
	})
	if err != nil {
		return SearchResult{}, fmt.Errorf("failed to search %s: %w", kind, err)
	}
	return res, nil
}

func (s *Store) deleteByQuery(ctx context.Context, kind catalog.Kind, schema *catalog.Schema, sc scope, q dsl.Query, op string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var deleted int
	err := s.observe(op, kind, func() error {
		var err error
		deleted, err = s.backend.DeleteByQuery(ctx, schema.Index, sc.routing, q)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to %s for %s: %w", strings.ReplaceAll(op, "_", " "), kind, err)
	}

	if deleted > 0 {
		s.afterWrite(ctx, kind, sc, op, deleted)
	}
	return deleted, nil
}

// afterWrite bumps the cache generation under the exact tenant key, the same
// key search results are cached under.
func (s *Store) afterWrite(ctx context.Context, kind catalog.Kind, sc scope, operation string, count int) {
	if s.invalidator != nil {
		if err := s.invalidator.BumpGeneration(ctx, kind, sc.key); err != nil {
			logger.Warn("Failed to invalidate search cache",
				zap.String("kind", kind.String()),
				zap.String("customer_id", sc.routing),
				zap.Error(err),
			)
		}
	}

	event := events.NewCatalogChanged(kind.String(), sc.routing, operation, count)
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Warn("Failed to publish catalog event",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
	}
}

func (s *Store) translate(err error, kind catalog.Kind, naturalID, op string) error {
	if errors.Is(err, catalog.ErrNotFound) {
		return &catalog.NotFoundError{Kind: kind, ID: naturalID}
	}
	return fmt.Errorf("failed to %s %s %q: %w", op, kind, naturalID, err)
}

func (s *Store) observe(op string, kind catalog.Kind, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.StoreOperationDuration.WithLabelValues(op, kind.String()).Observe(time.Since(start).Seconds())
	if err != nil && !catalog.IsClientError(err) {
		metrics.StoreErrors.WithLabelValues(op, kind.String()).Inc()
	}
	return err
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// scope is one tenant as the store addresses it. routing may be shared by
// tenants whose ids differ only in sanitized characters; key never is.
type scope struct {
	tenantID string
	routing  string
	key      string
}

func resolve(kind catalog.Kind, tenantID string) (*catalog.Schema, scope, error) {
	schema := catalog.SchemaFor(kind)
	if schema == nil {
		return nil, scope{}, catalog.NewValidationError("kind", "unknown catalog kind %d", int(kind))
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, scope{}, catalog.NewValidationError("customer_id", "is required")
	}
	return schema, scope{
		tenantID: tenantID,
		routing:  tenant.Sanitize(tenantID),
		key:      tenant.Key(tenantID),
	}, nil
}

func (sc scope) stamp(doc catalog.Entry) {
	doc[catalog.TenantField] = sc.routing
	doc[catalog.TenantKeyField] = sc.key
}

func (sc scope) docID(naturalID string) string {
	return tenant.CompositeKey(sc.tenantID, naturalID)
}

func (sc scope) filters() []dsl.Query {
	return []dsl.Query{
		dsl.Term{Field: catalog.TenantField, Value: sc.routing},
		dsl.Term{Field: catalog.TenantKeyField, Value: sc.key},
	}
}

func sortFailed(r *catalog.BulkResult) {
	sort.SliceStable(r.Failed, func(i, j int) bool { return r.Failed[i].Index < r.Failed[j].Index })
}
