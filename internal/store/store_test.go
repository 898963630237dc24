package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retail-agent/backend/internal/catalog"
	"github.com/retail-agent/backend/internal/catalog/dsl"
	"github.com/retail-agent/backend/internal/events"
	"github.com/retail-agent/backend/internal/store"
	"github.com/retail-agent/backend/internal/store/memory"
)

type recordingInvalidator struct {
	mu    sync.Mutex
	bumps []string
}

func (r *recordingInvalidator) BumpGeneration(_ context.Context, kind catalog.Kind, tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bumps = append(r.bumps, kind.String()+"/"+tenantID)
	return nil
}

type recordingPublisher struct {
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func newStore(t *testing.T) (*store.Store, *memory.Backend) {
	t.Helper()
	backend := memory.New()
	s := store.New(backend, store.Options{BulkBatchSize: 2})
	require.NoError(t, s.EnsureIndices(context.Background()))
	return s, backend
}

func product(code, model string) catalog.Entry {
	return catalog.Entry{"product_code": code, "model": model, "price": 1000.0}
}

func TestTenantIsolationWithSameNaturalID(t *testing.T) {
	s, backend := newStore(t)
	ctx := context.Background()

	_, err := s.UpsertOne(ctx, catalog.KindProduct, "shop_a", "IP12", product("IP12", "iPhone 12"))
	require.NoError(t, err)
	_, err = s.UpsertOne(ctx, catalog.KindProduct, "shop_b", "IP12", product("IP12", "iPhone 12"))
	require.NoError(t, err)
	assert.Equal(t, 2, backend.Count("products"))

	res, err := s.Search(ctx, catalog.KindProduct, "shop_a", dsl.Match{Field: "model", Query: "iphone"}, 0, 10)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "shop~5Fa_IP12", res.Hits[0].ID)
	assert.Equal(t, "shop-a", res.Hits[0].Source.String(catalog.TenantField))
	assert.Equal(t, "shop~5Fa", res.Hits[0].Source.String(catalog.TenantKeyField))

	n, err := s.DeleteAllForTenant(ctx, catalog.KindProduct, "shop_b")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, catalog.KindProduct, "shop_a", "IP12")
	assert.NoError(t, err)
}

func TestTenantsSharingSanitizedIDStayIsolated(t *testing.T) {
	s, backend := newStore(t)
	ctx := context.Background()

	_, err := s.UpsertOne(ctx, catalog.KindProduct, "shop_a", "IP12", product("IP12", "Shop underscore A"))
	require.NoError(t, err)
	r, err := s.UpsertOne(ctx, catalog.KindProduct, "shop-a", "IP12", product("IP12", "Shop dash A"))
	require.NoError(t, err)
	assert.Equal(t, catalog.Created, r)
	_, err = s.UpsertOne(ctx, catalog.KindProduct, "shop a", "IP12", product("IP12", "Shop space A"))
	require.NoError(t, err)
	_, err = s.UpsertOne(ctx, catalog.KindProduct, "shop/a", "IP12", product("IP12", "Shop slash A"))
	require.NoError(t, err)
	assert.Equal(t, 4, backend.Count("products"))

	for raw, model := range map[string]string{
		"shop_a": "Shop underscore A",
		"shop-a": "Shop dash A",
		"shop a": "Shop space A",
		"shop/a": "Shop slash A",
	} {
		hits, total, err := s.List(ctx, catalog.KindProduct, raw, 0, 10)
		require.NoError(t, err)
		require.Equal(t, 1, total, raw)
		assert.Equal(t, model, hits[0].Source.String("model"), raw)

		got, err := s.Get(ctx, catalog.KindProduct, raw, "IP12")
		require.NoError(t, err)
		assert.Equal(t, model, got.String("model"), raw)
	}

	_, total, err := s.List(ctx, catalog.KindProduct, "shop#a", 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)

	n, err := s.DeleteAllForTenant(ctx, catalog.KindProduct, "shop-a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, total, err = s.List(ctx, catalog.KindProduct, "shop_a", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	n, err = s.DeleteByIDs(ctx, catalog.KindProduct, "shop a", []string{"IP12"}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, backend.Count("products"))
}

func TestNaturalIDsDifferingInPunctuationDoNotCollide(t *testing.T) {
	s, backend := newStore(t)
	ctx := context.Background()

	res, err := s.UpsertBulk(ctx, catalog.KindProduct, "shop", []catalog.Entry{
		product("SKU 01", "with space"),
		product("SKU-01", "with dash"),
		product("SKU_01", "with underscore"),
	}, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.SuccessCount)
	assert.Equal(t, 3, backend.Count("products"))

	got, err := s.Get(ctx, catalog.KindProduct, "shop", "SKU 01")
	require.NoError(t, err)
	assert.Equal(t, "with space", got.String("model"))
}

func TestUpsertOneOverwrites(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	r, err := s.UpsertOne(ctx, catalog.KindProduct, "shop", "A1", product("A1", "Old name"))
	require.NoError(t, err)
	assert.Equal(t, catalog.Created, r)

	r, err = s.UpsertOne(ctx, catalog.KindProduct, "shop", "A1", product("A1", "New name"))
	require.NoError(t, err)
	assert.Equal(t, catalog.Updated, r)

	hits, total, err := s.List(ctx, catalog.KindProduct, "shop", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "New name", hits[0].Source.String("model"))
}

func TestUpsertBulkAccounting(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	entries := []catalog.Entry{
		product("A1", "one"),
		{"model": "no code"},
		product("A2", "two"),
		{"product_code": "  ", "model": "blank code"},
		product("A3", "three"),
	}

	res, err := s.UpsertBulk(ctx, catalog.KindProduct, "shop", entries, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.SuccessCount)
	require.Equal(t, 2, res.FailedCount())
	assert.Equal(t, 1, res.Failed[0].Index)
	assert.Equal(t, 3, res.Failed[1].Index)
}

func TestUpsertBulkAlwaysReturnsResult(t *testing.T) {
	s, _ := newStore(t)

	res, err := s.UpsertBulk(context.Background(), catalog.KindFaq, "shop", nil, "")
	require.NoError(t, err)
	assert.Zero(t, res.SuccessCount)
	assert.NotNil(t, res.Failed)
}

func TestReplaceTenantIsIdempotent(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	entries := []catalog.Entry{product("A1", "one"), product("A2", "two"), product("A3", "three")}
	_, err := s.UpsertOne(ctx, catalog.KindProduct, "shop", "OLD", product("OLD", "stale"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := s.ReplaceTenant(ctx, catalog.KindProduct, "shop", entries, "product_code")
		require.NoError(t, err)
		assert.Equal(t, 3, res.SuccessCount)
	}

	_, total, err := s.List(ctx, catalog.KindProduct, "shop", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	_, err = s.Get(ctx, catalog.KindProduct, "shop", "OLD")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestDeleteByIDs(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.UpsertBulk(ctx, catalog.KindProduct, "shop", []catalog.Entry{
		product("A1", "one"), product("A2", "two"), product("A3", "three"),
	}, "")
	require.NoError(t, err)
	_, err = s.UpsertOne(ctx, catalog.KindProduct, "other", "A1", product("A1", "one"))
	require.NoError(t, err)

	n, err := s.DeleteByIDs(ctx, catalog.KindProduct, "shop", []string{"A1", "A3", "ZZ"}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.Get(ctx, catalog.KindProduct, "other", "A1")
	assert.NoError(t, err)
}

func TestNotFoundIsDistinct(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	err := s.DeleteOne(ctx, catalog.KindService, "shop", "missing")
	var nf *catalog.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "missing", nf.ID)

	err = s.Update(ctx, catalog.KindService, "shop", "missing", catalog.Entry{"price": 1.0})
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestUpdateKeepsIdentity(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.UpsertOne(ctx, catalog.KindProduct, "shop", "A1", product("A1", "one"))
	require.NoError(t, err)

	err = s.Update(ctx, catalog.KindProduct, "shop", "A1", catalog.Entry{"price": 2000.0, "tenant_id": "evil"})
	require.NoError(t, err)

	got, err := s.Get(ctx, catalog.KindProduct, "shop", "A1")
	require.NoError(t, err)
	assert.Equal(t, "shop", got.String("tenant_id"))
	assert.Equal(t, "2000", got.String("price"))

	err = s.Update(ctx, catalog.KindProduct, "shop", "A1", catalog.Entry{"product_code": "B"})
	assert.ErrorIs(t, err, catalog.ErrValidation)
}

func TestValidation(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.UpsertOne(ctx, catalog.KindProduct, "  ", "A1", product("A1", "x"))
	assert.ErrorIs(t, err, catalog.ErrValidation)

	_, err = s.UpsertOne(ctx, catalog.KindProduct, "shop", "", product("", "x"))
	assert.ErrorIs(t, err, catalog.ErrValidation)

	_, err = s.Search(ctx, catalog.Kind(42), "shop", dsl.MatchAll{}, 0, 10)
	assert.ErrorIs(t, err, catalog.ErrValidation)
}

func TestWritesInvalidateAndPublish(t *testing.T) {
	inv := &recordingInvalidator{}
	pub := &recordingPublisher{}
	s := store.New(memory.New(), store.Options{Invalidator: inv, Publisher: pub})
	ctx := context.Background()

	_, err := s.UpsertOne(ctx, catalog.KindAccessory, "Shop 1", "C1", catalog.Entry{"accessory_name": "cable"})
	require.NoError(t, err)
	require.NoError(t, s.DeleteOne(ctx, catalog.KindAccessory, "Shop 1", "C1"))

	assert.Equal(t, []string{"accessory/Shop~201", "accessory/Shop~201"}, inv.bumps)
	require.Len(t, pub.events, 2)
	assert.Equal(t, "upsert", pub.events[0].Operation)
	assert.Equal(t, "delete", pub.events[1].Operation)
	assert.Equal(t, "Shop 1", pub.events[1].TenantID)
}
