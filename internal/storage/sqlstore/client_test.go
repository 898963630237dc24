package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retail-agent/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(DriverSQLite, filepath.Join(t.TempDir(), "retail.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.InitSchema(context.Background()))
	return c
}

func TestSaleClassificationRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	got, err := c.GetSaleClassification(ctx, "shop", "t-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Unix(1700000000, 0)
	require.NoError(t, c.SetSaleClassification(ctx, &models.SaleClassification{CustomerID: "shop", ThreadID: "t-1", IsSale: true, UpdatedAt: now}))

	got, err = c.GetSaleClassification(ctx, "shop", "t-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsSale)
	assert.Equal(t, now, got.UpdatedAt)

	require.NoError(t, c.SetSaleClassification(ctx, &models.SaleClassification{CustomerID: "shop", ThreadID: "t-1", IsSale: false, UpdatedAt: now.Add(time.Minute)}))
	got, err = c.GetSaleClassification(ctx, "shop", "t-1")
	require.NoError(t, err)
	assert.False(t, got.IsSale)

	other, err := c.GetSaleClassification(ctx, "other", "t-1")
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, c.DeleteSaleClassification(ctx, "shop", "t-1"))
	got, err = c.GetSaleClassification(ctx, "shop", "t-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestKnowledgeSources(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	for _, src := range []string{"warranty", "shipping"} {
		require.NoError(t, c.UpsertKnowledgeSource(ctx, &models.KnowledgeSource{
			ID: "shop-" + src, TenantID: "shop", Source: src, Title: src, ChunkCount: 2, CreatedAt: now, UpdatedAt: now,
		}))
	}
	require.NoError(t, c.UpsertKnowledgeSource(ctx, &models.KnowledgeSource{
		ID: "shop-warranty-2", TenantID: "shop", Source: "warranty", Title: "Warranty v2", ChunkCount: 5, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, c.UpsertKnowledgeSource(ctx, &models.KnowledgeSource{
		ID: "other-warranty", TenantID: "other", Source: "warranty", CreatedAt: now, UpdatedAt: now,
	}))

	sources, err := c.ListKnowledgeSources(ctx, "shop")
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "shipping", sources[0].Source)
	assert.Equal(t, "Warranty v2", sources[1].Title)
	assert.Equal(t, 5, sources[1].ChunkCount)

	n, err := c.DeleteKnowledgeSources(ctx, "shop", "shipping")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.DeleteKnowledgeSources(ctx, "shop", "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := c.ListKnowledgeSources(ctx, "other")
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestRebind(t *testing.T) {
	pg := &Client{driver: DriverPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &Client{driver: DriverSQLite}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))

	_, err := NewClient("mysql", "")
	assert.Error(t, err)
}
