package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retail-agent/backend/internal/catalog"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "gen:product:shop-1", generationKey(catalog.KindProduct, "shop-1"))
	assert.Equal(t, "sale:shop-1:t-9", saleKey("shop-1", "t-9"))
}

func TestUnreachableServerReturnsErrors(t *testing.T) {
	c := NewFromClient(goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	}))
	defer c.Close()
	ctx := context.Background()

	_, err := c.Generation(ctx, catalog.KindFaq, "shop")
	require.Error(t, err)

	_, found, err := c.GetSaleFlag(ctx, "shop", "t")
	require.Error(t, err)
	assert.False(t, found)
}
