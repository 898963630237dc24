package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/retail-agent/backend/internal/catalog"
	"github.com/retail-agent/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

// NewFromClient wraps an existing connection.
func NewFromClient(client *redis.Client) *Client {
	return &Client{client: client}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func generationKey(kind catalog.Kind, tenantID string) string {
	return fmt.Sprintf("gen:%s:%s", kind, tenantID)
}

// Generation is the write counter of a tenant's kind. Search pages are
// cached under it, so a bump hides every older page.
func (c *Client) Generation(ctx context.Context, kind catalog.Kind, tenantID string) (int64, error) {
	val, err := c.client.Get(ctx, generationKey(kind, tenantID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get cache generation: %w", err)
	}
	return val, nil
}

func (c *Client) BumpGeneration(ctx context.Context, kind catalog.Kind, tenantID string) error {
	gen, err := c.client.Incr(ctx, generationKey(kind, tenantID)).Result()
	if err != nil {
		return fmt.Errorf("failed to bump cache generation: %w", err)
	}

	logger.Debug("Cache generation bumped",
		zap.String("kind", kind.String()),
		zap.String("tenant", tenantID),
		zap.Int64("generation", gen),
	)
	return nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, true, nil
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func saleKey(tenantID, threadID string) string {
	return fmt.Sprintf("sale:%s:%s", tenantID, threadID)
}

func (c *Client) SetSaleFlag(ctx context.Context, tenantID, threadID string, isSale bool, ttl time.Duration) error {
	err := c.client.Set(ctx, saleKey(tenantID, threadID), strconv.FormatBool(isSale), ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set sale flag: %w", err)
	}
	return nil
}

// GetSaleFlag reports found=false on a cache miss.
func (c *Client) GetSaleFlag(ctx context.Context, tenantID, threadID string) (isSale, found bool, err error) {
	val, err := c.client.Get(ctx, saleKey(tenantID, threadID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to get sale flag: %w", err)
	}

	isSale, err = strconv.ParseBool(val)
	if err != nil {
		return false, false, nil
	}
	return isSale, true, nil
}

func (c *Client) DeleteSaleFlag(ctx context.Context, tenantID, threadID string) error {
	if err := c.client.Del(ctx, saleKey(tenantID, threadID)).Err(); err != nil {
		return fmt.Errorf("failed to delete sale flag: %w", err)
	}
	return nil
}

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("embedding:%s", textHash), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	logger.Debug("Embedding cached", zap.String("text_hash", textHash))
	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("embedding:%s", textHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	err = json.Unmarshal(data, &embedding)
	if err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	logger.Debug("Embedding cache hit", zap.String("text_hash", textHash))
	return embedding, true, nil
}
