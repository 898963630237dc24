package milvus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/retail-agent/backend/pkg/logger"
)

const (
	maxTextLength   = 4096
	maxSourceLength = 512
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

type DocumentChunk struct {
	ID         string
	TenantID   string
	Source     string
	Title      string
	ChunkIndex int
	Embedding  []float32
	Text       string
	Timestamp  time.Time
}

type SearchResult struct {
	ChunkID    string  `json:"chunk_id"`
	Source     string  `json:"source"`
	Title      string  `json:"title"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}

func NewClient(ctx context.Context, endpoint, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) Ping(ctx context.Context) error {
	_, err := m.client.HasCollection(ctx, m.collectionName)
	return err
}

func varchar(name string, maxLength int) *entity.Field {
	return &entity.Field{
		Name:     name,
		DataType: entity.FieldTypeVarChar,
		TypeParams: map[string]string{
			"max_length": fmt.Sprintf("%d", maxLength),
		},
	}
}

// EnsureCollection creates, indexes and loads the collection if it is missing.
func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return m.client.LoadCollection(ctx, m.collectionName, false)
	}

	chunkID := varchar("chunk_id", 64)
	chunkID.PrimaryKey = true

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Tenant knowledge document chunks",
		Fields: []*entity.Field{
			chunkID,
			varchar("tenant_id", 256),
			varchar("source", maxSourceLength),
			varchar("title", 512),
			{Name: "chunk_index", DataType: entity.FieldTypeInt64},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			varchar("text", maxTextLength),
			{Name: "timestamp", DataType: entity.FieldTypeInt64},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.L2, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))
	return nil
}

func (m *Client) Insert(ctx context.Context, chunks []DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	n := len(chunks)
	ids := make([]string, n)
	tenants := make([]string, n)
	sources := make([]string, n)
	titles := make([]string, n)
	indexes := make([]int64, n)
	embeddings := make([][]float32, n)
	texts := make([]string, n)
	timestamps := make([]int64, n)

	for i, chunk := range chunks {
		ids[i] = chunk.ID
		tenants[i] = chunk.TenantID
		sources[i] = truncate(chunk.Source, maxSourceLength)
		titles[i] = truncate(chunk.Title, 512)
		indexes[i] = int64(chunk.ChunkIndex)
		embeddings[i] = chunk.Embedding
		texts[i] = truncate(chunk.Text, maxTextLength)
		timestamps[i] = chunk.Timestamp.Unix()
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("chunk_id", ids),
		entity.NewColumnVarChar("tenant_id", tenants),
		entity.NewColumnVarChar("source", sources),
		entity.NewColumnVarChar("title", titles),
		entity.NewColumnInt64("chunk_index", indexes),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnInt64("timestamp", timestamps),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks inserted into vector DB", zap.Int("count", n))
	return nil
}

// Search only ever sees chunks of tenantID.
func (m *Client) Search(ctx context.Context, tenantID string, queryEmbedding []float32, topK int) ([]SearchResult, error) {
	expr := TenantExpr(tenantID, "")

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"chunk_id", "source", "title", "chunk_index", "text"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.L2,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0, topK)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			results = append(results, SearchResult{
				ChunkID:    columnString(sr.Fields, "chunk_id", i),
				Source:     columnString(sr.Fields, "source", i),
				Title:      columnString(sr.Fields, "title", i),
				ChunkIndex: int(columnInt64(sr.Fields, "chunk_index", i)),
				Text:       columnString(sr.Fields, "text", i),
				Score:      sr.Scores[i],
			})
		}
	}

	logger.Info("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
		zap.String("filters", expr),
	)

	return results, nil
}

// Delete removes the chunks of one source, or every chunk of the tenant
// when source is empty.
func (m *Client) Delete(ctx context.Context, tenantID, source string) error {
	expr := TenantExpr(tenantID, source)
	if err := m.client.Delete(ctx, m.collectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	logger.Info("Chunks deleted from vector DB", zap.String("filters", expr))
	return nil
}

// TenantExpr builds the boolean filter expression scoping a query to a tenant.
func TenantExpr(tenantID, source string) string {
	expr := fmt.Sprintf(`tenant_id == "%s"`, quote(tenantID))
	if source != "" {
		expr += fmt.Sprintf(` && source == "%s"`, quote(source))
	}
	return expr
}

func quote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

func columnString(fields client.ResultSet, name string, i int) string {
	col := fields.GetColumn(name)
	if col == nil {
		return ""
	}
	v, err := col.Get(i)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func columnInt64(fields client.ResultSet, name string, i int) int64 {
	col := fields.GetColumn(name)
	if col == nil {
		return 0
	}
	v, err := col.Get(i)
	if err != nil {
		return 0
	}
	n, _ := v.(int64)
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// back off to a rune boundary
	for n > 0 && (s[n]&0xC0) == 0x80 {
		n--
	}
	return s[:n]
}
