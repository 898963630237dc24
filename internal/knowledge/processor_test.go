package knowledge

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retail-agent/backend/internal/catalog"
	"github.com/retail-agent/backend/internal/storage/sqlstore"
	"github.com/retail-agent/backend/internal/vector/milvus"
)

// memoryIndex ranks chunks by how many query words they contain.
type memoryIndex struct {
	mu      sync.Mutex
	chunks  []milvus.DocumentChunk
	deletes []string
}

func (m *memoryIndex) Insert(_ context.Context, chunks []milvus.DocumentChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func (m *memoryIndex) Search(_ context.Context, tenantID string, embedding []float32, topK int) ([]milvus.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []milvus.SearchResult
	for _, c := range m.chunks {
		if c.TenantID != tenantID || len(c.Embedding) == 0 || c.Embedding[0] != embedding[0] {
			continue
		}
		out = append(out, milvus.SearchResult{ChunkID: c.ID, Source: c.Source, Title: c.Title, ChunkIndex: c.ChunkIndex, Text: c.Text})
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func (m *memoryIndex) Delete(_ context.Context, tenantID, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, milvus.TenantExpr(tenantID, source))
	kept := m.chunks[:0]
	for _, c := range m.chunks {
		if c.TenantID == tenantID && (source == "" || c.Source == source) {
			continue
		}
		kept = append(kept, c)
	}
	m.chunks = kept
	return nil
}

// keywordEmbedder maps every text to a one-dimensional vector: 1 when it
// mentions "warranty", else 0.
type keywordEmbedder struct {
	mu    sync.Mutex
	calls int
	texts int
	err   error
}

func (e *keywordEmbedder) vector(text string) []float32 {
	if strings.Contains(strings.ToLower(text), "warranty") {
		return []float32{1}
	}
	return []float32{0}
}

func (e *keywordEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.texts++
	if e.err != nil {
		return nil, e.err
	}
	return e.vector(text), nil
}

func (e *keywordEmbedder) GenerateBatchEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.texts += len(texts)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

type mapEmbeddingCache struct {
	mu sync.Mutex
	m  map[string][]float32
}

func (c *mapEmbeddingCache) GetEmbedding(_ context.Context, hash string) ([]float32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[hash]
	return v, ok, nil
}

func (c *mapEmbeddingCache) SetEmbedding(_ context.Context, hash string, v []float32, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[hash] = v
	return nil
}

type staticSummarizer string

func (s staticSummarizer) SummarizeDocument(context.Context, string) (string, error) {
	return string(s), nil
}

func newProcessor(t *testing.T, opts ...Option) (*Processor, *memoryIndex, *keywordEmbedder) {
	t.Helper()
	db, err := sqlstore.NewClient(sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "knowledge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema(context.Background()))

	index := &memoryIndex{}
	embedder := &keywordEmbedder{}
	return NewProcessor(index, embedder, db, opts...), index, embedder
}

const warrantyPage = `<html><head><title>Warranty policy</title><script>var x = 1;</script></head>
<body><nav>Home | Shop</nav><h1>Warranty</h1>
<p>All phones come with a twelve month warranty.</p>
<p>Batteries are covered for six months.</p>
<footer>Copyright</footer></body></html>`

func TestIngestHTMLCleansAndRegisters(t *testing.T) {
	p, index, _ := newProcessor(t, WithSummarizer(staticSummarizer("Phones have a 12 month warranty.")))
	ctx := context.Background()

	src, err := p.IngestHTML(ctx, "Shop 1", "warranty.html", warrantyPage)
	require.NoError(t, err)

	assert.Equal(t, "Shop 1", src.TenantID)
	assert.Equal(t, "Warranty policy", src.Title)
	assert.Equal(t, "Phones have a 12 month warranty.", src.Summary)
	assert.Equal(t, len(index.chunks), src.ChunkCount)
	require.NotEmpty(t, index.chunks)

	all := ""
	for _, c := range index.chunks {
		assert.Equal(t, "Shop 1", c.TenantID)
		all += c.Text + " "
	}
	assert.Contains(t, all, "twelve month warranty")
	assert.NotContains(t, all, "var x")
	assert.NotContains(t, all, "Copyright")
	assert.NotContains(t, all, "Home | Shop")

	sources, err := p.Sources(ctx, "Shop 1")
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "warranty.html", sources[0].Source)
}

func TestReingestReplacesSource(t *testing.T) {
	p, index, _ := newProcessor(t)
	ctx := context.Background()

	_, err := p.IngestText(ctx, "shop", "faq", "", "Old answer about warranty.")
	require.NoError(t, err)
	_, err = p.IngestText(ctx, "shop", "faq", "", "New answer about returns.")
	require.NoError(t, err)

	require.Len(t, index.chunks, 1)
	assert.Equal(t, "New answer about returns.", index.chunks[0].Text)
	assert.Equal(t, "faq", index.chunks[0].Title)
}

func TestRetrieveIsTenantScoped(t *testing.T) {
	p, _, _ := newProcessor(t)
	ctx := context.Background()

	_, err := p.IngestText(ctx, "shop-a", "policy", "Policy", "Every phone has a warranty.")
	require.NoError(t, err)
	_, err = p.IngestText(ctx, "shop-b", "policy", "Policy", "Our warranty is two years.")
	require.NoError(t, err)
	_, err = p.IngestText(ctx, "shop_a", "policy", "Policy", "Warranty claims need a receipt.")
	require.NoError(t, err)

	results, err := p.Retrieve(ctx, "shop-a", "what is the warranty", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Every phone has a warranty.", results[0].Text)
}

func TestDeleteSourceAndTenant(t *testing.T) {
	p, index, _ := newProcessor(t)
	ctx := context.Background()

	for _, src := range []string{"a", "b"} {
		_, err := p.IngestText(ctx, "shop", src, "", "Text of "+src+".")
		require.NoError(t, err)
	}
	_, err := p.IngestText(ctx, "other", "a", "", "Someone else.")
	require.NoError(t, err)

	n, err := p.DeleteSource(ctx, "shop", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, index.deletes, `tenant_id == "shop" && source == "a"`)

	n, err = p.DeleteTenant(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, index.chunks, 1)
	assert.Equal(t, "other", index.chunks[0].TenantID)

	_, err = p.DeleteSource(ctx, "shop", " ")
	assert.True(t, errors.Is(err, catalog.ErrValidation))
}

func TestEmbeddingCacheSkipsModel(t *testing.T) {
	cache := &mapEmbeddingCache{m: map[string][]float32{}}
	p, _, embedder := newProcessor(t, WithEmbeddingCache(cache, time.Hour))
	ctx := context.Background()

	_, err := p.Retrieve(ctx, "shop", "warranty", 3)
	require.NoError(t, err)
	_, err = p.Retrieve(ctx, "shop", "warranty", 3)
	require.NoError(t, err)

	assert.Equal(t, 1, embedder.calls)
	assert.Len(t, cache.m, 1)
}

func TestIngestValidation(t *testing.T) {
	p, index, embedder := newProcessor(t)
	ctx := context.Background()

	_, err := p.IngestText(ctx, "", "src", "", "text")
	assert.True(t, errors.Is(err, catalog.ErrValidation))

	_, err = p.IngestHTML(ctx, "shop", "empty.html", "<html><body><script>x()</script></body></html>")
	assert.True(t, errors.Is(err, catalog.ErrValidation))

	_, err = p.Retrieve(ctx, "shop", "q", maxTopK+1)
	assert.True(t, errors.Is(err, catalog.ErrValidation))

	assert.Empty(t, index.chunks)
	assert.Zero(t, embedder.calls)
}

func TestEmbeddingFailureWritesNothing(t *testing.T) {
	p, index, embedder := newProcessor(t)
	embedder.err = errors.New("model down")

	_, err := p.IngestText(context.Background(), "shop", "src", "", "Some text.")
	require.Error(t, err)
	assert.Empty(t, index.chunks)
	assert.Empty(t, index.deletes)
}

func TestPackSentences(t *testing.T) {
	s1 := "The warranty lasts twelve months."
	s2 := "Batteries are covered for six months."
	s3 := "Screens are not covered."

	assert.Equal(t, []string{s1, s2, s3}, packSentences([]string{s1, s2, s3}, 60))
	assert.Equal(t, []string{s1 + " " + s2, s2 + " " + s3}, packSentences([]string{s1, s2, s3}, 80))
	assert.Equal(t, []string{s1 + " " + s2 + " " + s3}, packSentences([]string{s1, s2, s3}, 200))

	long := strings.Repeat("word ", 30)
	chunks := packSentences([]string{s3, strings.TrimSpace(long)}, 40)
	require.Greater(t, len(chunks), 2)
	assert.Equal(t, s3, chunks[0])
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 40)
	}
}
