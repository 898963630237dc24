// Package knowledge is the tenant-scoped free-text document surface: shop
// policies, warranty terms and other prose a tenant uploads next to its
// catalog.
package knowledge

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/retail-agent/backend/internal/catalog"
	"github.com/retail-agent/backend/internal/metrics"
	"github.com/retail-agent/backend/internal/storage/models"
	"github.com/retail-agent/backend/internal/vector/milvus"
	"github.com/retail-agent/backend/pkg/logger"
	"github.com/retail-agent/backend/pkg/tenant"
	"github.com/retail-agent/backend/pkg/utils"
)

const (
	DefaultChunkSize = 1000
	DefaultTopK      = 5
	maxTopK          = 50
	summaryInput     = 4000
)

var whitespace = regexp.MustCompile(`\s+`)

type VectorIndex interface {
	Insert(ctx context.Context, chunks []milvus.DocumentChunk) error
	Search(ctx context.Context, tenantID string, embedding []float32, topK int) ([]milvus.SearchResult, error)
	Delete(ctx context.Context, tenantID, source string) error
}

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

type Summarizer interface {
	SummarizeDocument(ctx context.Context, content string) (string, error)
}

type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

type SourceRegistry interface {
	UpsertKnowledgeSource(ctx context.Context, src *models.KnowledgeSource) error
	ListKnowledgeSources(ctx context.Context, tenantID string) ([]models.KnowledgeSource, error)
	DeleteKnowledgeSources(ctx context.Context, tenantID, source string) (int, error)
}

type Processor struct {
	index      VectorIndex
	embedder   Embedder
	registry   SourceRegistry
	summarizer Summarizer
	cache      EmbeddingCache
	cacheTTL   time.Duration
	chunkSize  int
	now        func() time.Time
}

type Option func(*Processor)

func WithSummarizer(s Summarizer) Option {
	return func(p *Processor) { p.summarizer = s }
}

func WithEmbeddingCache(c EmbeddingCache, ttl time.Duration) Option {
	return func(p *Processor) {
		p.cache = c
		p.cacheTTL = ttl
	}
}

func WithChunkSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

func NewProcessor(index VectorIndex, embedder Embedder, registry SourceRegistry, opts ...Option) *Processor {
	p := &Processor{
		index:     index,
		embedder:  embedder,
		registry:  registry,
		cacheTTL:  24 * time.Hour,
		chunkSize: DefaultChunkSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IngestHTML strips page chrome before indexing the text of the body.
func (p *Processor) IngestHTML(ctx context.Context, tenantID, source, html string) (*models.KnowledgeSource, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, catalog.NewValidationError("content", "unreadable html: %v", err)
	}
	return p.IngestText(ctx, tenantID, source, extractTitle(doc), cleanHTML(doc))
}

// IngestText replaces whatever was indexed under source before.
func (p *Processor) IngestText(ctx context.Context, tenantID, source, title, text string) (*models.KnowledgeSource, error) {
	t := tenant.Normalize(tenantID)
	if t == "" {
		return nil, catalog.NewValidationError("customer_id", "must not be empty")
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, catalog.NewValidationError("source", "must not be empty")
	}
	text = strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
	if text == "" {
		return nil, catalog.NewValidationError("content", "no text extracted")
	}
	if title = strings.TrimSpace(title); title == "" {
		title = source
	}

	logger.Info("Processing knowledge document",
		zap.String("customer_id", t),
		zap.String("source", source),
	)

	chunks := p.chunkText(text)
	embeddings, err := p.embed(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	if err := p.index.Delete(ctx, t, source); err != nil {
		return nil, &catalog.StoreUnavailableError{Op: "knowledge delete", Err: err}
	}

	docID := utils.HashString(t + "\x00" + source)
	now := p.now()
	vectorChunks := make([]milvus.DocumentChunk, len(chunks))
	for i, chunkText := range chunks {
		vectorChunks[i] = milvus.DocumentChunk{
			ID:         fmt.Sprintf("%s_chunk_%d", docID, i),
			TenantID:   t,
			Source:     source,
			Title:      title,
			ChunkIndex: i,
			Embedding:  embeddings[i],
			Text:       chunkText,
			Timestamp:  now,
		}
	}
	if err := p.index.Insert(ctx, vectorChunks); err != nil {
		return nil, &catalog.StoreUnavailableError{Op: "knowledge insert", Err: err}
	}
	metrics.KnowledgeChunksIndexed.Add(float64(len(vectorChunks)))

	src := &models.KnowledgeSource{
		ID:         docID,
		TenantID:   t,
		Source:     source,
		Title:      title,
		Summary:    p.summarize(ctx, text),
		ChunkCount: len(vectorChunks),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.registry.UpsertKnowledgeSource(ctx, src); err != nil {
		return nil, err
	}

	logger.Info("Knowledge document processed",
		zap.String("doc_id", docID),
		zap.Int("chunks", len(vectorChunks)),
	)
	return src, nil
}

func (p *Processor) Retrieve(ctx context.Context, tenantID, query string, topK int) ([]milvus.SearchResult, error) {
	t := tenant.Normalize(tenantID)
	if t == "" {
		return nil, catalog.NewValidationError("customer_id", "must not be empty")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, catalog.NewValidationError("query", "must not be empty")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > maxTopK {
		return nil, catalog.NewValidationError("top_k", "must be at most %d", maxTopK)
	}

	embeddings, err := p.embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	results, err := p.index.Search(ctx, t, embeddings[0], topK)
	if err != nil {
		return nil, &catalog.StoreUnavailableError{Op: "knowledge search", Err: err}
	}
	return results, nil
}

func (p *Processor) Sources(ctx context.Context, tenantID string) ([]models.KnowledgeSource, error) {
	t := tenant.Normalize(tenantID)
	if t == "" {
		return nil, catalog.NewValidationError("customer_id", "must not be empty")
	}
	return p.registry.ListKnowledgeSources(ctx, t)
}

// DeleteSource returns the number of registered sources removed.
func (p *Processor) DeleteSource(ctx context.Context, tenantID, source string) (int, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return 0, catalog.NewValidationError("source", "must not be empty")
	}
	return p.delete(ctx, tenantID, source)
}

func (p *Processor) DeleteTenant(ctx context.Context, tenantID string) (int, error) {
	return p.delete(ctx, tenantID, "")
}

func (p *Processor) delete(ctx context.Context, tenantID, source string) (int, error) {
	t := tenant.Normalize(tenantID)
	if t == "" {
		return 0, catalog.NewValidationError("customer_id", "must not be empty")
	}
	if err := p.index.Delete(ctx, t, source); err != nil {
		return 0, &catalog.StoreUnavailableError{Op: "knowledge delete", Err: err}
	}
	return p.registry.DeleteKnowledgeSources(ctx, t, source)
}

// embed consults the cache per text and only sends the misses to the model.
func (p *Processor) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []int

	for i, text := range texts {
		if p.cache != nil {
			v, ok, err := p.cache.GetEmbedding(ctx, utils.HashString(text))
			if err != nil {
				logger.Warn("Embedding cache read failed", zap.Error(err))
			} else if ok {
				metrics.CacheHits.WithLabelValues("embedding").Inc()
				out[i] = v
				continue
			}
			metrics.CacheMisses.WithLabelValues("embedding").Inc()
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	batch := make([]string, len(missing))
	for j, i := range missing {
		batch[j] = texts[i]
	}

	var (
		embeddings [][]float32
		err        error
	)
	if len(batch) == 1 {
		var e []float32
		e, err = p.embedder.GenerateEmbedding(ctx, batch[0])
		embeddings = [][]float32{e}
	} else {
		embeddings, err = p.embedder.GenerateBatchEmbeddings(ctx, batch)
	}
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(batch) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(batch))
	}

	for j, i := range missing {
		out[i] = embeddings[j]
		if p.cache != nil {
			if err := p.cache.SetEmbedding(ctx, utils.HashString(texts[i]), embeddings[j], p.cacheTTL); err != nil {
				logger.Warn("Embedding cache write failed", zap.Error(err))
			}
		}
	}
	return out, nil
}

func (p *Processor) summarize(ctx context.Context, text string) string {
	if p.summarizer == nil {
		return ""
	}
	if len(text) > summaryInput {
		text = text[:summaryInput]
	}
	summary, err := p.summarizer.SummarizeDocument(ctx, text)
	if err != nil {
		logger.Warn("Failed to summarize document", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(summary)
}

func (p *Processor) chunkText(text string) []string {
	return packSentences(p.sentences(text), p.chunkSize)
}

// packSentences packs whole sentences into chunks of at most limit bytes.
// A short last sentence is repeated at the start of the next chunk, and a
// sentence longer than limit is split on word boundaries.
func packSentences(sentences []string, limit int) []string {
	var (
		chunks  []string
		current []string
		size    int
		carried bool
	)
	reset := func() {
		current, size, carried = nil, 0, false
	}
	emit := func() {
		chunks = append(chunks, strings.Join(current, " "))
		last := current[len(current)-1]
		reset()
		if len(last) <= limit/2 {
			current, size, carried = []string{last}, len(last), true
		}
	}

	for _, sentence := range sentences {
		if len(sentence) > limit {
			if len(current) > 0 && !carried {
				chunks = append(chunks, strings.Join(current, " "))
			}
			reset()
			chunks = append(chunks, splitWords(sentence, limit)...)
			continue
		}
		if len(current) > 0 && size+1+len(sentence) > limit {
			if carried {
				reset()
			} else {
				emit()
				if size+1+len(sentence) > limit {
					reset()
				}
			}
		}
		if len(current) > 0 {
			size++
		}
		current = append(current, sentence)
		size += len(sentence)
		carried = false
	}

	if len(current) > 0 && !carried {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

func (p *Processor) sentences(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithTokenization(false),
	)
	if err != nil {
		return []string{text}
	}

	var out []string
	for _, s := range doc.Sentences() {
		if t := strings.TrimSpace(s.Text); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

func splitWords(text string, limit int) []string {
	var chunks []string
	var b strings.Builder
	for _, word := range strings.Fields(text) {
		if b.Len() > 0 && b.Len()+1+len(word) > limit {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

func cleanHTML(doc *goquery.Document) string {
	doc.Find("script, style, nav, footer, header, aside, noscript").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := doc.Find("body").Text()
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

func extractTitle(doc *goquery.Document) string {
	title := doc.Find("title").First().Text()
	if strings.TrimSpace(title) == "" {
		title = doc.Find("h1").First().Text()
	}
	return strings.TrimSpace(title)
}
