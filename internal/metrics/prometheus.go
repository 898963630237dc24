package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_search_duration_seconds",
			Help:    "Catalog search duration in seconds, including formatting and relevance filtering",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"kind"},
	)

	SearchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_search_total",
			Help: "Total catalog searches by outcome",
		},
		[]string{"kind", "status"},
	)

	FallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_search_fallback_total",
			Help: "Searches answered by the fuzzy fallback query",
		},
		[]string{"kind"},
	)

	RelevanceFilterTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_relevance_filter_total",
			Help: "Relevance filter invocations by outcome",
		},
		[]string{"outcome"},
	)

	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_store_operation_duration_seconds",
			Help:    "Document store operation duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"operation", "kind"},
	)

	StoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_store_errors_total",
			Help: "Document store operations that failed",
		},
		[]string{"operation", "kind"},
	)

	IngestedRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_ingested_rows_total",
			Help: "Rows processed by bulk ingestion",
		},
		[]string{"kind", "outcome"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	ClassificationLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_classification_lookups_total",
			Help: "Wholesale classification lookups by result",
		},
		[]string{"result"},
	)

	KnowledgeChunksIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_knowledge_chunks_indexed_total",
			Help: "Knowledge document chunks written to the vector store",
		},
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_events_published_total",
			Help: "Catalog change events published",
		},
		[]string{"status"},
	)
)

func Init() {
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(SearchTotal)
	prometheus.MustRegister(FallbackTotal)
	prometheus.MustRegister(RelevanceFilterTotal)
	prometheus.MustRegister(StoreOperationDuration)
	prometheus.MustRegister(StoreErrors)
	prometheus.MustRegister(IngestedRows)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(ClassificationLookups)
	prometheus.MustRegister(KnowledgeChunksIndexed)
	prometheus.MustRegister(EventsPublished)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
