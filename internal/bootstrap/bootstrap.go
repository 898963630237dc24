// Package bootstrap builds the long-lived clients from configuration and
// wires them into the catalog services. The API server and catalogctl share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/retail-agent/backend/internal/cache"
	redisCache "github.com/retail-agent/backend/internal/cache/redis"
	"github.com/retail-agent/backend/internal/classification"
	"github.com/retail-agent/backend/internal/events"
	"github.com/retail-agent/backend/internal/ingestion"
	"github.com/retail-agent/backend/internal/knowledge"
	"github.com/retail-agent/backend/internal/llm"
	"github.com/retail-agent/backend/internal/relevance"
	"github.com/retail-agent/backend/internal/search"
	"github.com/retail-agent/backend/internal/storage/sqlstore"
	"github.com/retail-agent/backend/internal/store"
	"github.com/retail-agent/backend/internal/store/elastic"
	"github.com/retail-agent/backend/internal/store/memory"
	"github.com/retail-agent/backend/internal/vector/milvus"
	"github.com/retail-agent/backend/pkg/config"
	"github.com/retail-agent/backend/pkg/logger"
)

type App struct {
	Config          *config.Config
	Store           *store.Store
	Pipeline        *ingestion.Pipeline
	Search          *search.Service
	Classifications *classification.Service
	// Knowledge is nil unless milvus is enabled and an LLM key is configured.
	Knowledge *knowledge.Processor
	// Checks are the readiness checks of every external dependency.
	Checks map[string]func(ctx context.Context) error

	closers []func() error
}

// Build connects to everything cfg enables. On error the clients opened so
// far are closed.
func Build(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	app := &App{
		Config: cfg,
		Checks: map[string]func(ctx context.Context) error{},
	}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	backend, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	if eb, ok := backend.(*elastic.Backend); ok {
		app.Checks["elasticsearch"] = eb.Ping
	}

	var (
		invalidator store.Invalidator
		hitCache    search.HitCache
		saleCache   classification.Cache
		embedCache  knowledge.EmbeddingCache
	)
	if cfg.Redis.Enabled {
		rc, err := redisCache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis unavailable, running without caches", zap.Error(err))
		} else {
			app.closers = append(app.closers, rc.Close)
			app.Checks["redis"] = rc.Ping
			searchCache := cache.NewSearchCache(rc, cache.DefaultRetryConfig())
			invalidator, hitCache, saleCache, embedCache = searchCache, searchCache, rc, rc
		}
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		app.closers = append(app.closers, kp.Close)
		publisher = kp
	}

	app.Store = store.New(backend, store.Options{
		BulkBatchSize: cfg.Store.BulkBatchSize,
		Timeout:       time.Duration(cfg.Store.TimeoutSec) * time.Second,
		Invalidator:   invalidator,
		Publisher:     publisher,
	})
	app.closers = append(app.closers, app.Store.Close)

	if err := app.Store.EnsureIndices(ctx); err != nil {
		return nil, err
	}

	app.Pipeline, err = ingestion.NewPipeline(app.Store, cfg.Store.BulkBatchSize)
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, db.Close)
	app.Checks["database"] = db.Ping

	app.Classifications = classification.NewService(db, saleCache, 10*time.Minute)

	opts := []search.ServiceOption{
		search.WithWholesaleLookup(app.Classifications),
		search.WithHistoryTurns(cfg.Search.HistoryTurns),
	}

	var llmClient *llm.Client
	if cfg.LLM.APIKey != "" {
		llmClient = llm.NewClient(llmConfig(cfg.LLM, cfg.LLM.MaxTokens))
		if cfg.Relevance.Enabled {
			judge := llm.NewClient(llmConfig(cfg.LLM, cfg.Relevance.MaxTokens))
			opts = append(opts, search.WithRelevanceFilter(
				relevance.New(judge, time.Duration(cfg.Relevance.TimeoutSec)*time.Second),
			))
		}
	} else {
		logger.Warn("No LLM API key configured, relevance filter and knowledge documents disabled")
	}

	engine := search.NewEngine(app.Store, search.EngineConfig{
		PageSize:        cfg.Search.PageSize,
		FallbackEnabled: cfg.Search.FallbackEnabled,
		Cache:           hitCache,
		CacheTTL:        time.Duration(cfg.Search.CacheTTLSec) * time.Second,
	})
	app.Search = search.NewService(engine, opts...)

	if cfg.Milvus.Enabled && llmClient != nil {
		mc, err := milvus.NewClient(ctx, cfg.Milvus.Endpoint, cfg.Milvus.CollectionName, cfg.Milvus.VectorDim)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, mc.Close)
		if err := mc.EnsureCollection(ctx); err != nil {
			return nil, err
		}

		kopts := []knowledge.Option{knowledge.WithSummarizer(llmClient)}
		if embedCache != nil {
			kopts = append(kopts, knowledge.WithEmbeddingCache(embedCache, 24*time.Hour))
		}
		app.Knowledge = knowledge.NewProcessor(mc, llmClient, db, kopts...)
		app.Checks["milvus"] = mc.Ping
	}

	return app, nil
}

func newBackend(cfg *config.Config) (store.Backend, error) {
	switch cfg.Store.Driver {
	case "memory":
		logger.Warn("Using the in-memory catalog store, data is lost on exit")
		return memory.New(), nil
	default:
		return elastic.New(elastic.Config{
			Addresses: cfg.Elasticsearch.Addresses,
			Username:  cfg.Elasticsearch.Username,
			Password:  cfg.Elasticsearch.Password,
			APIKey:    cfg.Elasticsearch.APIKey,
			Refresh:   cfg.Store.Refresh,
		})
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sqlstore.Client, error) {
	if cfg.Driver == sqlstore.DriverSQLite {
		if dir := filepath.Dir(cfg.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sqlstore.NewClient(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func llmConfig(cfg config.LLMConfig, maxTokens int) llm.Config {
	return llm.Config{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Model:          cfg.Model,
		EmbeddingModel: cfg.EmbeddingModel,
		Temperature:    cfg.Temperature,
		MaxTokens:      maxTokens,
		Timeout:        time.Duration(cfg.TimeoutSec) * time.Second,
	}
}

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
