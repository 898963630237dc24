package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/retail-agent/backend/internal/catalog"
	"github.com/retail-agent/backend/internal/catalog/dsl"
	"github.com/retail-agent/backend/internal/store"
	"github.com/retail-agent/backend/pkg/circuitbreaker"
	"github.com/retail-agent/backend/pkg/logger"
	"github.com/retail-agent/backend/pkg/retry"
)

type Config struct {
	Addresses []string
	Username  string
	Password  string
	APIKey    string
	// Refresh is sent with every write: "true", "false" or "wait_for".
	Refresh     string
	MaxAttempts int
	Transport   http.RoundTripper
}

type Backend struct {
	es          *elasticsearch.Client
	refresh     string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

var _ store.Backend = (*Backend)(nil)

func New(cfg Config) (*Backend, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		APIKey:       cfg.APIKey,
		Transport:    cfg.Transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	if cfg.Refresh == "" {
		cfg.Refresh = "true"
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}

	cb := circuitbreaker.NewCircuitBreaker("elasticsearch", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          15 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsFailure:        func(err error) bool { return err != nil && !catalog.IsClientError(err) },
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    cfg.MaxAttempts,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		ShouldRetry:    func(err error) bool { return errors.Is(err, catalog.ErrStoreUnavailable) },
		Operation:      "elasticsearch",
		Logger:         logger.GetLogger(),
	}

	logger.Info("Elasticsearch backend initialized",
		zap.Strings("addresses", cfg.Addresses),
		zap.String("refresh", cfg.Refresh),
	)

	return &Backend{
		es:          es,
		refresh:     cfg.Refresh,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.call(ctx, "ping", func() error {
		_, err := b.perform(ctx, "ping", esapi.InfoRequest{}, nil)
		return err
	})
}

func (b *Backend) EnsureIndex(ctx context.Context, schema *catalog.Schema) error {
	return b.call(ctx, "ensure_index", func() error {
		_, err := b.perform(ctx, "index_exists", esapi.IndicesExistsRequest{Index: []string{schema.Index}}, nil)
		if err == nil {
			return nil
		}
		if !errors.Is(err, catalog.ErrNotFound) {
			return err
		}

		body, err := encode(indexBody(schema))
		if err != nil {
			return err
		}
		_, err = b.perform(ctx, "create_index", esapi.IndicesCreateRequest{Index: schema.Index, Body: body}, nil)
		if err != nil && strings.Contains(err.Error(), "resource_already_exists_exception") {
			return nil
		}
		if err != nil {
			return err
		}

		logger.Info("Index created", zap.String("index", schema.Index))
		return nil
	})
}

func (b *Backend) Index(ctx context.Context, index, id, routing string, doc catalog.Entry) (catalog.WriteResult, error) {
	var result catalog.WriteResult
	err := b.call(ctx, "index", func() error {
		body, err := encode(doc)
		if err != nil {
			return err
		}

		var resp struct {
			Result string `json:"result"`
		}
		_, err = b.perform(ctx, "index", esapi.IndexRequest{
			Index:      index,
			DocumentID: id,
			Body:       body,
			Routing:    routing,
			Refresh:    b.refresh,
		}, &resp)
		if err != nil {
			return err
		}

		result = catalog.Updated
		if resp.Result == "created" {
			result = catalog.Created
		}
		return nil
	})
	return result, err
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

func (b *Backend) Bulk(ctx context.Context, index, routing string, items []store.BulkItem) (catalog.BulkResult, error) {
	result := catalog.NewBulkResult()
	if len(items) == 0 {
		return result, nil
	}

	var buf bytes.Buffer
	for _, item := range items {
		meta := map[string]any{"index": map[string]any{"_index": index, "_id": item.ID, "routing": routing}}
		if err := writeLine(&buf, meta); err != nil {
			return result, err
		}
		if err := writeLine(&buf, item.Doc); err != nil {
			return result, err
		}
	}
	payload := buf.Bytes()

	var resp bulkResponse
	err := b.call(ctx, "bulk", func() error {
		resp = bulkResponse{}
		_, err := b.perform(ctx, "bulk", esapi.BulkRequest{
			Index:   index,
			Body:    bytes.NewReader(payload),
			Routing: routing,
			Refresh: b.refresh,
		}, &resp)
		return err
	})
	if err != nil {
		return result, err
	}

	for i, item := range items {
		if i >= len(resp.Items) {
			result.Fail(item.Index, item.ID, "missing item in bulk response")
			continue
		}
		var status int
		reason := ""
		for _, r := range resp.Items[i] {
			status = r.Status
			if r.Error != nil {
				reason = r.Error.Type + ": " + r.Error.Reason
			}
		}
		if status >= 200 && status < 300 {
			result.SuccessCount++
			continue
		}
		if reason == "" {
			reason = fmt.Sprintf("status %d", status)
		}
		result.Fail(item.Index, item.ID, reason)
	}
	return result, nil
}

func (b *Backend) Update(ctx context.Context, index, id, routing string, partial catalog.Entry) error {
	return b.call(ctx, "update", func() error {
		body, err := encode(map[string]any{"doc": partial})
		if err != nil {
			return err
		}
		_, err = b.perform(ctx, "update", esapi.UpdateRequest{
			Index:      index,
			DocumentID: id,
			Body:       body,
			Routing:    routing,
			Refresh:    b.refresh,
		}, nil)
		return err
	})
}

func (b *Backend) Get(ctx context.Context, index, id, routing string) (catalog.Entry, error) {
	var resp struct {
		Found  bool          `json:"found"`
		Source catalog.Entry `json:"_source"`
	}
	err := b.call(ctx, "get", func() error {
		_, err := b.perform(ctx, "get", esapi.GetRequest{
			Index:      index,
			DocumentID: id,
			Routing:    routing,
		}, &resp)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, fmt.Errorf("document %s: %w", id, catalog.ErrNotFound)
	}
	return resp.Source, nil
}

func (b *Backend) Delete(ctx context.Context, index, id, routing string) error {
	return b.call(ctx, "delete", func() error {
		_, err := b.perform(ctx, "delete", esapi.DeleteRequest{
			Index:      index,
			DocumentID: id,
			Routing:    routing,
			Refresh:    b.refresh,
		}, nil)
		return err
	})
}

func (b *Backend) DeleteByQuery(ctx context.Context, index, routing string, q dsl.Query) (int, error) {
	refresh := b.refresh != "false"
	var resp struct {
		Deleted int `json:"deleted"`
	}
	err := b.call(ctx, "delete_by_query", func() error {
		body, err := encode(map[string]any{"query": q.Source()})
		if err != nil {
			return err
		}
		_, err = b.perform(ctx, "delete_by_query", esapi.DeleteByQueryRequest{
			Index:     []string{index},
			Body:      body,
			Routing:   []string{routing},
			Refresh:   &refresh,
			Conflicts: "proceed",
		}, &resp)
		return err
	})
	if errors.Is(err, catalog.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string        `json:"_id"`
			Score  *float64      `json:"_score"`
			Source catalog.Entry `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (b *Backend) Search(ctx context.Context, index, routing string, q dsl.Query, from, size int) (store.SearchResult, error) {
	body := dsl.SearchBody(q, from, size)
	body["track_total_hits"] = true

	var resp searchResponse
	err := b.call(ctx, "search", func() error {
		reader, err := encode(body)
		if err != nil {
			return err
		}
		resp = searchResponse{}
		_, err = b.perform(ctx, "search", esapi.SearchRequest{
			Index:   []string{index},
			Body:    reader,
			Routing: []string{routing},
		}, &resp)
		return err
	})
	if errors.Is(err, catalog.ErrNotFound) {
		return store.SearchResult{Hits: []catalog.Hit{}}, nil
	}
	if err != nil {
		return store.SearchResult{}, err
	}

	res := store.SearchResult{Hits: make([]catalog.Hit, 0, len(resp.Hits.Hits)), Total: resp.Hits.Total.Value}
	for _, h := range resp.Hits.Hits {
		hit := catalog.Hit{ID: h.ID, Source: h.Source}
		if h.Score != nil {
			hit.Score = *h.Score
		}
		res.Hits = append(res.Hits, hit)
	}
	return res, nil
}

func (b *Backend) Close() error {
	return nil
}

func (b *Backend) call(ctx context.Context, op string, fn func() error) error {
	err := b.cb.Execute(ctx, func() error {
		return retry.Do(ctx, b.retryConfig, fn)
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return &catalog.StoreUnavailableError{Op: op, Err: err}
	}
	if (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) && !errors.Is(err, catalog.ErrStoreUnavailable) {
		return &catalog.StoreUnavailableError{Op: op, Err: err}
	}
	return err
}

// perform executes req and decodes a successful body into out. A 404 maps
// to catalog.ErrNotFound, 4xx to a validation error and everything else to
// *catalog.StoreUnavailableError.
func (b *Backend) perform(ctx context.Context, op string, req esapi.Request, out any) (int, error) {
	res, err := req.Do(ctx, b.es)
	if err != nil {
		return 0, &catalog.StoreUnavailableError{Op: op, Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		reason := errorReason(res.Body)
		switch {
		case res.StatusCode == http.StatusNotFound:
			return res.StatusCode, fmt.Errorf("%s: %s: %w", op, reason, catalog.ErrNotFound)
		case res.StatusCode == http.StatusConflict, res.StatusCode == http.StatusTooManyRequests, res.StatusCode >= 500:
			return res.StatusCode, &catalog.StoreUnavailableError{Op: op, Err: fmt.Errorf("status %d: %s", res.StatusCode, reason)}
		default:
			return res.StatusCode, catalog.NewValidationError("", "%s rejected with status %d: %s", op, res.StatusCode, reason)
		}
	}

	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return res.StatusCode, fmt.Errorf("failed to decode %s response: %w", op, err)
		}
	}
	return res.StatusCode, nil
}

func errorReason(body io.Reader) string {
	var e struct {
		Error json.RawMessage `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
	if err := json.Unmarshal(data, &e); err != nil || len(e.Error) == 0 {
		return strings.TrimSpace(string(data))
	}

	var detailed struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(e.Error, &detailed); err == nil && detailed.Type != "" {
		return detailed.Type + ": " + detailed.Reason
	}
	return strings.Trim(string(e.Error), `"`)
}

func encode(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return bytes.NewReader(data), nil
}

func writeLine(buf *bytes.Buffer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode bulk line: %w", err)
	}
	buf.Write(data)
	buf.WriteByte('\n')
	return nil
}
