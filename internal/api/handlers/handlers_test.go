package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retail-agent/backend/internal/catalog"
	"github.com/retail-agent/backend/internal/classification"
	"github.com/retail-agent/backend/internal/ingestion"
	"github.com/retail-agent/backend/internal/search"
	"github.com/retail-agent/backend/internal/storage/sqlstore"
	"github.com/retail-agent/backend/internal/store"
	"github.com/retail-agent/backend/internal/store/memory"
)

func newTestApp(t *testing.T, checks map[string]Check) *fiber.App {
	t.Helper()
	return newTestAppWithBackend(t, memory.New(), 100, checks)
}

func newTestAppWithBackend(t *testing.T, backend store.Backend, chunkSize int, checks map[string]Check) *fiber.App {
	t.Helper()
	ctx := context.Background()

	s := store.New(backend, store.Options{})
	require.NoError(t, s.EnsureIndices(ctx))

	pipeline, err := ingestion.NewPipeline(s, chunkSize)
	require.NoError(t, err)

	db, err := sqlstore.NewClient(sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema(ctx))
	classifications := classification.NewService(db, nil, 0)

	service := search.NewService(
		search.NewEngine(s, search.EngineConfig{FallbackEnabled: true}),
		search.WithWholesaleLookup(classifications),
	)

	app := fiber.New()
	RegisterRoutes(app, Handlers{
		Catalog:         NewCatalogHandler(s, pipeline),
		Search:          NewSearchHandler(service),
		Classifications: NewClassificationHandler(classifications),
		Health:          NewHealthHandler(checks),
	})
	return app
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return send(t, app, req)
}

func send(t *testing.T, app *fiber.App, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func TestEntryLifecycle(t *testing.T) {
	app := newTestApp(t, nil)
	base := "/api/v1/catalog/product/shop/entries"

	status, body := do(t, app, "POST", base, map[string]any{"product_code": "P1", "model": "iPhone 12", "price": 12000000})
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "created", body["result"])

	status, body = do(t, app, "POST", base, map[string]any{"product_code": "P1", "model": "iPhone 12", "price": 11000000})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "updated", body["result"])

	status, _ = do(t, app, "PUT", base+"/P1", map[string]any{"color": "Blue"})
	assert.Equal(t, fiber.StatusOK, status)

	status, body = do(t, app, "GET", base+"/P1", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Blue", body["color"])
	assert.EqualValues(t, 11000000, body["price"])

	status, _ = do(t, app, "GET", "/api/v1/catalog/product/other-shop/entries/P1", nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = do(t, app, "PUT", base+"/P404", map[string]any{"color": "Blue"})
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = do(t, app, "PUT", base+"/P1", map[string]any{"product_code": "P2"})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = do(t, app, "DELETE", base+"/P1", nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = do(t, app, "GET", base+"/P1", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestCreateEntryValidation(t *testing.T) {
	app := newTestApp(t, nil)

	status, _ := do(t, app, "POST", "/api/v1/catalog/gadget/shop/entries", map[string]any{"model": "x"})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body := do(t, app, "POST", "/api/v1/catalog/product/shop/entries", map[string]any{"model": "x", "colour": "red"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body["error"], "colour")

	status, _ = do(t, app, "POST", "/api/v1/catalog/product/shop/entries", map[string]any{"model": "no code"})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestBulkCreateReportsFailures(t *testing.T) {
	app := newTestApp(t, nil)

	status, body := do(t, app, "POST", "/api/v1/catalog/accessory/shop/entries/bulk", []map[string]any{
		{"accessory_code": "A1", "accessory_name": "USB-C cable", "price": 150000},
		{"accessory_name": "No code"},
		{"accessory_code": "A3"},
	})
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, body["success_count"])

	failed := body["failed_items"].([]any)
	require.Len(t, failed, 2)
	assert.EqualValues(t, 1, failed[0].(map[string]any)["index"])
	assert.EqualValues(t, 2, failed[1].(map[string]any)["index"])

	status, _ = do(t, app, "POST", "/api/v1/catalog/accessory/shop/entries/bulk", []map[string]any{})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestListAndDeleteEntries(t *testing.T) {
	app := newTestApp(t, nil)
	base := "/api/v1/catalog/faq/shop/entries"

	for _, id := range []string{"F1", "F2", "F3"} {
		status, _ := do(t, app, "POST", base, map[string]any{"faq_id": id, "question": "Question " + id, "answer": "Answer"})
		require.Equal(t, fiber.StatusCreated, status)
	}

	status, body := do(t, app, "GET", base+"?size=2", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 3, body["total"])
	assert.Len(t, body["entries"], 2)

	status, body = do(t, app, "DELETE", base, map[string]any{"ids": []string{"F1", "F2"}})
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 2, body["deleted"])

	status, _ = do(t, app, "DELETE", base, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = do(t, app, "DELETE", base+"?all=true", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, body["deleted"])
}

func upload(t *testing.T, app *fiber.App, path, filename, content string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return send(t, app, req)
}

const productCSV = `product_code,model,color,capacity,warranty,condition,device_type,battery_health,price,wholesale_price,inventory,note
P1,iPhone 12,Black,128GB,12 months,New,Phone,100%,"12,000,000","11,000,000",3,
P2,Galaxy S21,Black,128GB,,New,Phone,,"8,000,000",,0,
,Missing code,Black,,,,,,1,,,
`

func TestUploadThenSearch(t *testing.T) {
	app := newTestApp(t, nil)

	status, body := upload(t, app, "/api/v1/catalog/product/shop/upload", "products.csv", productCSV)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.EqualValues(t, 3, body["rows"])
	assert.EqualValues(t, 2, body["success_count"])
	assert.Len(t, body["failed_items"], 1)

	status, body = do(t, app, "POST", "/api/v1/search/product/shop", map[string]any{"terms": map[string]string{"model": "iPhone 12"}})
	require.Equal(t, fiber.StatusOK, status)
	items := body["items"].([]any)
	require.NotEmpty(t, items)
	assert.Contains(t, items[0], "Model: iPhone 12")
	assert.Contains(t, items[0], "Price: 12,000,000")
	assert.NotContains(t, items[0], "Wholesale")

	status, _ = do(t, app, "PUT", "/api/v1/classifications/shop/thread-1", map[string]any{"is_sale": true})
	require.Equal(t, fiber.StatusOK, status)

	status, body = do(t, app, "POST", "/api/v1/search/product/shop", map[string]any{
		"terms":     map[string]string{"model": "iPhone 12"},
		"thread_id": "thread-1",
	})
	require.Equal(t, fiber.StatusOK, status)
	items = body["items"].([]any)
	require.NotEmpty(t, items)
	assert.Contains(t, items[0], "Wholesale price: 11,000,000")
}

// flakyBackend accepts the first okBatches bulk requests and then reports
// the store as unavailable.
type flakyBackend struct {
	*memory.Backend
	okBatches int
	batches   int
}

func (b *flakyBackend) Bulk(ctx context.Context, index, routing string, items []store.BulkItem) (catalog.BulkResult, error) {
	b.batches++
	if b.batches > b.okBatches {
		return catalog.NewBulkResult(), &catalog.StoreUnavailableError{Op: "bulk", Err: errors.New("connection refused")}
	}
	return b.Backend.Bulk(ctx, index, routing, items)
}

func TestUploadReportsPartialLoad(t *testing.T) {
	csv := `product_code,model,color,capacity,warranty,condition,device_type,battery_health,price,wholesale_price,inventory,note
P1,iPhone 12,,,,,,,1,,,
P2,iPhone 13,,,,,,,1,,,
P3,iPhone 14,,,,,,,1,,,
,Missing code,,,,,,,1,,,
`
	app := newTestAppWithBackend(t, &flakyBackend{Backend: memory.New(), okBatches: 1}, 1, nil)

	status, body := upload(t, app, "/api/v1/catalog/product/shop/upload", "products.csv", csv)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "Service temporarily unavailable", body["error"])
	assert.EqualValues(t, 1, body["success_count"])
	assert.Len(t, body["failed_items"], 1)
	assert.EqualValues(t, 1, body["dropped"])
	assert.Contains(t, body["message"], "retry the upload")

	app = newTestAppWithBackend(t, &flakyBackend{Backend: memory.New(), okBatches: 1}, 1, nil)
	status, body = upload(t, app, "/api/v1/catalog/product/shop/insert", "products.csv", csv)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.EqualValues(t, 1, body["success_count"])
	assert.NotContains(t, body["message"], "retry the upload")
}

func TestBulkCreateReportsPartialLoad(t *testing.T) {
	backend := &flakyBackend{Backend: memory.New(), okBatches: 0}
	app := newTestAppWithBackend(t, backend, 100, nil)

	status, body := do(t, app, "POST", "/api/v1/catalog/product/shop/entries/bulk", []map[string]any{
		{"product_code": "P1", "model": "iPhone 12"},
		{"product_code": "P2", "flavour": "x"},
	})
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.EqualValues(t, 0, body["success_count"])
	failed := body["failed_items"].([]any)
	require.Len(t, failed, 1)
	assert.EqualValues(t, 1, failed[0].(map[string]any)["index"])
}

func TestUploadRejectsBadFiles(t *testing.T) {
	app := newTestApp(t, nil)

	status, _ := upload(t, app, "/api/v1/catalog/product/shop/insert", "products.pdf", "%PDF")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = do(t, app, "POST", "/api/v1/catalog/product/shop/insert", map[string]any{})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestSearchValidation(t *testing.T) {
	app := newTestApp(t, nil)

	status, body := do(t, app, "POST", "/api/v1/search/product/shop", map[string]any{"terms": map[string]string{"flavour": "x"}})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Empty(t, body["items"])
	assert.NotEmpty(t, body["error"])

	status, body = do(t, app, "POST", "/api/v1/search/faq/shop", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 0, body["count"])
}

func TestClassifications(t *testing.T) {
	app := newTestApp(t, nil)
	path := "/api/v1/classifications/shop/t-9"

	status, body := do(t, app, "GET", path, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["classified"])
	assert.Equal(t, false, body["is_sale"])

	status, _ = do(t, app, "PUT", path, map[string]any{})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = do(t, app, "PUT", path, map[string]any{"is_sale": false})
	require.Equal(t, fiber.StatusOK, status)

	status, body = do(t, app, "GET", path, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["classified"])
	assert.Equal(t, false, body["is_sale"])

	status, _ = do(t, app, "DELETE", path, nil)
	assert.Equal(t, fiber.StatusNoContent, status)
}

func TestReadiness(t *testing.T) {
	app := newTestApp(t, map[string]Check{
		"store": func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})

	status, body := do(t, app, "GET", "/api/v1/ready", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["store"])
	assert.True(t, strings.Contains(checks["redis"].(string), "refused"))

	status, _ = do(t, app, "GET", "/api/v1/health", nil)
	assert.Equal(t, fiber.StatusOK, status)
}
