package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{MaxQueryLength: 50}))
	app.Post("/api/v1/search/:kind/:customer_id", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Post("/api/v1/documents/:customer_id", func(c *fiber.Ctx) error { return c.SendString("ok") })
	return app
}

func post(t *testing.T, app *fiber.App, path, contentType, body string) int {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestSearchScreening(t *testing.T) {
	app := newApp()
	path := "/api/v1/search/product/shop"

	tests := []struct {
		name string
		body string
		want int
	}{
		{"plain", `{"terms":{"model":"iPhone 12"},"query":"iphone 12 please"}`, fiber.StatusOK},
		{"words that look like sql", `{"terms":{"model":"Select Pro"},"query":"update my order"}`, fiber.StatusOK},
		{"script in term", `{"terms":{"model":"<script>alert(1)</script>"}}`, fiber.StatusBadRequest},
		{"long query", `{"query":"` + strings.Repeat("a", 51) + `"}`, fiber.StatusBadRequest},
		{"broken json", `{"terms":`, fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, post(t, app, path, "application/json", tt.body))
		})
	}
}

func TestContentType(t *testing.T) {
	app := newApp()
	assert.Equal(t, fiber.StatusUnsupportedMediaType, post(t, app, "/api/v1/documents/shop", "text/plain", "hello"))
	assert.Equal(t, fiber.StatusOK, post(t, app, "/api/v1/documents/shop", "application/json", `{"content":"<p>hi</p>"}`))
}
