package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups everything RegisterRoutes mounts. Documents and
// Classifications are optional.
type Handlers struct {
	Catalog         *CatalogHandler
	Search          *SearchHandler
	WebSocket       *WebSocketHandler
	Documents       *DocumentHandler
	Classifications *ClassificationHandler
	Health          *HealthHandler
}

func RegisterRoutes(app *fiber.App, h Handlers) {
	api := app.Group("/api/v1")

	entries := api.Group("/catalog/:kind/:customer_id")
	entries.Post("/upload", h.Catalog.Upload)
	entries.Post("/insert", h.Catalog.Insert)
	entries.Post("/entries", h.Catalog.CreateEntry)
	entries.Post("/entries/bulk", h.Catalog.BulkCreate)
	entries.Get("/entries", h.Catalog.ListEntries)
	entries.Delete("/entries", h.Catalog.DeleteEntries)
	entries.Get("/entries/:id", h.Catalog.GetEntry)
	entries.Put("/entries/:id", h.Catalog.UpdateEntry)
	entries.Delete("/entries/:id", h.Catalog.DeleteEntry)

	api.Post("/search/:kind/:customer_id", h.Search.Search)

	if h.Documents != nil {
		api.Post("/documents/:customer_id", h.Documents.UploadDocument)
		api.Get("/documents/:customer_id", h.Documents.ListSources)
		api.Post("/documents/:customer_id/search", h.Documents.SearchDocuments)
		api.Delete("/documents/:customer_id", h.Documents.DeleteDocuments)
	}

	if h.Classifications != nil {
		api.Put("/classifications/:customer_id/:thread_id", h.Classifications.Set)
		api.Get("/classifications/:customer_id/:thread_id", h.Classifications.Get)
		api.Delete("/classifications/:customer_id/:thread_id", h.Classifications.Delete)
	}

	api.Get("/health", h.Health.Health)
	api.Get("/ready", h.Health.Ready)
	api.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	if h.WebSocket != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/search", websocket.New(h.WebSocket.HandleConnection))
	}
}
