package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/retail-agent/backend/internal/knowledge"
	"github.com/retail-agent/backend/internal/storage/models"
)

type DocumentHandler struct {
	processor *knowledge.Processor
}

func NewDocumentHandler(processor *knowledge.Processor) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
	}
}

type uploadDocumentRequest struct {
	Source  string `json:"source" validate:"required,max=512"`
	Title   string `json:"title" validate:"max=512"`
	Content string `json:"content" validate:"required"`
	Format  string `json:"format" validate:"omitempty,oneof=text html"`
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req uploadDocumentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, validationMessage(err))
	}

	tenantID := c.Params("customer_id")
	var (
		src *models.KnowledgeSource
		err error
	)
	if req.Format == "html" {
		src, err = h.processor.IngestHTML(c.UserContext(), tenantID, req.Source, req.Content)
	} else {
		src, err = h.processor.IngestText(c.UserContext(), tenantID, req.Source, req.Title, req.Content)
	}
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(src)
}

func (h *DocumentHandler) ListSources(c *fiber.Ctx) error {
	sources, err := h.processor.Sources(c.UserContext(), c.Params("customer_id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"sources": sources,
	})
}

type searchDocumentsRequest struct {
	Query string `json:"query" validate:"required,max=2000"`
	TopK  int    `json:"top_k" validate:"omitempty,min=1,max=50"`
}

func (h *DocumentHandler) SearchDocuments(c *fiber.Ctx) error {
	var req searchDocumentsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, validationMessage(err))
	}

	results, err := h.processor.Retrieve(c.UserContext(), c.Params("customer_id"), req.Query, req.TopK)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"results": results,
		"count":   len(results),
	})
}

// DeleteDocuments removes one source with ?source=, otherwise all of the
// tenant's documents.
func (h *DocumentHandler) DeleteDocuments(c *fiber.Ctx) error {
	tenantID := c.Params("customer_id")

	var (
		n   int
		err error
	)
	if source := c.Query("source"); source != "" {
		n, err = h.processor.DeleteSource(c.UserContext(), tenantID, source)
	} else {
		n, err = h.processor.DeleteTenant(c.UserContext(), tenantID)
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"deleted": n,
	})
}
