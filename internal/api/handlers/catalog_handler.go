package handlers

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/retail-agent/backend/internal/catalog"
	"github.com/retail-agent/backend/internal/ingestion"
	"github.com/retail-agent/backend/internal/store"
)

const (
	defaultListSize = 50
	maxListSize     = 1000
	maxBulkEntries  = 10000
)

type CatalogHandler struct {
	store    *store.Store
	pipeline *ingestion.Pipeline
}

func NewCatalogHandler(s *store.Store, pipeline *ingestion.Pipeline) *CatalogHandler {
	return &CatalogHandler{
		store:    s,
		pipeline: pipeline,
	}
}

func kindParam(c *fiber.Ctx) (catalog.Kind, *catalog.Schema, error) {
	kind, err := catalog.ParseKind(c.Params("kind"))
	if err != nil {
		return 0, nil, err
	}
	return kind, catalog.SchemaFor(kind), nil
}

// Upload replaces every entry of the tenant with the rows of the file.
func (h *CatalogHandler) Upload(c *fiber.Ctx) error {
	return h.ingest(c, ingestion.ModeReplace)
}

// Insert adds the rows of the file to the tenant's entries.
func (h *CatalogHandler) Insert(c *fiber.Ctx) error {
	return h.ingest(c, ingestion.ModeAppend)
}

func (h *CatalogHandler) ingest(c *fiber.Ctx, mode ingestion.Mode) error {
	kind, _, err := kindParam(c)
	if err != nil {
		return respondError(c, err)
	}

	header, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "Multipart field \"file\" is required")
	}
	f, err := header.Open()
	if err != nil {
		return badRequest(c, "Unreadable upload")
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return badRequest(c, "Unreadable upload")
	}

	result, err := h.pipeline.Ingest(c.UserContext(), kind, c.Params("customer_id"), header.Filename, content, mode)
	if err != nil {
		if catalog.IsClientError(err) {
			return respondError(c, err)
		}
		summary := ingestSummary(result, mode)
		summary["message"] = fmt.Sprintf("%s file only partially processed", kind)
		if mode == ingestion.ModeReplace {
			summary["message"] = fmt.Sprintf("%s replace did not complete and existing entries may be gone, retry the upload", kind)
		}
		return respondErrorWith(c, err, summary)
	}

	summary := ingestSummary(result, mode)
	summary["message"] = fmt.Sprintf("%s file processed", kind)
	return c.JSON(summary)
}

func ingestSummary(result ingestion.IngestResult, mode ingestion.Mode) fiber.Map {
	failed := result.Result.Failed
	if failed == nil {
		failed = []catalog.FailedItem{}
	}
	return fiber.Map{
		"mode":          mode,
		"rows":          result.Rows,
		"dropped":       result.Dropped,
		"success_count": result.Result.SuccessCount,
		"failed_items":  failed,
	}
}

func (h *CatalogHandler) CreateEntry(c *fiber.Ctx) error {
	kind, schema, err := kindParam(c)
	if err != nil {
		return respondError(c, err)
	}

	var body catalog.Entry
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}
	entry, err := schema.Conform(body, false)
	if err != nil {
		return respondError(c, err)
	}

	id := entry.String(schema.IDField)
	if id == "" {
		return respondError(c, catalog.NewValidationError(schema.IDField, "is required"))
	}

	result, err := h.store.UpsertOne(c.UserContext(), kind, c.Params("customer_id"), id, entry)
	if err != nil {
		return respondError(c, err)
	}

	status := fiber.StatusOK
	if result == catalog.Created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{
		"id":     id,
		"result": result.String(),
	})
}

// BulkCreate upserts a JSON list. Entries that do not fit the schema are
// reported as failed items next to store failures.
func (h *CatalogHandler) BulkCreate(c *fiber.Ctx) error {
	kind, schema, err := kindParam(c)
	if err != nil {
		return respondError(c, err)
	}

	var body []catalog.Entry
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Request body must be a JSON list of entries")
	}
	if err := validate.Var(body, fmt.Sprintf("required,min=1,max=%d", maxBulkEntries)); err != nil {
		return badRequest(c, fmt.Sprintf("Expected between 1 and %d entries", maxBulkEntries))
	}

	result := catalog.NewBulkResult()
	entries := make([]catalog.Entry, 0, len(body))
	positions := make([]int, 0, len(body))
	for i, raw := range body {
		entry, err := schema.Conform(raw, false)
		if err != nil {
			result.Fail(i, raw.String(schema.IDField), err.Error())
			continue
		}
		entries = append(entries, entry)
		positions = append(positions, i)
	}

	res, err := h.store.UpsertBulk(c.UserContext(), kind, c.Params("customer_id"), entries, schema.IDField)
	result.SuccessCount = res.SuccessCount
	for _, f := range res.Failed {
		f.Index = positions[f.Index]
		result.Failed = append(result.Failed, f)
	}
	sortFailed(result.Failed)
	if err != nil {
		return respondErrorWith(c, err, fiber.Map{
			"success_count": result.SuccessCount,
			"failed_items":  result.Failed,
		})
	}
	return c.JSON(result)
}

func (h *CatalogHandler) UpdateEntry(c *fiber.Ctx) error {
	kind, schema, err := kindParam(c)
	if err != nil {
		return respondError(c, err)
	}
	id := c.Params("id")

	var body catalog.Entry
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if v := body.String(schema.IDField); v != "" && v != id {
		return respondError(c, catalog.NewValidationError(schema.IDField, "cannot be changed"))
	}
	delete(body, schema.IDField)

	partial, err := schema.Conform(body, true)
	if err != nil {
		return respondError(c, err)
	}

	if err := h.store.Update(c.UserContext(), kind, c.Params("customer_id"), id, partial); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"id":     id,
		"result": "updated",
	})
}

func (h *CatalogHandler) GetEntry(c *fiber.Ctx) error {
	kind, _, err := kindParam(c)
	if err != nil {
		return respondError(c, err)
	}

	entry, err := h.store.Get(c.UserContext(), kind, c.Params("customer_id"), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(entry)
}

func (h *CatalogHandler) ListEntries(c *fiber.Ctx) error {
	kind, _, err := kindParam(c)
	if err != nil {
		return respondError(c, err)
	}

	from := c.QueryInt("from", 0)
	size := c.QueryInt("size", defaultListSize)
	if from < 0 || size < 1 || size > maxListSize {
		return badRequest(c, fmt.Sprintf("from must be >= 0 and size between 1 and %d", maxListSize))
	}

	hits, total, err := h.store.List(c.UserContext(), kind, c.Params("customer_id"), from, size)
	if err != nil {
		return respondError(c, err)
	}

	entries := make([]catalog.Entry, len(hits))
	for i, hit := range hits {
		entries[i] = hit.Source
	}
	return c.JSON(fiber.Map{
		"entries": entries,
		"total":   total,
		"from":    from,
		"size":    size,
	})
}

func (h *CatalogHandler) DeleteEntry(c *fiber.Ctx) error {
	kind, _, err := kindParam(c)
	if err != nil {
		return respondError(c, err)
	}

	if err := h.store.DeleteOne(c.UserContext(), kind, c.Params("customer_id"), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"deleted": 1,
	})
}

type deleteEntriesRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

// DeleteEntries removes the listed ids, or every entry of the tenant when
// called with ?all=true and no body.
func (h *CatalogHandler) DeleteEntries(c *fiber.Ctx) error {
	kind, _, err := kindParam(c)
	if err != nil {
		return respondError(c, err)
	}
	tenantID := c.Params("customer_id")

	if len(c.Body()) == 0 {
		if !c.QueryBool("all", false) {
			return badRequest(c, "Provide {\"ids\": [...]} or ?all=true")
		}
		n, err := h.store.DeleteAllForTenant(c.UserContext(), kind, tenantID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"deleted": n})
	}

	var req deleteEntriesRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, validationMessage(err))
	}
	for i, id := range req.IDs {
		req.IDs[i] = strings.TrimSpace(id)
	}

	n, err := h.store.DeleteByIDs(c.UserContext(), kind, tenantID, req.IDs, "")
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"deleted": n})
}

func sortFailed(items []catalog.FailedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Index < items[j].Index
	})
}
