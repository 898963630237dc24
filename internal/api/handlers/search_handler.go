package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/retail-agent/backend/internal/catalog"
	"github.com/retail-agent/backend/internal/search"
)

type SearchHandler struct {
	service *search.Service
}

func NewSearchHandler(service *search.Service) *SearchHandler {
	return &SearchHandler{
		service: service,
	}
}

// Search answers with the formatted page. A store outage still answers 200
// with the error indicator item so the agent can relay it.
func (h *SearchHandler) Search(c *fiber.Ctx) error {
	kind, _, err := kindParam(c)
	if err != nil {
		return respondError(c, err)
	}

	var criteria search.Criteria
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&criteria); err != nil {
			return badRequest(c, "Invalid search criteria")
		}
	}

	resp := h.service.Search(c.UserContext(), search.Request{
		Kind:     kind,
		TenantID: c.Params("customer_id"),
		Criteria: criteria,
	})

	if errors.Is(resp.Err(), catalog.ErrValidation) {
		return c.Status(fiber.StatusBadRequest).JSON(resp)
	}
	return c.JSON(resp)
}
