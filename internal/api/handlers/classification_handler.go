package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/retail-agent/backend/internal/classification"
)

type ClassificationHandler struct {
	service *classification.Service
}

func NewClassificationHandler(service *classification.Service) *ClassificationHandler {
	return &ClassificationHandler{
		service: service,
	}
}

type setClassificationRequest struct {
	IsSale *bool `json:"is_sale" validate:"required"`
}

func (h *ClassificationHandler) Set(c *fiber.Ctx) error {
	var req setClassificationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, validationMessage(err))
	}

	sc, err := h.service.Set(c.UserContext(), c.Params("customer_id"), c.Params("thread_id"), *req.IsSale)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sc)
}

func (h *ClassificationHandler) Get(c *fiber.Ctx) error {
	sc, found, err := h.service.Get(c.UserContext(), c.Params("customer_id"), c.Params("thread_id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"customer_id": sc.CustomerID,
		"thread_id":   sc.ThreadID,
		"is_sale":     sc.IsSale,
		"classified":  found,
	})
}

func (h *ClassificationHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), c.Params("customer_id"), c.Params("thread_id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
