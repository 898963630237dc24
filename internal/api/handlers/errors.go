package handlers

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/retail-agent/backend/internal/catalog"
	"github.com/retail-agent/backend/pkg/logger"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// respondError maps the catalog error taxonomy onto HTTP statuses.
func respondError(c *fiber.Ctx, err error) error {
	return respondErrorWith(c, err, nil)
}

// respondErrorWith is respondError with extra body fields, such as the part
// of a write that completed before the failure.
func respondErrorWith(c *fiber.Ctx, err error, fields fiber.Map) error {
	var (
		status  int
		message string
	)
	switch {
	case errors.Is(err, catalog.ErrValidation):
		status, message = fiber.StatusBadRequest, err.Error()
	case errors.Is(err, catalog.ErrNotFound):
		status, message = fiber.StatusNotFound, err.Error()
	case errors.Is(err, catalog.ErrStoreUnavailable), errors.Is(err, catalog.ErrModelUnavailable):
		status, message = fiber.StatusServiceUnavailable, "Service temporarily unavailable"
	default:
		status, message = fiber.StatusInternalServerError, "Internal server error"
	}

	if status >= fiber.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}

	body := fiber.Map{"error": message}
	for k, v := range fields {
		body[k] = v
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": message,
	})
}

// validationMessage flattens validator errors into one line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fe.Field() + " failed " + fe.Tag() + "=" + fe.Param()
	}
	return fe.Field() + " failed " + fe.Tag()
}
