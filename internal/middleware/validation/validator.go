package validation

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxQueryLength      int
	MaxTermLength       int
	MaxTerms            int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

type searchBody struct {
	Terms   map[string]string `json:"terms"`
	Query   string            `json:"query"`
	History []string          `json:"history"`
}

// Middleware rejects unsupported content types and screens search criteria
// before they reach the handlers. Document bodies are screened only for
// content type since they legitimately carry markup.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 2000
	}
	if cfg.MaxTermLength == 0 {
		cfg.MaxTermLength = 256
	}
	if cfg.MaxTerms == 0 {
		cfg.MaxTerms = 20
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json", "multipart/form-data"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		method := c.Method()
		if method == fiber.MethodPost || method == fiber.MethodPut {
			contentType := c.Get(fiber.HeaderContentType)
			if contentType != "" && !allowed(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		if method == fiber.MethodPost && strings.HasPrefix(c.Path(), "/api/v1/search/") && len(c.Body()) > 0 {
			var body searchBody
			if err := json.Unmarshal(c.Body(), &body); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}
			if msg := checkSearch(body, cfg); msg != "" {
				cfg.Logger.Warn("Rejected search criteria",
					zap.String("ip", c.IP()),
					zap.String("path", c.Path()),
					zap.String("reason", msg),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": msg,
				})
			}
		}

		return c.Next()
	}
}

func checkSearch(body searchBody, cfg Config) string {
	if len(body.Query) > cfg.MaxQueryLength {
		return "Query exceeds maximum length"
	}
	if containsXSS(body.Query) {
		return "Invalid query content"
	}
	if len(body.Terms) > cfg.MaxTerms {
		return "Too many search criteria"
	}
	for _, value := range body.Terms {
		if len(value) > cfg.MaxTermLength {
			return "Search criterion exceeds maximum length"
		}
		if containsXSS(value) {
			return "Invalid search criterion"
		}
	}
	for _, turn := range body.History {
		if len(turn) > cfg.MaxQueryLength {
			return "History turn exceeds maximum length"
		}
	}
	return ""
}

func allowed(contentType string, types []string) bool {
	for _, t := range types {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}
