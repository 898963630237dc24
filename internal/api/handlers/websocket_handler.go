package handlers

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/retail-agent/backend/internal/search"
	"github.com/retail-agent/backend/pkg/logger"
)

type WebSocketHandler struct {
	service *search.Service
	timeout time.Duration
}

func NewWebSocketHandler(service *search.Service, timeout time.Duration) *WebSocketHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebSocketHandler{
		service: service,
		timeout: timeout,
	}
}

type searchMessage struct {
	Type string `json:"type"`
	search.Request
}

// HandleConnection serves search requests from the chat widget. Every result
// item is sent as its own message followed by a completion summary.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg searchMessage
		if err := c.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		if msg.Type != "search" {
			if err := h.sendError(c, "unsupported message type"); err != nil {
				break
			}
			continue
		}

		if err := h.streamResults(c, msg.Request); err != nil {
			logger.Error("Failed to stream search results", zap.Error(err))
			break
		}
	}
}

func (h *WebSocketHandler) streamResults(c *websocket.Conn, req search.Request) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := c.WriteJSON(map[string]any{"type": "status", "content": "Searching..."}); err != nil {
		return err
	}

	resp := h.service.Search(ctx, req)

	for _, item := range resp.Items {
		if err := c.WriteJSON(map[string]any{"type": "item", "content": item}); err != nil {
			return err
		}
	}

	return c.WriteJSON(map[string]any{
		"type":     "complete",
		"count":    resp.Count,
		"total":    resp.Total,
		"fallback": resp.Fallback,
		"filtered": resp.Filtered,
		"error":    resp.Error,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, message string) error {
	return c.WriteJSON(map[string]any{
		"type":  "error",
		"error": message,
	})
}
