package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"nighton/server/internal/middleware"
	"nighton/server/internal/presence"
	ws "nighton/server/internal/websocket"
)

// WebSocketUpgrade checks if the request should be upgraded to WebSocket
func WebSocketUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("filter", c.Query("status"))
		return c.Next()
	}

	return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
		"success": false,
		"error":   "WebSocket upgrade required",
	})
}

// WebSocketHandler streams the caller's contact list
func (h *Handler) WebSocketHandler(c *websocket.Conn) {
	accountID, _ := c.Locals("accountID").(string)
	filter, _ := c.Locals("filter").(string)

	client := ws.NewClient(accountID, c, h.Hub, presence.ParseStatusFilter(filter))
	if err := h.Hub.Join(client); err != nil {
		h.logger().Warn("websocket rejected", zap.String("viewer", accountID), zap.Error(err))
		c.Close()
		return
	}

	// Start read and write pumps in separate goroutines
	go client.WritePump()
	client.ReadPump() // This blocks until connection closes
}

// Health reports liveness and session statistics
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"status":   "ok",
			"sessions": h.Hub.SessionCount(),
			"clients":  h.Hub.ClientCount(),
		},
	})
}

// GetWebSocketStats returns the caller's own connection state
func (h *Handler) GetWebSocketStats(c *fiber.Ctx) error {
	roster := h.Hub.Roster(middleware.GetAccountID(c))
	data := fiber.Map{"active": roster != nil}
	if roster != nil {
		data["version"] = roster.Version()
		data["contacts"] = roster.Len()
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}
