package routes

import (
	"nighton/server/internal/handlers"
	"nighton/server/internal/middleware"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, h *handlers.Handler) {
	// API v1 group
	api := app.Group("/api/v1")
	auth := middleware.Auth(h.Tokens)

	// Health check (public)
	api.Get("/health", h.Health)

	// Auth routes
	authRoutes := api.Group("/auth")
	authRoutes.Post("/bootstrap", middleware.StrictRateLimiter(), h.Bootstrap)
	authRoutes.Post("/refresh", middleware.StrictRateLimiter(), h.RefreshToken)
	authRoutes.Post("/logout", auth, h.Logout)
	authRoutes.Get("/me", auth, h.GetMe)

	// Contact routes (protected)
	contacts := api.Group("/contacts", auth)
	contacts.Get("/", middleware.RelaxedRateLimiter(), h.GetContacts)
	contacts.Put("/:accountId/relation", middleware.ModerateRateLimiter(), h.SetRelation)

	// Self presence routes (protected)
	presence := api.Group("/presence", auth)
	presence.Get("/", h.GetPresence)
	presence.Put("/", middleware.ModerateRateLimiter(), h.UpdatePresence)
	presence.Get("/defaults", h.GetDefaults)
	presence.Put("/defaults", middleware.ModerateRateLimiter(), h.UpdateDefaults)

	api.Post("/sync/wake", auth, middleware.RelaxedRateLimiter(), h.Wake)

	// Friend request routes (protected)
	friends := api.Group("/friends", auth)
	friends.Post("/requests", middleware.ModerateRateLimiter(), h.SendFriendRequest)
	friends.Get("/requests/sent", h.GetSentRequests)
	friends.Get("/requests/received", h.GetReceivedRequests)
	friends.Get("/requests/rejected", h.GetRejectedRequests)
	friends.Post("/requests/:id/cancel", h.CancelFriendRequest)
	friends.Post("/requests/:id/approve", h.ApproveFriendRequest)
	friends.Post("/requests/:id/reject", h.RejectFriendRequest)

	// WebSocket route (protected)
	api.Get("/ws", auth, handlers.WebSocketUpgrade, websocket.New(h.WebSocketHandler))

	// WebSocket stats (protected, for debugging)
	api.Get("/ws/stats", auth, h.GetWebSocketStats)
}
