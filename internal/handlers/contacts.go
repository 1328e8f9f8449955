package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"nighton/server/internal/middleware"
	"nighton/server/internal/models"
	"nighton/server/internal/presence"
)

// RelationRequest sets the viewer's relation scope toward a contact
type RelationRequest struct {
	Scope string `json:"scope"`
}

// acquireSession returns the caller's running session. The first request
// of a fresh session waits for one poll so the list is not empty.
func (h *Handler) acquireSession(c *fiber.Ctx) (*presence.Session, func(), error) {
	session, release, err := h.Hub.Acquire(middleware.GetAccountID(c))
	if err != nil {
		return nil, nil, err
	}
	if session.Reconciler.Roster().Version() == 0 {
		if _, err := session.Poller.PollOnce(c.Context()); err != nil {
			h.logger().Warn("initial poll failed", zap.String("viewer", session.ViewerID), zap.Error(err))
		}
	}
	return session, release, nil
}

// GetContacts returns the reconciled contact list, optionally filtered by
// status
func (h *Handler) GetContacts(c *fiber.Ctx) error {
	session, release, err := h.acquireSession(c)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"success": false,
			"error":   "Presence service unavailable",
		})
	}
	defer release()

	filter := presence.ParseStatusFilter(c.Query("status"))
	roster := session.Reconciler.Roster()

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"version":  roster.Version(),
			"filter":   filter,
			"contacts": roster.Sorted(filter),
		},
	})
}

// SetRelation changes how close the viewer considers a contact
func (h *Handler) SetRelation(c *fiber.Ctx) error {
	var req RelationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}
	scope, ok := models.ParseScope(req.Scope)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "scope must be PRIVATE, COMMUNITY or PUBLIC",
		})
	}

	session, release, err := h.acquireSession(c)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"success": false,
			"error":   "Presence service unavailable",
		})
	}
	defer release()

	contact, err := session.Reconciler.SetRelation(c.Context(), c.Params("accountId"), scope)
	if errors.Is(err, presence.ErrUnknownContact) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Contact not found",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to update relation",
		})
	}

	// the next poll re-evaluates visibility under the new relation
	session.Wake()

	return c.JSON(fiber.Map{
		"success": true,
		"data":    contact,
	})
}
