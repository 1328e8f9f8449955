package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"nighton/server/internal/middleware"
	"nighton/server/internal/models"
	"nighton/server/internal/presence"
	"nighton/server/internal/store"
)

// PresenceRequest is the self presence form
type PresenceRequest struct {
	Status        string   `json:"status"`
	AvailableFrom string   `json:"availableFrom"`
	Message       string   `json:"message"`
	ShareScope    string   `json:"shareScope"`
	VisibleTo     []string `json:"visibleTo"`
}

// DefaultsRequest updates the saved presence defaults
type DefaultsRequest struct {
	DefaultStatus        string   `json:"defaultStatus"`
	DefaultAvailableFrom string   `json:"defaultAvailableFrom"`
	DefaultShareScope    string   `json:"defaultShareScope"`
	SharedWith           []string `json:"sharedWith"`
}

func parseStatus(raw string) (models.Status, bool) {
	switch models.Status(strings.ToUpper(strings.TrimSpace(raw))) {
	case models.StatusFree:
		return models.StatusFree, true
	case models.StatusBusy:
		return models.StatusBusy, true
	}
	return "", false
}

// parseOptionalScope treats an empty value as no restriction
func parseOptionalScope(raw string) (*models.Scope, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, true
	}
	scope, ok := models.ParseScope(raw)
	if !ok {
		return nil, false
	}
	return &scope, true
}

// GetPresence returns the self presence form prefilled from the stored
// row and the saved defaults
func (h *Handler) GetPresence(c *fiber.Ctx) error {
	accountID := middleware.GetAccountID(c)

	var row *models.PresenceRow
	stored, err := h.Accounts.GetPresence(c.Context(), accountID)
	switch {
	case err == nil:
		row = &stored
	case !errors.Is(err, store.ErrNotFound):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Database error",
		})
	}

	defaults, err := h.loadDefaults(c.Context(), accountID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Database error",
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

	return c.JSON(fiber.Map{
		"success": true,
		"data":    presence.FormDefaults(row, defaults, session.Reconciler.Roster()),
	})
}

// UpdatePresence publishes the viewer's own presence
func (h *Handler) UpdatePresence(c *fiber.Ctx) error {
	var req PresenceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	status, ok := parseStatus(req.Status)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "status must be FREE or BUSY",
		})
	}
	scope, ok := parseOptionalScope(req.ShareScope)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid share scope",
		})
	}

	session, release, err := h.acquireSession(c)
	if err != nil || session.Publisher == nil {
		if release != nil {
			release()
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"success": false,
			"error":   "Presence service unavailable",
		})
	}
	defer release()

	written, err := session.Publisher.Publish(c.Context(), models.SelfPresence{
		Status:        status,
		AvailableFrom: req.AvailableFrom,
		Message:       req.Message,
		ShareScope:    scope,
		VisibleTo:     req.VisibleTo,
	})
	if errors.Is(err, presence.ErrNoRecipients) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "None of the chosen contacts can see this share scope",
		})
	}
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Account not found",
		})
	}
	if err != nil {
		h.logger().Error("publish presence failed", zap.String("account", session.ViewerID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to update presence",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    written,
	})
}

// loadDefaults reads the saved defaults through the cache. Missing defaults
// are not an error.
func (h *Handler) loadDefaults(ctx context.Context, accountID string) (*models.PresenceDefaults, error) {
	if h.Cache != nil {
		cached, err := h.Cache.GetDefaults(ctx, accountID)
		if err != nil {
			h.logger().Warn("read cached defaults failed", zap.String("account", accountID), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	d, err := h.Settings.GetDefaults(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	h.cacheDefaults(ctx, d)
	return &d, nil
}

func (h *Handler) cacheDefaults(ctx context.Context, d models.PresenceDefaults) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.StoreDefaults(ctx, d); err != nil {
		h.logger().Warn("cache defaults failed", zap.String("account", d.AccountID), zap.Error(err))
	}
}

// GetDefaults returns the saved presence defaults, or null when none exist
func (h *Handler) GetDefaults(c *fiber.Ctx) error {
	defaults, err := h.loadDefaults(c.Context(), middleware.GetAccountID(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Database error",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    defaults,
	})
}

// UpdateDefaults saves the presence defaults
func (h *Handler) UpdateDefaults(c *fiber.Ctx) error {
	var req DefaultsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	status, ok := parseStatus(req.DefaultStatus)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "defaultStatus must be FREE or BUSY",
		})
	}
	scope, ok := parseOptionalScope(req.DefaultShareScope)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid share scope",
		})
	}
	from := models.NormalizeTime(req.DefaultAvailableFrom)
	if req.DefaultAvailableFrom != "" && from == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "defaultAvailableFrom must be HH:MM",
		})
	}

	accountID := middleware.GetAccountID(c)
	saved, err := h.Settings.UpsertDefaults(c.Context(), models.PresenceDefaults{
		AccountID:            accountID,
		DefaultStatus:        status,
		DefaultAvailableFrom: from,
		DefaultShareScope:    scope,
		SharedWith:           req.SharedWith,
	})
	if err != nil {
		if h.Cache != nil {
			_ = h.Cache.InvalidateDefaults(c.Context(), accountID)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to save defaults",
		})
	}
	h.cacheDefaults(c.Context(), saved)

	return c.JSON(fiber.Map{
		"success": true,
		"data":    saved,
	})
}

// Wake asks the caller's session for an immediate poll, e.g. when the app
// returns to the foreground
func (h *Handler) Wake(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"active": h.Hub.Wake(middleware.GetAccountID(c)),
		},
	})
}
