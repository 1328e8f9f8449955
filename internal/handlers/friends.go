package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"nighton/server/internal/middleware"
	"nighton/server/internal/models"
	"nighton/server/internal/store"
)

// FriendRequestBody names the account to connect with
type FriendRequestBody struct {
	AccountID string `json:"accountId"`
}

// ApproveRequestBody carries the relationship chosen by the receiver
type ApproveRequestBody struct {
	Relationship string `json:"relationship"`
}

// friendError maps store errors to responses
func friendError(c *fiber.Ctx, err error) error {
	status, msg := fiber.StatusInternalServerError, "Database error"
	switch {
	case errors.Is(err, store.ErrNotFound):
		status, msg = fiber.StatusNotFound, "Not found"
	case errors.Is(err, store.ErrSelfRequest):
		status, msg = fiber.StatusBadRequest, "Cannot send a request to yourself"
	case errors.Is(err, store.ErrAlreadyFriends):
		status, msg = fiber.StatusConflict, "Already connected"
	case errors.Is(err, store.ErrAlreadyRequested):
		status, msg = fiber.StatusConflict, "Request already sent"
	case errors.Is(err, store.ErrNotAllowed):
		status, msg = fiber.StatusForbidden, "Not allowed"
	}
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   msg,
	})
}

// SendFriendRequest asks another account to connect
func (h *Handler) SendFriendRequest(c *fiber.Ctx) error {
	var req FriendRequestBody
	if err := c.BodyParser(&req); err != nil || req.AccountID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "accountId is required",
		})
	}

	sent, err := h.Friends.SendRequest(c.Context(), middleware.GetAccountID(c), req.AccountID)
	if err != nil {
		return friendError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    sent,
	})
}

// CancelFriendRequest withdraws a pending request sent by the caller
func (h *Handler) CancelFriendRequest(c *fiber.Ctx) error {
	if err := h.Friends.CancelRequest(c.Context(), middleware.GetAccountID(c), c.Params("id")); err != nil {
		return friendError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Request cancelled",
	})
}

// ApproveFriendRequest accepts a pending request and wakes both sides so
// the new contact shows up without waiting for the next poll
func (h *Handler) ApproveFriendRequest(c *fiber.Ctx) error {
	// the body is optional; an empty one approves as COMMUNITY
	var body ApproveRequestBody
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "Invalid request body",
			})
		}
	}

	relation := models.ScopeCommunity
	if body.Relationship != "" {
		scope, ok := models.ParseScope(body.Relationship)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "Invalid relationship",
			})
		}
		relation = scope
	}

	accountID := middleware.GetAccountID(c)
	id := c.Params("id")
	req, err := h.Friends.GetRequest(c.Context(), id)
	if err != nil {
		return friendError(c, err)
	}
	if err := h.Friends.ApproveRequest(c.Context(), accountID, id, relation); err != nil {
		return friendError(c, err)
	}

	h.Hub.Wake(accountID)
	h.Hub.Wake(req.Peer(accountID))
	h.logger().Info("friend request approved",
		zap.String("account", accountID),
		zap.String("peer", req.Peer(accountID)),
	)

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Request approved",
	})
}

// RejectFriendRequest declines a pending request. The requester keeps
// seeing it as sent.
func (h *Handler) RejectFriendRequest(c *fiber.Ctx) error {
	if err := h.Friends.RejectRequest(c.Context(), middleware.GetAccountID(c), c.Params("id")); err != nil {
		return friendError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Request rejected",
	})
}

// GetSentRequests lists requests sent by the caller
func (h *Handler) GetSentRequests(c *fiber.Ctx) error {
	reqs, err := h.Friends.SentRequests(c.Context(), middleware.GetAccountID(c))
	return requestList(c, reqs, err)
}

// GetReceivedRequests lists pending requests addressed to the caller
func (h *Handler) GetReceivedRequests(c *fiber.Ctx) error {
	reqs, err := h.Friends.ReceivedRequests(c.Context(), middleware.GetAccountID(c))
	return requestList(c, reqs, err)
}

// GetRejectedRequests lists requests the caller rejected
func (h *Handler) GetRejectedRequests(c *fiber.Ctx) error {
	reqs, err := h.Friends.RejectedRequests(c.Context(), middleware.GetAccountID(c))
	return requestList(c, reqs, err)
}

func requestList(c *fiber.Ctx, reqs []models.FriendRequest, err error) error {
	if err != nil {
		return friendError(c, err)
	}
	if reqs == nil {
		reqs = []models.FriendRequest{}
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    reqs,
	})
}
