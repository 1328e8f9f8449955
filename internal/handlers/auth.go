package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"nighton/server/internal/middleware"
	"nighton/server/internal/models"
	"nighton/server/internal/store"
	"nighton/server/internal/utils"
)

// maxIDAttempts bounds account id regeneration on collisions
const maxIDAttempts = 5

// BootstrapRequest carries the identity provider token
type BootstrapRequest struct {
	IDToken string `json:"idToken"`
}

// RefreshRequest is accepted when the refresh cookie is not available
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Bootstrap exchanges an identity token for a session, creating the local
// account on first use
func (h *Handler) Bootstrap(c *fiber.Ctx) error {
	var req BootstrapRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}
	if req.IDToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "idToken is required",
		})
	}

	identity, err := h.Tokens.ParseIdentityToken(req.IDToken)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid identity token",
		})
	}

	status := fiber.StatusOK
	account, err := h.Accounts.GetAccountBySubject(c.Context(), identity.Subject)
	if errors.Is(err, store.ErrNotFound) {
		account, err = h.createAccount(c, identity)
		status = fiber.StatusCreated
	}
	if err != nil {
		h.logger().Error("bootstrap account failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to load account",
		})
	}

	if err := h.issueTokens(c, account); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to generate token",
		})
	}

	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data":    account,
	})
}

func (h *Handler) createAccount(c *fiber.Ctx, identity *utils.IdentityClaims) (models.Account, error) {
	// Generate account ID and regenerate on collision
	var accountID string
	for attempt := 0; ; attempt++ {
		if attempt == maxIDAttempts {
			return models.Account{}, errors.New("could not allocate a free account id")
		}
		id, err := utils.GenerateAccountID()
		if err != nil {
			return models.Account{}, err
		}
		exists, err := h.Accounts.AccountExists(c.Context(), id)
		if err != nil {
			return models.Account{}, err
		}
		if !exists {
			accountID = id
			break
		}
	}

	account := models.Account{
		AccountID:   accountID,
		AuthSubject: identity.Subject,
		Name:        strings.TrimSpace(identity.Name),
	}
	if account.Name == "" {
		account.Name = accountID
	}
	if identity.Picture != "" {
		picture := identity.Picture
		account.AvatarURL = &picture
	}

	created, err := h.Accounts.CreateAccount(c.Context(), account)
	if err != nil {
		return models.Account{}, err
	}
	h.logger().Info("account created", zap.String("account", created.AccountID))
	return created, nil
}

func (h *Handler) issueTokens(c *fiber.Ctx, account models.Account) error {
	token, err := h.Tokens.GenerateToken(account.AccountID, account.AuthSubject)
	if err != nil {
		return err
	}
	refreshToken, err := h.Tokens.GenerateRefreshToken(account.AccountID, account.AuthSubject)
	if err != nil {
		return err
	}

	// Set HTTP-Only Cookie for access token
	c.Cookie(&fiber.Cookie{
		Name:     "token",
		Value:    token,
		HTTPOnly: true,
		Secure:   h.SecureCookies,
		SameSite: "Lax",
		MaxAge:   int(utils.AccessTokenTTL.Seconds()),
	})

	// Set HTTP-Only Cookie for refresh token
	c.Cookie(&fiber.Cookie{
		Name:     "refresh_token",
		Value:    refreshToken,
		HTTPOnly: true,
		Secure:   h.SecureCookies,
		SameSite: "Lax",
		MaxAge:   int(utils.RefreshTokenTTL.Seconds()),
	})
	return nil
}

// GetMe returns the authenticated account
func (h *Handler) GetMe(c *fiber.Ctx) error {
	account, err := h.Accounts.GetAccount(c.Context(), middleware.GetAccountID(c))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Account not found",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Database error",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    account,
	})
}

// RefreshToken rotates both tokens using a valid refresh token
func (h *Handler) RefreshToken(c *fiber.Ctx) error {
	refreshToken := c.Cookies("refresh_token")
	if refreshToken == "" {
		var req RefreshRequest
		if err := c.BodyParser(&req); err == nil {
			refreshToken = req.RefreshToken
		}
	}
	if refreshToken == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "Refresh token not found",
		})
	}

	claims, err := h.Tokens.ValidateToken(refreshToken)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid refresh token",
		})
	}
	if claims.Type != utils.TokenTypeRefresh {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid token type",
		})
	}

	account, err := h.Accounts.GetAccount(c.Context(), claims.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "Account no longer exists",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Database error",
		})
	}

	if err := h.issueTokens(c, account); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to generate token",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Token refreshed successfully",
	})
}

// Logout clears the auth cookies
func (h *Handler) Logout(c *fiber.Ctx) error {
	for _, name := range []string{"token", "refresh_token"} {
		c.Cookie(&fiber.Cookie{
			Name:     name,
			Value:    "",
			HTTPOnly: true,
			Secure:   h.SecureCookies,
			SameSite: "Lax",
			MaxAge:   -1, // Delete cookie
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Logged out successfully",
	})
}
