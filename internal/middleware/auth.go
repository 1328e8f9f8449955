package middleware

import (
	"strings"

	"nighton/server/internal/utils"

	"github.com/gofiber/fiber/v2"
)

// Auth validates the session token from the Authorization header or the
// token cookie
func Auth(tokens *utils.TokenManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := bearerToken(c.Get(fiber.HeaderAuthorization))
		if tokenString == "" {
			tokenString = c.Cookies("token")
		}
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized - No token provided",
			})
		}

		claims, err := tokens.ValidateToken(tokenString)
		if err != nil || claims.Type != utils.TokenTypeAccess || claims.AccountID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized - Invalid token",
			})
		}

		c.Locals("accountID", claims.AccountID)
		c.Locals("subject", claims.Subject)

		return c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// GetAccountID gets the authenticated account ID from context
func GetAccountID(c *fiber.Ctx) string {
	accountID, ok := c.Locals("accountID").(string)
	if !ok {
		return ""
	}
	return accountID
}

// GetSubject gets the identity provider subject from context
func GetSubject(c *fiber.Ctx) string {
	subject, ok := c.Locals("subject").(string)
	if !ok {
		return ""
	}
	return subject
}
