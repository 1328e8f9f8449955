package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimiter creates a rate limiting middleware
func RateLimiter(max int, expiration time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			// Use account ID if authenticated, otherwise use IP
			if accountID := GetAccountID(c); accountID != "" {
				return accountID
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "Too many requests, please try again later",
			})
		},
	})
}

// StrictRateLimiter for identity bootstrap and refresh
func StrictRateLimiter() fiber.Handler {
	return RateLimiter(10, 15*time.Minute)
}

// ModerateRateLimiter for writes such as presence updates and friend requests
func ModerateRateLimiter() fiber.Handler {
	return RateLimiter(30, 1*time.Minute)
}

// RelaxedRateLimiter for reads and foreground wake-ups
func RelaxedRateLimiter() fiber.Handler {
	return RateLimiter(120, 1*time.Minute)
}
