package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"nighton/server/internal/utils"
)

func newAuthApp(tokens *utils.TokenManager) *fiber.App {
	app := fiber.New()
	app.Get("/me", Auth(tokens), func(c *fiber.Ctx) error {
		return c.SendString(GetAccountID(c))
	})
	return app
}

func TestAuth(t *testing.T) {
	tokens := utils.NewTokenManager("secret", "")
	access, _ := tokens.GenerateToken("K7QX2MPA", "sub")
	refresh, _ := tokens.GenerateRefreshToken("K7QX2MPA", "sub")
	app := newAuthApp(tokens)

	tests := []struct {
		name   string
		header string
		cookie string
		want   int
	}{
		{"no token", "", "", fiber.StatusUnauthorized},
		{"bearer", "Bearer " + access, "", fiber.StatusOK},
		{"lower-case bearer", "bearer " + access, "", fiber.StatusOK},
		{"cookie", "", access, fiber.StatusOK},
		{"refresh token rejected", "Bearer " + refresh, "", fiber.StatusUnauthorized},
		{"garbage", "Bearer nope", "", fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.Header.Set("Cookie", "token="+tt.cookie)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
