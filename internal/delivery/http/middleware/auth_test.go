package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"signflow/internal/config"
)

func newApp() *fiber.App {
	cfg := &config.Config{}
	cfg.Auth.APIKeys = []config.APIKey{{Key: "k_live", BaseID: "base_1", Actor: "ops"}}

	app := fiber.New()
	app.Use(APIKeyAuth(cfg, zap.NewNop()))
	app.Get("/whoami", func(c *fiber.Ctx) error {
		auth := AuthFrom(c)
		return c.SendString(auth.BaseID + "/" + auth.ActorID)
	})
	return app
}

func TestAPIKeyAuth(t *testing.T) {
	app := newApp()
	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", fiber.StatusUnauthorized},
		{"wrong scheme", "Basic k_live", fiber.StatusUnauthorized},
		{"unknown key", "Bearer nope", fiber.StatusUnauthorized},
		{"valid", "Bearer k_live", fiber.StatusOK},
		{"case insensitive scheme", "bearer k_live", fiber.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/whoami", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.StatusCode)
			}
		})
	}
}
