package middlewares

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"transcoding_service/pkg/logger"
	t_token "transcoding_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(TokenAuth(t_token.NewHMACVerifier("secret", "")))
	app.Get("/me", func(c *fiber.Ctx) error {
		id, err := GetIdentity(c)
		if err != nil {
			return err
		}
		return c.SendString(id.Username)
	})
	return app
}

func TestTokenAuth(t *testing.T) {
	logger.SetNewNop()
	app := newApp()
	signed, err := t_token.GenerateJWT([]byte("secret"), "erin", "", time.Minute)
	require.NoError(t, err)

	t.Run("authorization header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/me", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "erin", string(body))
	})

	t.Run("query token", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/me?auth="+signed, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	t.Run("missing token is forbidden", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/me", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	})

	t.Run("bad token is forbidden", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/me", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	})
}
