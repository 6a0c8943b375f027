package middlewares

import (
	"context"
	"time"

	"transcoding_service/pkg/encrypt"
	errprocess "transcoding_service/pkg/err"
	"transcoding_service/pkg/logger"
	t_token "transcoding_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	//QueryToken token in query name, EventSource can not set headers
	QueryToken = "auth"

	//CookieToken token in cookie name
	CookieToken = "auth_token"

	//TokenIdentity verified identity, set c.locals name
	TokenIdentity = "identity"

	verifyTimeout = 5 * time.Second
)

// TokenAuth verify bearer token, any failure is 403
func TokenAuth(verifier t_token.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		bearer := c.Get(fiber.HeaderAuthorization)
		if bearer == "" {
			if q := c.Query(QueryToken); q != "" {
				bearer = "Bearer " + q
			} else if ck := c.Cookies(CookieToken); ck != "" {
				bearer = "Bearer " + ck
			}
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), verifyTimeout)
		defer cancel()

		id, err := verifier.Verify(ctx, bearer)
		if err != nil {
			logger.Log.Warn("token verification failed",
				zap.String("path", c.Path()),
				zap.String("token", encrypt.Fingerprint(bearer)),
				zap.Error(err),
			)
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		c.Locals(TokenIdentity, id)
		return c.Next()
	}
}

// GetIdentity read identity set by TokenAuth
func GetIdentity(c *fiber.Ctx) (*t_token.Identity, error) {
	id, ok := c.Locals(TokenIdentity).(*t_token.Identity)
	if !ok || id == nil {
		return nil, errprocess.New(errprocess.KindAuth, "middlewares.GetIdentity", "missing identity")
	}
	return id, nil
}
