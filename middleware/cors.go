package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const preflightMaxAge = "3600"

// CORS answers cross-origin requests for the public endpoints. Subscribe
// forms post from arbitrary site frontends, so with no origins configured
// every origin is allowed; passing origins restricts the API to them.
func CORS(origins ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.TrimSuffix(o, "/")] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		origin := c.Get(fiber.HeaderOrigin)
		if len(allowed) == 0 {
			c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
		} else if _, ok := allowed[origin]; ok {
			c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
			c.Set(fiber.HeaderVary, fiber.HeaderOrigin)
		}

		if c.Method() != fiber.MethodOptions {
			return c.Next()
		}

		c.Set(fiber.HeaderAccessControlAllowMethods, "GET,POST,PUT,DELETE,OPTIONS")
		c.Set(fiber.HeaderAccessControlAllowHeaders, "Origin,Content-Type,Accept,Authorization")
		c.Set(fiber.HeaderAccessControlMaxAge, preflightMaxAge)
		return c.SendStatus(fiber.StatusNoContent)
	}
}
