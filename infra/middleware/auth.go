package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"mailsift/pkg/apperr"
)

// JWTAuth validates a Bearer token signed with the shared HS256 secret.
// Protected routes run behind it; the OAuth and health routes do not.
func JWTAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return apperr.Unauthorized("missing authorization header")
		}

		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return apperr.Unauthorized("malformed authorization header")
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			return apperr.Unauthorized("invalid token")
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if sub, _ := claims["sub"].(string); sub != "" {
				c.Locals("subject", sub)
			}
		}
		return c.Next()
	}
}
