// Package http contains the Fiber HTTP handlers.
package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"mailsift/pkg/apperr"
)

// ParseAccountID extracts and validates the account ID path parameter.
func ParseAccountID(c *fiber.Ctx) (uuid.UUID, error) {
	raw := c.Params("accountID")
	if raw == "" {
		return uuid.Nil, apperr.MissingField("accountID")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid account ID")
	}
	return id, nil
}
