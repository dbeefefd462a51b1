package middleware

import (
	"errors"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mailsift/pkg/apperr"
)

var accessLog = zerolog.New(os.Stdout).With().Timestamp().Str("stream", "access").Logger()

// RequestLogger tags every request with an ID and writes one access log line
// per request.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get(fiber.HeaderXRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Locals("request_id", requestID)
		c.Set(fiber.HeaderXRequestID, requestID)

		start := time.Now()
		err := c.Next()

		// The error handler has not shaped the response yet, so derive the
		// status from the error itself.
		status := c.Response().StatusCode()
		if err != nil {
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				status = fiberErr.Code
			} else {
				status = apperr.GetHTTPStatus(err)
			}
		}
		event := accessLog.Info()
		if status >= 500 {
			event = accessLog.Error()
		} else if status >= 400 {
			event = accessLog.Warn()
		}
		event.
			Str("request_id", requestID).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("ip", c.IP()).
			Msg("request")

		return err
	}
}
