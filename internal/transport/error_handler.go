package transport

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ErrorHandler renders handler errors as {"error": ...}. Unmapped errors
// become 500s and keep their detail out of the response body.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "internal server error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		}
		if id := requestID(c); id != "" {
			fields = append(fields, zap.String("requestId", id))
		}

		if code >= fiber.StatusInternalServerError {
			logger.Error("request error", fields...)
		} else {
			logger.Warn("request error", fields...)
		}

		return c.Status(code).JSON(fiber.Map{
			"error": message,
		})
	}
}

func requestID(c *fiber.Ctx) string {
	if value, ok := c.Locals("requestid").(string); ok && value != "" {
		return value
	}
	return strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
}
