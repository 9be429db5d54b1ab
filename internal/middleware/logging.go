package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/strukta/bastion/internal/logger"
)

// RequestIDKey is the context key for the request correlation ID.
const RequestIDKey = "request_id"

// LoggerKey is the context key for the request-scoped logger.
const LoggerKey = "logger"

// RequestLogging logs every request and response with a correlation ID.
func RequestLogging(log logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := uuid.NewString()
		c.Locals(RequestIDKey, requestID)

		requestLogger := log.With(logger.String(RequestIDKey, requestID))
		c.Locals(LoggerKey, requestLogger)

		start := time.Now()
		requestLogger.Debug("request started",
			logger.String("method", c.Method()),
			logger.String("path", c.Path()),
			logger.String("ip", c.IP()),
		)

		err := c.Next()

		status := c.Response().StatusCode()
		fields := []logger.Field{
			logger.String("method", c.Method()),
			logger.String("path", c.Path()),
			logger.Int("status", status),
			logger.Duration("duration", time.Since(start)),
		}

		switch {
		case status >= 500:
			requestLogger.Error("request completed", fields...)
		case status >= 400:
			requestLogger.Warn("request completed", fields...)
		default:
			requestLogger.Info("request completed", fields...)
		}

		return err
	}
}

// GetRequestID returns the correlation ID from the context.
func GetRequestID(c *fiber.Ctx) string {
	if requestID, ok := c.Locals(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetLogger returns the request-scoped logger from the context.
func GetLogger(c *fiber.Ctx) logger.Logger {
	if log, ok := c.Locals(LoggerKey).(logger.Logger); ok {
		return log
	}
	return logger.GetDefault()
}
