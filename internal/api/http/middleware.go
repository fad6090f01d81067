package http

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"github.com/spec-kit/chatdesk/internal/observability"
	apperrors "github.com/spec-kit/chatdesk/pkg/util/errorutil"
)

// retryAfterSeconds is advertised on RETRYABLE_CONFLICT responses.
const retryAfterSeconds = "1"

// RegisterMiddlewares attaches request ids, timeouts, error rendering and logging.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	app.Use(requestid.New())
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(errorHandlingMiddleware(logger, metrics))
	app.Use(observability.RequestLogger(logger, metrics))
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// errorHandlingMiddleware renders every error as {error:{code,message,details}}.
// Server-side failures are logged with the request id; client errors only at debug.
func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err == nil {
				return
			}

			domainErr := apperrors.ToDomainError(err)
			metrics.RecordError(c.Route().Path, c.Method(), domainErr.Code)

			body := fiber.Map{
				"code":    domainErr.Code,
				"message": domainErr.Message,
			}
			if len(domainErr.Details) > 0 {
				body["details"] = domainErr.Details
			}
			fields := []zap.Field{
				zap.String("request_id", requestID(c)),
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.String("code", domainErr.Code),
			}
			switch {
			case domainErr.HTTPStatus >= 500:
				logger.Error("request failed", append(fields, zap.Error(domainErr))...)
			default:
				logger.Debug("request rejected", append(fields, zap.String("reason", domainErr.Message))...)
			}
			if domainErr.Code == apperrors.CodeRetryableConflict {
				c.Set(fiber.HeaderRetryAfter, retryAfterSeconds)
			}
			c.Status(domainErr.HTTPStatus)
			_ = c.JSON(fiber.Map{"error": body})
			err = nil
		}()
		return c.Next()
	}
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals(requestid.ConfigDefault.ContextKey).(string); ok {
		return id
	}
	return c.GetRespHeader(fiber.HeaderXRequestID)
}
