package router

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"signflow/internal/domain/apperror"
	"signflow/internal/domain/entity"
)

// statusFor maps an error onto its HTTP status and envelope code.
func statusFor(err error) (int, string) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, "HTTP_ERROR"
	}

	var coded apperror.Coded
	if !errors.As(err, &coded) {
		return fiber.StatusInternalServerError, "INTERNAL_ERROR"
	}

	code := coded.Code()
	switch coded.Kind() {
	case apperror.KindValidation:
		return fiber.StatusBadRequest, code
	case apperror.KindPrecondition:
		var expired *apperror.RequestExpiredError
		if errors.As(err, &expired) {
			return fiber.StatusGone, code
		}
		var invalid *apperror.InvalidTokenError
		if errors.As(err, &invalid) {
			return fiber.StatusNotFound, code
		}
		return fiber.StatusConflict, code
	case apperror.KindIntegrity:
		return fiber.StatusUnprocessableEntity, code
	case apperror.KindNotFound:
		return fiber.StatusNotFound, code
	case apperror.KindTransient:
		return fiber.StatusServiceUnavailable, code
	}
	return fiber.StatusInternalServerError, "INTERNAL_ERROR"
}

func newErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, code := statusFor(err)

		message := err.Error()
		if status == fiber.StatusInternalServerError {
			logger.Error("Unhandled request error",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
			message = "Internal server error"
		} else {
			logger.Debug("Request rejected",
				zap.String("path", c.Path()),
				zap.Int("status", status),
				zap.String("code", code),
				zap.Error(err),
			)
		}

		return c.Status(status).JSON(entity.NewErrorResponse(code, message))
	}
}
