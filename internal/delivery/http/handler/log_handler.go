package handler

import (
	"github.com/gofiber/fiber/v2"

	"signflow/internal/delivery/http/middleware"
	"signflow/internal/domain/apperror"
	"signflow/internal/domain/entity"
	"signflow/internal/domain/repository"
	"signflow/internal/usecase"
)

const maxLogLimit = 200

// LogHandler exposes the caller's outbound call log (event deliveries, record updates, notifications).
type LogHandler struct {
	logRepo  repository.APILogRepository
	requests usecase.RequestUsecase
}

func NewLogHandler(logRepo repository.APILogRepository, requests usecase.RequestUsecase) *LogHandler {
	return &LogHandler{
		logRepo:  logRepo,
		requests: requests,
	}
}

// GetLogs returns the tenant's most recent logs
func (h *LogHandler) GetLogs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > maxLogLimit {
		limit = maxLogLimit
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	logs, err := h.logRepo.List(c.UserContext(), middleware.AuthFrom(c).BaseID, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(entity.NewListResponse(logs, &entity.Meta{
		Limit:  limit,
		Offset: offset,
		Count:  len(logs),
	}, "Logs retrieved successfully"))
}

// SearchLogs returns the logs of one signature request owned by the caller
func (h *LogHandler) SearchLogs(c *fiber.Ctx) error {
	requestID := c.Query("request_id")
	if requestID == "" {
		return apperror.NewValidation("request_id", "parameter required")
	}

	auth := middleware.AuthFrom(c)
	if _, err := h.requests.Get(c.UserContext(), auth, requestID); err != nil {
		return err
	}

	logs, err := h.logRepo.FindByRequestID(c.UserContext(), auth.BaseID, requestID)
	if err != nil {
		return err
	}
	return c.JSON(entity.NewSuccessResponse(logs, "Logs retrieved successfully"))
}
