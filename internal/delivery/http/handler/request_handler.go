package handler

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"signflow/internal/delivery/http/middleware"
	"signflow/internal/domain/apperror"
	"signflow/internal/domain/entity"
	"signflow/internal/usecase"
)

type RequestHandler struct {
	requests   usecase.RequestUsecase
	completion usecase.CompletionUsecase
	logger     *zap.Logger
}

func NewRequestHandler(requests usecase.RequestUsecase, completion usecase.CompletionUsecase, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{
		requests:   requests,
		completion: completion,
		logger:     logger,
	}
}

func (h *RequestHandler) parse(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		h.logger.Warn("Failed to parse request body",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return apperror.NewValidation("body", "invalid request body")
	}
	return nil
}

// Create godoc
// @Summary Create a signature request
// @Description Creates a draft request. Access tokens are only returned in this response.
// @Tags requests
// @Accept json
// @Produce json
// @Param request body entity.CreateRequestInput true "Signature request"
// @Success 201 {object} entity.APIResponse
// @Failure 400 {object} entity.APIResponse
// @Router /api/v1/requests [post]
func (h *RequestHandler) Create(c *fiber.Ctx) error {
	var input entity.CreateRequestInput
	if err := h.parse(c, &input); err != nil {
		return err
	}

	created, err := h.requests.Create(c.UserContext(), middleware.AuthFrom(c), &input)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(
		entity.NewSuccessResponse(created, "Signature request created successfully"),
	)
}

// List godoc
// @Summary List signature requests of the caller's base
// @Tags requests
// @Produce json
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} entity.APIResponse
// @Router /api/v1/requests [get]
func (h *RequestHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)

	requests, err := h.requests.List(c.UserContext(), middleware.AuthFrom(c), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(entity.NewListResponse(requests, &entity.Meta{
		Limit:  limit,
		Offset: offset,
		Count:  len(requests),
	}, "Signature requests retrieved successfully"))
}

func (h *RequestHandler) Get(c *fiber.Ctx) error {
	req, err := h.requests.Get(c.UserContext(), middleware.AuthFrom(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(entity.NewSuccessResponse(req, "Signature request retrieved successfully"))
}

func (h *RequestHandler) Delete(c *fiber.Ctx) error {
	if err := h.requests.Delete(c.UserContext(), middleware.AuthFrom(c), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(entity.NewSuccessResponse(nil, "Signature request deleted successfully"))
}

// AddSigners godoc
// @Summary Add signers to a draft request
// @Tags requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param body body entity.AddSignersInput true "Signers and their fields"
// @Success 201 {object} entity.APIResponse
// @Router /api/v1/requests/{id}/signers [post]
func (h *RequestHandler) AddSigners(c *fiber.Ctx) error {
	var input entity.AddSignersInput
	if err := h.parse(c, &input); err != nil {
		return err
	}

	issued, err := h.requests.AddSigners(c.UserContext(), middleware.AuthFrom(c), c.Params("id"), &input)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(
		entity.NewSuccessResponse(issued, "Signers added successfully"),
	)
}

func (h *RequestHandler) AssignFields(c *fiber.Ctx) error {
	var input entity.AssignFieldsInput
	if err := h.parse(c, &input); err != nil {
		return err
	}

	fields, err := h.requests.AssignFields(c.UserContext(), middleware.AuthFrom(c), c.Params("id"), input.Fields)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(
		entity.NewSuccessResponse(fields, "Fields assigned successfully"),
	)
}

// Send godoc
// @Summary Dispatch a draft request to its signers
// @Tags requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} entity.APIResponse
// @Router /api/v1/requests/{id}/send [post]
func (h *RequestHandler) Send(c *fiber.Ctx) error {
	req, err := h.requests.Dispatch(c.UserContext(), middleware.AuthFrom(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(entity.NewSuccessResponse(req, "Signature request sent successfully"))
}

func (h *RequestHandler) Evaluate(c *fiber.Ctx) error {
	status, err := h.completion.EvaluateCompletion(c.UserContext(), middleware.AuthFrom(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(entity.NewSuccessResponse(fiber.Map{"status": status}, "Completion evaluated"))
}

func (h *RequestHandler) Expire(c *fiber.Ctx) error {
	req, err := h.completion.Expire(c.UserContext(), middleware.AuthFrom(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(entity.NewSuccessResponse(req, "Expiry evaluated"))
}

// Finalize retries the completion artifacts of a completed request.
func (h *RequestHandler) Finalize(c *fiber.Ctx) error {
	req, err := h.completion.Finalize(c.UserContext(), middleware.AuthFrom(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(entity.NewSuccessResponse(req, "Signature request finalized"))
}
