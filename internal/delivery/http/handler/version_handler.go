package handler

import (
	"github.com/gofiber/fiber/v2"

	"signflow/internal/delivery/http/middleware"
	"signflow/internal/domain/apperror"
	"signflow/internal/domain/entity"
	"signflow/internal/usecase"
)

type VersionHandler struct {
	versions usecase.VersionUsecase
}

func NewVersionHandler(versions usecase.VersionUsecase) *VersionHandler {
	return &VersionHandler{versions: versions}
}

func (h *VersionHandler) List(c *fiber.Ctx) error {
	versions, err := h.versions.List(c.UserContext(), middleware.AuthFrom(c), c.Params("documentId"))
	if err != nil {
		return err
	}
	return c.JSON(entity.NewSuccessResponse(versions, "Versions retrieved successfully"))
}

func (h *VersionHandler) Current(c *fiber.Ctx) error {
	version, err := h.versions.Current(c.UserContext(), middleware.AuthFrom(c), c.Params("documentId"))
	if err != nil {
		return err
	}
	return c.JSON(entity.NewSuccessResponse(version, "Current version retrieved successfully"))
}

func (h *VersionHandler) Create(c *fiber.Ctx) error {
	var input entity.CreateVersionRequest
	if err := c.BodyParser(&input); err != nil {
		return apperror.NewValidation("body", "invalid request body")
	}

	version, err := h.versions.Create(c.UserContext(), middleware.AuthFrom(c), c.Params("documentId"), &input)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(
		entity.NewSuccessResponse(version, "Version created successfully"),
	)
}
