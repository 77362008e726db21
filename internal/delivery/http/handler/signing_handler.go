package handler

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"signflow/internal/domain/apperror"
	"signflow/internal/domain/entity"
	"signflow/internal/usecase"
)

// SigningHandler serves the public signing surface. The access token in the
// path is the only credential.
type SigningHandler struct {
	signers usecase.SignerUsecase
	logger  *zap.Logger
}

func NewSigningHandler(signers usecase.SignerUsecase, logger *zap.Logger) *SigningHandler {
	return &SigningHandler{
		signers: signers,
		logger:  logger,
	}
}

// Session godoc
// @Summary Open a signing session
// @Description Resolve the access token and mark the signer viewed on first access
// @Tags signing
// @Produce json
// @Param token path string true "Access token"
// @Success 200 {object} entity.APIResponse
// @Failure 400 {object} entity.APIResponse
// @Router /sign/{token} [get]
func (h *SigningHandler) Session(c *fiber.Ctx) error {
	session, err := h.signers.Session(c.UserContext(), c.Params("token"))
	if err != nil {
		return err
	}
	return c.JSON(entity.NewSuccessResponse(session, "Signing session retrieved successfully"))
}

// Submit godoc
// @Summary Submit field values
// @Tags signing
// @Accept json
// @Produce json
// @Param token path string true "Access token"
// @Param submission body entity.Submission true "Field values and signature images"
// @Success 200 {object} entity.APIResponse
// @Failure 400 {object} entity.APIResponse
// @Router /sign/{token} [post]
func (h *SigningHandler) Submit(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var submission entity.Submission
	if err := c.BodyParser(&submission); err != nil {
		h.logger.Warn("Failed to parse submission body", zap.Error(err))
		return apperror.NewValidation("body", "invalid request body")
	}

	signer, err := h.signers.ResolveByToken(ctx, c.Params("token"))
	if err != nil {
		return err
	}

	result, err := h.signers.Submit(ctx, entity.SignerAuth(signer.ID), signer.RequestID, signer.ID, &submission)
	if err != nil {
		return err
	}
	return c.JSON(entity.NewSuccessResponse(result, "Document signed successfully"))
}

// Decline godoc
// @Summary Decline to sign
// @Tags signing
// @Accept json
// @Produce json
// @Param token path string true "Access token"
// @Param body body entity.DeclineInput false "Optional reason"
// @Success 200 {object} entity.APIResponse
// @Router /sign/{token}/decline [post]
func (h *SigningHandler) Decline(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var input entity.DeclineInput
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&input); err != nil {
			return apperror.NewValidation("body", "invalid request body")
		}
	}

	signer, err := h.signers.ResolveByToken(ctx, c.Params("token"))
	if err != nil {
		return err
	}

	status, err := h.signers.Decline(ctx, entity.SignerAuth(signer.ID), signer.RequestID, signer.ID, input.Reason)
	if err != nil {
		return err
	}
	return c.JSON(entity.NewSuccessResponse(fiber.Map{"requestStatus": status}, "Signature request declined"))
}

// Document streams the signer's current view of the document.
func (h *SigningHandler) Document(c *fiber.Ctx) error {
	content, err := h.signers.Document(c.UserContext(), c.Params("token"))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, `inline; filename="document.pdf"`)
	return c.Send(content)
}
