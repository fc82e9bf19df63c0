package sync

import (
	"go-freight/internal/common/apperrors"

	"github.com/gofiber/fiber/v2"
)

type SyncController struct {
	Service SyncService
}

func NewSyncController(service SyncService) *SyncController {
	return &SyncController{
		Service: service,
	}
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// RequestSync godoc
func (ctrl *SyncController) RequestSync(c *fiber.Ctx) error {
	var req SyncRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	req.ConnectionID = c.Params("id")

	op, err := ctrl.Service.RequestSync(c.Context(), req)
	if err != nil {
		return fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Sync completed",
		"data":    op,
	})
}

// GetOperation godoc
func (ctrl *SyncController) GetOperation(c *fiber.Ctx) error {
	op, err := ctrl.Service.Get(c.Context(), c.Params("syncId"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(op)
}

// ListOperations godoc
func (ctrl *SyncController) ListOperations(c *fiber.Ctx) error {
	limit := int64(c.QueryInt("limit"))

	ops, err := ctrl.Service.List(c.Context(), c.Params("id"), limit)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"data": ops})
}
