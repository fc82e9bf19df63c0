package freight

import (
	"time"

	"go-freight/internal/common/apperrors"
	"go-freight/internal/providers"

	"github.com/gofiber/fiber/v2"
)

type FreightController struct {
	Service FreightService
}

func NewFreightController(service FreightService) *FreightController {
	return &FreightController{
		Service: service,
	}
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// PushLoad godoc
func (ctrl *FreightController) PushLoad(c *fiber.Ctx) error {
	var load providers.Load
	if err := c.BodyParser(&load); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := ctrl.Service.PushLoad(c.Context(), c.Params("id"), load); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Load pushed successfully",
	})
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateLoadStatus godoc
func (ctrl *FreightController) UpdateLoadStatus(c *fiber.Ctx) error {
	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := ctrl.Service.UpdateLoadStatus(c.Context(), c.Params("id"), c.Params("loadId"), req.Status); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Load status updated successfully",
	})
}

// DriverHOS godoc
func (ctrl *FreightController) DriverHOS(c *fiber.Ctx) error {
	hos, err := ctrl.Service.DriverHOS(c.Context(), c.Params("id"), c.Params("driverId"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(hos)
}

// DriverHOSLogs godoc
func (ctrl *FreightController) DriverHOSLogs(c *fiber.Ctx) error {
	window, err := windowFromQuery(c)
	if err != nil {
		return fail(c, err)
	}

	logs, err := ctrl.Service.DriverHOSLogs(c.Context(), c.Params("id"), c.Params("driverId"), window)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"data": logs})
}

// DriverLocation godoc
func (ctrl *FreightController) DriverLocation(c *fiber.Ctx) error {
	loc, err := ctrl.Service.DriverLocation(c.Context(), c.Params("id"), c.Params("driverId"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(loc)
}

func windowFromQuery(c *fiber.Ctx) (*providers.Window, error) {
	start, end := c.Query("start_date"), c.Query("end_date")
	if start == "" && end == "" {
		return nil, nil
	}

	var window providers.Window
	var err error
	if start != "" {
		if window.Start, err = time.Parse(time.RFC3339, start); err != nil {
			return nil, apperrors.Validation("start_date must be RFC 3339")
		}
	}
	if end != "" {
		if window.End, err = time.Parse(time.RFC3339, end); err != nil {
			return nil, apperrors.Validation("end_date must be RFC 3339")
		}
	}
	if !window.Start.IsZero() && !window.End.IsZero() && !window.End.After(window.Start) {
		return nil, apperrors.Validation("end_date must be after start_date")
	}
	return &window, nil
}
