package connection

import (
	"go-freight/internal/common/apperrors"
	"go-freight/internal/providers"

	"github.com/gofiber/fiber/v2"
)

type ConnectionController struct {
	Service ConnectionService
}

func NewConnectionController(service ConnectionService) *ConnectionController {
	return &ConnectionController{
		Service: service,
	}
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// CreateConnection godoc
func (ctrl *ConnectionController) CreateConnection(c *fiber.Ctx) error {
	var params CreateParams
	if err := c.BodyParser(&params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	conn, err := ctrl.Service.Create(c.Context(), params)
	if err != nil {
		return fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Connection created successfully",
		"data":    conn,
	})
}

// GetConnection godoc
func (ctrl *ConnectionController) GetConnection(c *fiber.Ctx) error {
	conn, err := ctrl.Service.Get(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(conn)
}

// ListConnections godoc
func (ctrl *ConnectionController) ListConnections(c *fiber.Ctx) error {
	owner := Owner{
		Type: OwnerType(c.Query("owner_type")),
		ID:   c.Query("owner_id"),
	}
	if owner.Type == "" || owner.ID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "owner_type and owner_id query parameters are required",
		})
	}

	conns, err := ctrl.Service.GetByOwner(c.Context(), owner)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"data": conns})
}

// UpdateConnection godoc
func (ctrl *ConnectionController) UpdateConnection(c *fiber.Ctx) error {
	var params UpdateParams
	if err := c.BodyParser(&params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	conn, err := ctrl.Service.Update(c.Context(), c.Params("id"), params)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Connection updated successfully",
		"data":    conn,
	})
}

// DeleteConnection godoc
func (ctrl *ConnectionController) DeleteConnection(c *fiber.Ctx) error {
	if err := ctrl.Service.Delete(c.Context(), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Connection deleted successfully",
	})
}

// ValidateConnection godoc
func (ctrl *ConnectionController) ValidateConnection(c *fiber.Ctx) error {
	valid, err := ctrl.Service.Validate(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"valid": valid})
}

// GetAuthorizationURL godoc
func (ctrl *ConnectionController) GetAuthorizationURL(c *fiber.Ctx) error {
	provider := providers.ProviderType(c.Params("provider"))
	redirectURI := c.Query("redirect_uri")
	state := c.Query("state")

	url, err := ctrl.Service.GetAuthorizationURL(c.Context(), provider, redirectURI, state)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"url": url})
}

type exchangeRequest struct {
	DriverID    string `json:"driver_id"`
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

// ExchangeCode godoc
func (ctrl *ConnectionController) ExchangeCode(c *fiber.Ctx) error {
	var req exchangeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	provider := providers.ProviderType(c.Params("provider"))
	conn, err := ctrl.Service.ExchangeCode(c.Context(), req.DriverID, provider, req.Code, req.RedirectURI)
	if err != nil {
		return fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Connection created successfully",
		"data":    conn,
	})
}
