package connection

import (
	"go-freight/internal/common/api"
	"go-freight/internal/config"
	"go-freight/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type ConnectionApi struct {
	controller *ConnectionController
	config     *config.Config
}

func NewConnectionApi(controller *ConnectionController, config *config.Config) api.Route {
	return &ConnectionApi{
		controller: controller,
		config:     config,
	}
}

// Setup registers all connection routes
func (h *ConnectionApi) Setup(app *fiber.App) {
	group := app.Group("/api/integrations", middleware.AuthMiddleware(h.config.SkipAuth))

	group.Post("/connections", h.controller.CreateConnection)
	group.Get("/connections", h.controller.ListConnections)
	group.Get("/connections/:id", h.controller.GetConnection)
	group.Put("/connections/:id", h.controller.UpdateConnection)
	group.Delete("/connections/:id", h.controller.DeleteConnection)
	group.Post("/connections/:id/validate", h.controller.ValidateConnection)

	group.Get("/oauth/:provider/authorize-url", h.controller.GetAuthorizationURL)
	group.Post("/oauth/:provider/exchange", h.controller.ExchangeCode)
}
