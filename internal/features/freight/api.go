package freight

import (
	"go-freight/internal/common/api"
	"go-freight/internal/config"
	"go-freight/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type FreightApi struct {
	controller *FreightController
	config     *config.Config
}

func NewFreightApi(controller *FreightController, config *config.Config) api.Route {
	return &FreightApi{
		controller: controller,
		config:     config,
	}
}

// Setup registers all load and driver routes
func (h *FreightApi) Setup(app *fiber.App) {
	group := app.Group("/api/integrations", middleware.AuthMiddleware(h.config.SkipAuth))

	group.Post("/connections/:id/loads", h.controller.PushLoad)
	group.Put("/connections/:id/loads/:loadId/status", h.controller.UpdateLoadStatus)

	group.Get("/connections/:id/drivers/:driverId/hos", h.controller.DriverHOS)
	group.Get("/connections/:id/drivers/:driverId/hos-logs", h.controller.DriverHOSLogs)
	group.Get("/connections/:id/drivers/:driverId/location", h.controller.DriverLocation)
}
