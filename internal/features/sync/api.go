package sync

import (
	"go-freight/internal/common/api"
	"go-freight/internal/config"
	"go-freight/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type SyncApi struct {
	controller *SyncController
	config     *config.Config
}

func NewSyncApi(controller *SyncController, config *config.Config) api.Route {
	return &SyncApi{
		controller: controller,
		config:     config,
	}
}

// Setup registers all sync routes
func (h *SyncApi) Setup(app *fiber.App) {
	group := app.Group("/api/integrations", middleware.AuthMiddleware(h.config.SkipAuth))

	group.Post("/connections/:id/sync", h.controller.RequestSync)
	group.Get("/connections/:id/sync-operations", h.controller.ListOperations)
	group.Get("/sync/:syncId", h.controller.GetOperation)
}
