package system

import (
	"context"
	"time"

	"go-freight/internal/common/api"
	"go-freight/internal/database"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type HealthApi struct {
	db      *database.MongodbDB
	started time.Time
}

func NewHealthApi(db *database.MongodbDB) api.Route {
	return &HealthApi{
		db:      db,
		started: time.Now(),
	}
}

// Setup registers the health route
func (h *HealthApi) Setup(app *fiber.App) {
	app.Get("/health", h.health)
}

func (h *HealthApi) health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := fiber.StatusOK
	if err := h.db.Client.Ping(ctx, readpref.Primary()); err != nil {
		status = "degraded"
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status":         status,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}
