package system

import (
	"go-freight/internal/common/api"
	"go-freight/internal/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsApi struct{}

func NewMetricsApi() api.Route {
	metrics.RegisterDefault()
	return &MetricsApi{}
}

// Setup registers the Prometheus scrape endpoint
func (h *MetricsApi) Setup(app *fiber.App) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(
		metrics.Registry,
		promhttp.HandlerOpts{},
	)))
}
