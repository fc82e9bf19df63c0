package webhook

import (
	"go-freight/internal/common/api"

	"github.com/gofiber/fiber/v2"
)

type WebhookApi struct {
	controller *WebhookController
}

func NewWebhookApi(controller *WebhookController) api.Route {
	return &WebhookApi{
		controller: controller,
	}
}

// Setup registers the webhook ingress route. Deliberately unauthenticated:
// authenticity comes from the per-provider signature, not a bearer token.
func (h *WebhookApi) Setup(app *fiber.App) {
	app.Post("/webhooks/:provider", h.controller.Receive)
}
