package webhook

import (
	"time"

	"go-freight/internal/providers"

	"github.com/gofiber/fiber/v2"
)

// signatureHeaders are checked in order; providers disagree on the header
// name but all send an HMAC hex digest.
var signatureHeaders = []string{"X-Signature", "X-Webhook-Signature", "X-Hub-Signature-256"}

type WebhookController struct {
	Service WebhookService
}

func NewWebhookController(service WebhookService) *WebhookController {
	return &WebhookController{
		Service: service,
	}
}

// Receive godoc
//
// Acknowledges immediately with 202; verification and processing happen in
// the background so a slow pipeline never makes the provider retry.
func (ctrl *WebhookController) Receive(c *fiber.Ctx) error {
	evt := InboundEvent{
		Provider:   providers.ProviderType(c.Params("provider")),
		Payload:    append([]byte(nil), c.Body()...),
		Signature:  signatureFrom(c),
		ReceivedAt: time.Now().UTC(),
	}

	if err := ctrl.Service.Enqueue(evt); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "temporarily unable to accept webhooks",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "accepted",
	})
}

func signatureFrom(c *fiber.Ctx) string {
	for _, h := range signatureHeaders {
		if v := c.Get(h); v != "" {
			return v
		}
	}
	return ""
}
