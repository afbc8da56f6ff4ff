package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"listsync/utils"
	"listsync/webhook"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Provider-Signature"

// WebhookController receives provider callbacks. Processing happens off the
// request path: providers retry on slow responses, so the handler verifies
// the signature, acknowledges, and lets the dispatcher work in the
// background. Idempotency comes from the transaction ledger, not from the
// acknowledgement.
type WebhookController struct {
	Dispatcher *webhook.Dispatcher
	Logger     *logrus.Logger
}

func NewWebhookController(dispatcher *webhook.Dispatcher, logger *logrus.Logger) *WebhookController {
	return &WebhookController{Dispatcher: dispatcher, Logger: logger}
}

// Handle processes POST /webhook/:provider.
func (wc *WebhookController) Handle(c *fiber.Ctx) error {
	providerName := c.Params("provider")
	signature := c.Get(SignatureHeader)

	// Fiber reuses its buffers after the handler returns; the dispatcher
	// outlives the request and needs its own copy.
	body := make([]byte, len(c.Body()))
	copy(body, c.Body())

	if err := wc.Dispatcher.Verify(providerName, signature, body); err != nil {
		wc.Logger.WithField("provider", providerName).Warn("webhook rejected: bad signature")
		return utils.ErrorResponse(c, fiber.StatusForbidden, "Signature verification failed", nil)
	}

	go func() {
		applied, err := wc.Dispatcher.Handle(providerName, signature, body)
		if err != nil {
			wc.Logger.WithField("provider", providerName).Errorf("webhook processing failed: %v", err)
			return
		}
		wc.Logger.WithFields(logrus.Fields{
			"provider": providerName,
			"applied":  applied,
		}).Info("webhook processed")
	}()

	return c.JSON(utils.SuccessResponse(fiber.Map{"status": "accepted"}))
}
