package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"listsync/subscription"
	"listsync/utils"
)

// SubscriptionController exposes the public subscribe/confirm/unsubscribe
// endpoints plus the admin state-machine operations.
type SubscriptionController struct {
	Service *subscription.Service
	Logger  *logrus.Logger
}

func NewSubscriptionController(service *subscription.Service, logger *logrus.Logger) *SubscriptionController {
	return &SubscriptionController{Service: service, Logger: logger}
}

// Subscribe handles POST /subscribe.
func (sc *SubscriptionController) Subscribe(c *fiber.Ctx) error {
	var input struct {
		Email      string            `json:"email"`
		Attributes map[string]string `json:"attributes"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	outcome := sc.Service.Subscribe(c.Context(), input.Email, input.Attributes, 0)
	switch outcome {
	case subscription.SubInvalid:
		return utils.ErrorResponse(c, fiber.StatusBadRequest, outcome.String(), nil)
	case subscription.SubBlacklist:
		return utils.ErrorResponse(c, fiber.StatusForbidden, outcome.String(), nil)
	case subscription.SubError:
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, outcome.String(), nil)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"status": outcome.String(),
	}))
}

// Confirm handles GET /confirm?email=...&token=... (double-opt-in links).
// A wrong token is reported but leaks nothing about the address.
func (sc *SubscriptionController) Confirm(c *fiber.Ctx) error {
	email := c.Query("email")
	token := c.Query("token")
	if !sc.Service.Confirm(c.Context(), email, token) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid confirmation link", nil)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"status": "subscription confirmed",
	}))
}

// Unsubscribe handles GET /unsubscribe?email=...&token=... (footer links).
// The response is the same whether or not anything changed, so the endpoint
// cannot be used to probe which addresses are subscribed.
func (sc *SubscriptionController) Unsubscribe(c *fiber.Ctx) error {
	email := c.Query("email")
	token := c.Query("token")
	sc.Service.Unsubscribe(c.Context(), email, token, false)
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"status": "unsubscribed",
	}))
}

// AdminUnsubscribe removes a subscriber without a token (admin action).
func (sc *SubscriptionController) AdminUnsubscribe(c *fiber.Ctx) error {
	var input struct {
		Email string `json:"email"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if !sc.Service.Unsubscribe(c.Context(), input.Email, "", true) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Subscriber not found", nil)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"status": "unsubscribed"}))
}

// Blacklist handles POST /subscribers/blacklist.
func (sc *SubscriptionController) Blacklist(c *fiber.Ctx) error {
	var input struct {
		Email string `json:"email"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if !sc.Service.Blacklist(c.Context(), input.Email) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Subscriber not found", nil)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"status": "blacklisted"}))
}

// Reactivate handles POST /subscribers/reactivate, the only way out of
// blacklist.
func (sc *SubscriptionController) Reactivate(c *fiber.Ctx) error {
	var input struct {
		Email string `json:"email"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if !sc.Service.Reactivate(c.Context(), input.Email) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Subscriber not found", nil)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"status": "active"}))
}

// ChangeEmail handles POST /subscribers/change-email.
func (sc *SubscriptionController) ChangeEmail(c *fiber.Ctx) error {
	var input struct {
		OldEmail string `json:"old_email"`
		NewEmail string `json:"new_email"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if !sc.Service.ChangeEmail(c.Context(), input.OldEmail, input.NewEmail) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Email change failed", nil)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"status": "email updated"}))
}
