package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"listsync/provider"
	"listsync/syncer"
	"listsync/utils"
)

// ProviderController reports the active gateway's capabilities and triggers
// manual sync runs.
type ProviderController struct {
	Gateway provider.Gateway
	Syncer  *syncer.Engine
	Logger  *logrus.Logger
}

func NewProviderController(gw provider.Gateway, sync *syncer.Engine, logger *logrus.Logger) *ProviderController {
	return &ProviderController{Gateway: gw, Syncer: sync, Logger: logger}
}

// Features handles GET /provider/features.
func (pc *ProviderController) Features(c *fiber.Ctx) error {
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"provider":      pc.Gateway.Name(),
		"features":      pc.Gateway.Features(),
		"supports_sync": pc.Gateway.SupportsSync(),
	}))
}

// SyncPull handles POST /provider/sync: reconcile local subscriber state
// from the provider's member list.
func (pc *ProviderController) SyncPull(c *fiber.Ctx) error {
	stats, err := pc.Syncer.Pull(c.Context())
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Sync failed", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"active":  stats.Active,
		"removed": stats.Removed,
		"pages":   stats.Pages,
	}))
}

// SyncPush handles POST /provider/push: push local active subscribers out
// to the provider.
func (pc *ProviderController) SyncPush(c *fiber.Ctx) error {
	stats, err := pc.Syncer.Push(c.Context())
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Push failed", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"pushed": stats.Pushed,
		"failed": stats.Failed,
	}))
}
