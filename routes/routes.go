package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"listsync/config"
	controller "listsync/controllers"
	"listsync/middleware"
)

// Deps carries the wired controllers into route setup.
type Deps struct {
	Config       *config.Config
	Subscription *controller.SubscriptionController
	Campaign     *controller.CampaignController
	Queue        *controller.QueueController
	Webhook      *controller.WebhookController
	Provider     *controller.ProviderController
}

// SetupPublicRoutes registers the unauthenticated surface: subscription
// links that land in mail clients plus the provider webhook receiver.
func SetupPublicRoutes(app *fiber.App, deps Deps) {
	public := app.Group("", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	public.Post("/subscribe", middleware.SubscribeRateLimiter(deps.Config), deps.Subscription.Subscribe)
	public.Get("/confirm", deps.Subscription.Confirm)
	public.Get("/unsubscribe", deps.Subscription.Unsubscribe)

	public.Post("/webhook/:provider", deps.Webhook.Handle)
}

// SetupAPIRoutes registers the admin API.
func SetupAPIRoutes(app *fiber.App, deps Deps) {
	api := app.Group("/api/v1", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Subscriber administration
	subscribers := api.Group("/subscribers")
	subscribers.Post("/unsubscribe", deps.Subscription.AdminUnsubscribe)
	subscribers.Post("/blacklist", deps.Subscription.Blacklist)
	subscribers.Post("/reactivate", deps.Subscription.Reactivate)
	subscribers.Post("/change-email", deps.Subscription.ChangeEmail)

	// Campaign routes
	campaigns := api.Group("/campaigns")
	campaigns.Get("/:id", deps.Campaign.GetCampaign)
	campaigns.Put("/:id", deps.Campaign.SaveCampaign)
	campaigns.Delete("/:id", deps.Campaign.DeleteCampaign)
	campaigns.Post("/:id/send", deps.Campaign.SendCampaign)
	campaigns.Post("/:id/test", deps.Campaign.SendTest)

	// Delivery queue
	queue := api.Group("/queue")
	queue.Get("/", deps.Queue.Stats)
	queue.Post("/flush", deps.Queue.Flush)

	// Provider capabilities and sync
	prov := api.Group("/provider")
	prov.Get("/features", deps.Provider.Features)
	prov.Post("/sync", deps.Provider.SyncPull)
	prov.Post("/push", deps.Provider.SyncPush)
}

func SetupRoutes(app *fiber.App, deps Deps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupPublicRoutes(app, deps)
	SetupAPIRoutes(app, deps)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
