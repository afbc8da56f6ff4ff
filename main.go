package main

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"listsync/config"
	controller "listsync/controllers"
	"listsync/middleware"
	"listsync/provider"
	"listsync/queue"
	"listsync/routes"
	"listsync/store"
	"listsync/subscription"
	"listsync/syncer"
	"listsync/utils"
	"listsync/webhook"
	"listsync/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
		}); err != nil {
			logger.Warnf("Sentry initialization failed: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	db, err := config.ConnectDB(cfg)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// A misconfigured provider is fatal: running with a silently broken
	// gateway would desynchronize local and remote state.
	gateway, err := provider.New(cfg, db, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize provider: %v", err)
	}
	logger.Infof("Using provider: %s", gateway.Name())

	subscriberStore := store.NewSubscriberStore(db, logger)
	campaignStore := store.NewCampaignStore(db, logger)
	queueStore := store.NewQueueStore(db, logger)
	txnStore := store.NewTxnStore(db, logger)

	mailer := utils.NewMailer(cfg, logger)

	var lease queue.Lease
	if cfg.Redis.Enabled {
		lease = queue.NewRedisLease(cfg.Redis, cfg.QueueInterval)
	}
	deliveryQueue := queue.New(queueStore, campaignStore, mailer, lease, cfg.QueueInterval, cfg.QueueMaxPer, logger)

	syncEngine := syncer.New(gateway, subscriberStore, cfg.SyncPageSize, logger)

	subscriptionService := subscription.NewService(subscriberStore, campaignStore, gateway, deliveryQueue, cfg, logger)

	dispatcher := webhook.NewDispatcher(txnStore, subscriberStore, map[string]string{
		provider.NameMailchimp:  cfg.Mailchimp.Secret,
		provider.NameMailerLite: cfg.MailerLite.Secret,
		provider.NameMailjet:    cfg.Mailjet.Secret,
		provider.NameSendinblue: cfg.Sendinblue.Secret,
	}, logger)

	app := fiber.New()
	app.Use(middleware.CORS())

	deps := routes.Deps{
		Config:       cfg,
		Subscription: controller.NewSubscriptionController(subscriptionService, logger),
		Campaign:     controller.NewCampaignController(campaignStore, subscriberStore, gateway, deliveryQueue, mailer, logger),
		Queue:        controller.NewQueueController(deliveryQueue, queueStore, logger),
		Webhook:      controller.NewWebhookController(dispatcher, logger),
		Provider:     controller.NewProviderController(gateway, syncEngine, logger),
	}
	routes.SetupRoutes(app, deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queueWorker := worker.NewQueueWorker(deliveryQueue, cfg.QueueInterval, logger)
	go queueWorker.Start(ctx)

	if gateway.SupportsSync() {
		syncWorker := worker.NewSyncWorker(syncEngine, cfg.SyncInterval, logger)
		go syncWorker.Start(ctx)
	}

	logger.Infof("Server starting on port %s", cfg.ServerPort)
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
