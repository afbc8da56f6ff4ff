package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"listsync/queue"
	"listsync/store"
	"listsync/utils"
)

// QueueController exposes the delivery queue to the admin surface.
type QueueController struct {
	Queue  *queue.Queue
	Store  *store.QueueStore
	Logger *logrus.Logger
}

func NewQueueController(q *queue.Queue, st *store.QueueStore, logger *logrus.Logger) *QueueController {
	return &QueueController{Queue: q, Store: st, Logger: logger}
}

// Stats handles GET /queue.
func (qc *QueueController) Stats(c *fiber.Ctx) error {
	pending, err := qc.Store.Count()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to read queue state", err)
	}
	lastRun, err := qc.Store.LastRun()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to read queue state", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"pending":  pending,
		"last_run": lastRun,
	}))
}

// Flush handles POST /queue/flush: an immediate drain that skips the
// interval throttle but still honors the per-run cap.
func (qc *QueueController) Flush(c *fiber.Ctx) error {
	stats, err := qc.Queue.Drain(c.Context(), true)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Queue flush failed", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"throttled": stats.Throttled,
		"selected":  stats.Selected,
		"sent":      stats.Sent,
		"deleted":   stats.Deleted,
	}))
}
