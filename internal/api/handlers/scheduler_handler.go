package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/scheduler"
)

// SchedulerHandler exposes an on-demand leaser tick (spec.md §9's
// resolution of the publish_due Open Question: "an on-demand equivalent
// of a single Scheduler tick", not a replacement for the cron-driven one
// wired in cmd/server/main.go).
type SchedulerHandler struct {
	leaser *scheduler.Leaser
}

func NewSchedulerHandler(leaser *scheduler.Leaser) *SchedulerHandler {
	return &SchedulerHandler{leaser: leaser}
}

func (h *SchedulerHandler) Tick(c *fiber.Ctx) error {
	h.leaser.Tick()
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
