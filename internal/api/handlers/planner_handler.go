package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

// PlannerHandler exposes the batch preflight/commit pair of spec.md §4.4/
// §6: preflight is side-effect free, commit persists the same slotting
// given the same seed.
type PlannerHandler struct {
	s service.PlannerService
}

func NewPlannerHandler(s service.PlannerService) *PlannerHandler {
	return &PlannerHandler{s: s}
}

func (h *PlannerHandler) Preflight(c *fiber.Ctx) error {
	var req transfer.BatchPreflightRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	result, err := h.s.Preflight(c.Context(), &req)
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *PlannerHandler) Commit(c *fiber.Ctx) error {
	var req transfer.BatchCommitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	created, err := h.s.Commit(c.Context(), &req)
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"created": created})
}
