package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/apperr"
)

// respondErr translates the apperr taxonomy of spec.md §7 into an HTTP
// status/body, the single place that mapping happens instead of each
// handler guessing a status code the way the teacher's handlers did with
// a blanket 400/500 split.
func respondErr(c *fiber.Ctx, err error) error {
	e, ok := apperr.As(err)
	if !ok {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	body := fiber.Map{"error": e.Message, "code": e.Code.String()}
	switch e.Code {
	case apperr.Validation:
		return c.Status(fiber.StatusBadRequest).JSON(body)
	case apperr.NotFound:
		return c.Status(fiber.StatusNotFound).JSON(body)
	case apperr.Conflict:
		return c.Status(fiber.StatusConflict).JSON(body)
	case apperr.SpacingConflict:
		body["neighbors"] = e.Neighbors
		return c.Status(fiber.StatusConflict).JSON(body)
	case apperr.RateLimited:
		body["retry_after_seconds"] = e.RetryAfter.Seconds()
		return c.Status(fiber.StatusTooManyRequests).JSON(body)
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(body)
	}
}
