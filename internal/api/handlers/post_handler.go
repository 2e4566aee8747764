package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

// PostHandler exposes the post CRUD and lifecycle endpoints of spec.md
// §6, generalized from the teacher's multipart-upload PostHandler: a
// post here arrives with a media_url the caller already resolved
// rather than a file the handler streams to object storage.
type PostHandler struct {
	s service.PostService
}

func NewPostHandler(s service.PostService) *PostHandler {
	return &PostHandler{s: s}
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	var req transfer.PostCreate
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	post, hit, err := h.s.Create(c.Context(), req.AccountID, &req)
	if err != nil {
		return respondErr(c, err)
	}

	status := fiber.StatusCreated
	if hit {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{"id": post.ID, "status": post.Status})
}

func (h *PostHandler) QueryPosts(c *fiber.Ctx) error {
	accountID := c.QueryInt("account_id", 0)
	if accountID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "account_id is required"})
	}

	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid start"})
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid end"})
	}

	posts, err := h.s.Query(c.Context(), int64(accountID), start, end)
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"items": posts})
}

func (h *PostHandler) GetPost(c *fiber.Ctx) error {
	postID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid post id"})
	}
	post, err := h.s.Get(c.Context(), int64(postID))
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(post)
}

// UpdatePost implements PUT/PATCH /api/posts/{id}: a partial body may
// move the scheduled time, edit the caption, or replace the media — at
// most one of ScheduledAt/MediaURL governs which op runs, since each is
// its own invariant check (spec.md §4.5).
func (h *PostHandler) UpdatePost(c *fiber.Ctx) error {
	postID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid post id"})
	}

	var req transfer.PostUpdate
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if req.MediaURL != nil {
		post, err := h.s.Replace(c.Context(), int64(postID), *req.MediaURL, req.Caption)
		if err != nil {
			return respondErr(c, err)
		}
		return c.Status(fiber.StatusOK).JSON(post)
	}

	if req.ScheduledAt != nil {
		scheduledAt, err := time.Parse(time.RFC3339, *req.ScheduledAt)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid scheduled_at"})
		}
		post, err := h.s.Move(c.Context(), int64(postID), scheduledAt, req.OverrideSpacing)
		if err != nil {
			return respondErr(c, err)
		}
		return c.Status(fiber.StatusOK).JSON(post)
	}

	post, err := h.s.Edit(c.Context(), int64(postID), req.Caption)
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(post)
}

func (h *PostHandler) RemovePost(c *fiber.Ctx) error {
	postID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid post id"})
	}
	if err := h.s.Remove(c.Context(), int64(postID)); err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func (h *PostHandler) BulkDelete(c *fiber.Ctx) error {
	var req transfer.BulkDeleteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	n, err := h.s.BulkDelete(c.Context(), req.IDs)
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"deleted": n})
}

func (h *PostHandler) DeleteAfter(c *fiber.Ctx) error {
	var req transfer.DeleteAfterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	after, err := time.Parse(time.RFC3339, req.After)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid after"})
	}
	n, err := h.s.DeleteAfter(c.Context(), req.AccountID, after)
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"deleted": n})
}
