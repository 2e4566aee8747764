package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
)

// AccountHandler exposes spec.md §6's account surface: list, refresh
// (token/timezone), freeze/unfreeze, clear-old-posts.
type AccountHandler struct {
	s service.AccountService
}

func NewAccountHandler(s service.AccountService) *AccountHandler {
	return &AccountHandler{s: s}
}

func (h *AccountHandler) ListAccounts(c *fiber.Ctx) error {
	accounts, err := h.s.List(c.Context())
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"items": accounts})
}

// RefreshAccount implements POST /api/accounts/refresh (spec.md §6). The
// actual token-acquisition/OAuth flow is an out-of-scope external
// collaborator (spec.md §1); this endpoint only accepts an
// already-obtained token for a named account and echoes back the
// refreshed list, the way the store would look immediately after that
// external flow writes its result.
func (h *AccountHandler) RefreshAccount(c *fiber.Ctx) error {
	var body struct {
		AccountID int64  `json:"account_id"`
		Token     string `json:"token"`
		Timezone  string `json:"timezone"`
	}
	_ = c.BodyParser(&body)

	if body.AccountID != 0 {
		if _, err := h.s.Refresh(c.Context(), body.AccountID, body.Token, body.Timezone); err != nil {
			return respondErr(c, err)
		}
	}

	accounts, err := h.s.List(c.Context())
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"items": accounts})
}

func (h *AccountHandler) FreezeAccount(c *fiber.Ctx) error {
	accountID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid account id"})
	}
	if err := h.s.Freeze(c.Context(), int64(accountID)); err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func (h *AccountHandler) UnfreezeAccount(c *fiber.Ctx) error {
	accountID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid account id"})
	}
	if err := h.s.Unfreeze(c.Context(), int64(accountID)); err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func (h *AccountHandler) ClearOldPosts(c *fiber.Ctx) error {
	accountID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid account id"})
	}
	n, err := h.s.ClearOldPosts(c.Context(), int64(accountID))
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"deleted": n})
}
