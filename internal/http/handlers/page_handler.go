package handlers

import (
	"fmt"
	"html"
	"strconv"

	"github.com/giftme/backend/internal/bot"
	"github.com/giftme/backend/internal/config"
	"github.com/giftme/backend/internal/middleware"
	"github.com/gofiber/fiber/v2"
)

// PageHandler serves the WebApp shell pages. The SPA itself is delivered
// separately; these only need to render and carry identity.
type PageHandler struct {
	cfg *config.Config
}

func NewPageHandler(cfg *config.Config) *PageHandler {
	return &PageHandler{cfg: cfg}
}

func (h *PageHandler) Index(c *fiber.Ctx) error {
	return sendPage(c, fiber.StatusOK, "GiftMe", "<p>Create your gift lists and share them.</p>")
}

// Error renders /twa/error?message=...
func (h *PageHandler) Error(c *fiber.Ctx) error {
	msg := c.Query("message")
	if msg == "" {
		msg = "Something went wrong."
	}
	return sendPage(c, fiber.StatusOK, "Error", "<p>"+html.EscapeString(msg)+"</p>")
}

// PublicGift renders a shareable gift page without login.
func (h *PageHandler) PublicGift(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return fiber.ErrNotFound
	}

	body := fmt.Sprintf(`<div id="gift" data-gift-id="%d"></div>`, id)
	if h.cfg.BotUsername != "" {
		link := html.EscapeString(bot.ShareGiftLink(h.cfg.BotUsername, id))
		body += fmt.Sprintf(`<p><a href="%s">Open in Telegram</a></p>`, link)
	}
	return sendPage(c, fiber.StatusOK, "Gift", body)
}

// App renders any authenticated WebApp page.
func (h *PageHandler) App(c *fiber.Ctx) error {
	body := fmt.Sprintf(`<div id="app" data-user-id="%d" data-path="%s"></div>`,
		middleware.GetUserID(c), html.EscapeString(c.Path()))
	return sendPage(c, fiber.StatusOK, "GiftMe", body)
}

func sendPage(c *fiber.Ctx, status int, title, body string) error {
	c.Type("html", "utf-8")
	return c.Status(status).SendString(
		"<!doctype html><html><head><meta charset=\"utf-8\"><title>" + html.EscapeString(title) +
			"</title><script src=\"https://telegram.org/js/telegram-web-app.js\"></script></head><body>" +
			body + "</body></html>")
}
