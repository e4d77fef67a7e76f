package middleware

import "github.com/gofiber/fiber/v2"

// HTTPSRedirectMiddleware отправляет plain http запросы на https (307, метод
// и тело сохраняются). Схема берётся из X-Forwarded-Proto, если TLS снят
// на прокси. Вебхук и health check не редиректятся.
func HTTPSRedirectMiddleware(exempt ...string) fiber.Handler {
	skip := make(map[string]struct{}, len(exempt))
	for _, p := range exempt {
		skip[p] = struct{}{}
	}
	return func(c *fiber.Ctx) error {
		if c.Protocol() == "https" {
			return c.Next()
		}
		if _, ok := skip[c.Path()]; ok {
			return c.Next()
		}
		return c.Redirect("https://"+c.Hostname()+c.OriginalURL(), fiber.StatusTemporaryRedirect)
	}
}
