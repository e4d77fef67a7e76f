package middleware

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/giftme/backend/internal/auth"
	"github.com/giftme/backend/internal/models"
	"github.com/giftme/backend/internal/repositories"
	"github.com/giftme/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	CtxUserID   = "user_id"
	CtxIdentity = "identity"

	HeaderStartParam      = "X-Start-Param"
	HeaderRefreshToken    = "X-Refresh-Token"
	HeaderInitData        = "X-Init-Data"
	HeaderNewAccessToken  = "X-New-Access-Token"
	HeaderNewRefreshToken = "X-New-Refresh-Token"

	ErrorPagePath = "/twa/error"
)

var errMissingCredentials = errors.New("no token or init data presented")

// Credentials are the raw, unverified inputs a WebApp request can carry.
// Query params and headers are interchangeable.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	InitData     string
}

func (c Credentials) Empty() bool {
	return c.AccessToken == "" && c.InitData == ""
}

func ExtractCredentials(c *fiber.Ctx) Credentials {
	return Credentials{
		AccessToken:  firstNonEmpty(c.Query("startParam"), c.Query("tgWebAppStartParam"), c.Get(HeaderStartParam), bearerToken(c)),
		RefreshToken: firstNonEmpty(c.Query("refresh_token"), c.Get(HeaderRefreshToken)),
		InitData:     firstNonEmpty(c.Query("initData"), c.Get(HeaderInitData)),
	}
}

// IsPublicPath — страницы, которые рендерятся без логина: лендинг, ошибка,
// публичная карточка подарка и обмен refresh токена.
func IsPublicPath(path string) bool {
	// fiber по умолчанию матчит роуты без учёта регистра
	path = strings.ToLower(strings.TrimSuffix(path, "/"))
	switch path {
	case "/twa", ErrorPagePath, "/twa/api/auth/refresh":
		return true
	}
	// /twa/gift/:id/public
	if rest, ok := strings.CutPrefix(path, "/twa/gift/"); ok {
		id, tail, found := strings.Cut(rest, "/")
		return found && id != "" && tail == "public"
	}
	return false
}

func isAPIPath(path string) bool {
	path = strings.ToLower(path)
	return path == "/twa/api" || strings.HasPrefix(path, "/twa/api/")
}

// Gatekeeper authenticates every non-public WebApp request either by access
// token or by Telegram init data, and attaches models.Identity to the request.
type Gatekeeper struct {
	sessions *services.SessionService
	initData *auth.InitDataValidator
	log      *zap.Logger
}

func NewGatekeeper(sessions *services.SessionService, initData *auth.InitDataValidator, log *zap.Logger) *Gatekeeper {
	return &Gatekeeper{sessions: sessions, initData: initData, log: log}
}

func (g *Gatekeeper) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if IsPublicPath(c.Path()) {
			return c.Next()
		}

		creds := ExtractCredentials(c)
		if creds.Empty() {
			g.logFailure(c, "none", errMissingCredentials)
			return reject(c, errMissingCredentials)
		}

		// X-New-* заголовки читает только JS клиент на /twa/api. Навигация по
		// страницам и websocket upgrade их не видят, там refresh токен из
		// ссылки должен остаться живым. Через websocket юзер не создаётся.
		upgrade := isWebSocketUpgrade(c)
		rotate := isAPIPath(c.Path()) && !upgrade
		provision := !upgrade

		// токен первым, init data как запасной вариант
		var lastErr error
		if creds.AccessToken != "" {
			id, err := g.viaToken(c, creds.AccessToken, rotate)
			if err == nil {
				return authenticated(c, id)
			}
			g.logFailure(c, "token", err)
			lastErr = err
		}
		if creds.InitData != "" {
			id, err := g.viaInitData(c, creds.InitData, rotate, provision)
			if err == nil {
				return authenticated(c, id)
			}
			g.logFailure(c, "init_data", err)
			lastErr = err
		}
		return reject(c, lastErr)
	}
}

func (g *Gatekeeper) viaToken(c *fiber.Ctx, accessToken string, rotate bool) (models.Identity, error) {
	ctx := c.UserContext()
	tokens := g.sessions.Tokens()

	userID, err := tokens.Validate(accessToken, auth.TokenAccess)
	if err != nil {
		return models.Identity{}, err
	}
	// token path never provisions
	user, err := g.sessions.UserByID(ctx, userID)
	if err != nil {
		return models.Identity{}, err
	}
	id := models.Identity{UserID: user.ID, TelegramID: user.TelegramID, Source: models.AuthSourceToken}
	if !rotate {
		return id, nil
	}

	var newAccess string
	if tokens.ShouldRotate(accessToken) {
		if newAccess, err = tokens.IssueAccess(user.ID); err != nil {
			return models.Identity{}, err
		}
	}
	newRefresh, err := g.sessions.RotateRefresh(ctx, user.ID)
	if err != nil {
		return models.Identity{}, err
	}

	if newAccess != "" {
		c.Set(HeaderNewAccessToken, newAccess)
	}
	c.Set(HeaderNewRefreshToken, newRefresh)
	return id, nil
}

func (g *Gatekeeper) viaInitData(c *fiber.Ctx, raw string, rotate, provision bool) (models.Identity, error) {
	data, err := g.initData.Validate(raw)
	if err != nil {
		return models.Identity{}, err
	}
	if data.User == nil {
		return models.Identity{}, fmt.Errorf("%w: init data carries no user", auth.ErrMalformedPayload)
	}

	if !rotate {
		user, err := g.sessions.UserByTelegramID(c.UserContext(), data.User.ID)
		if err == nil {
			return models.Identity{UserID: user.ID, TelegramID: user.TelegramID, Source: models.AuthSourceInitData}, nil
		}
		if !provision || !errors.Is(err, repositories.ErrUserNotFound) {
			return models.Identity{}, err
		}
		// новый юзер: старого refresh токена нет, выдаём пару как обычно
	}

	user, pair, created, err := g.sessions.LoginWithTelegram(c.UserContext(), *data.User)
	if err != nil {
		return models.Identity{}, err
	}
	if created {
		g.log.Info("user provisioned from init data",
			zap.String("request_id", requestID(c)),
			zap.Int64("user_id", user.ID),
		)
	}

	c.Set(HeaderNewAccessToken, pair.AccessToken)
	c.Set(HeaderNewRefreshToken, pair.RefreshToken)
	return models.Identity{UserID: user.ID, TelegramID: user.TelegramID, Source: models.AuthSourceInitData}, nil
}

func authenticated(c *fiber.Ctx, id models.Identity) error {
	c.Locals(CtxUserID, id.UserID)
	c.Locals(CtxIdentity, id)
	c.SetUserContext(models.WithIdentity(c.UserContext(), id))
	return c.Next()
}

// reject never exposes err to the client.
func reject(c *fiber.Ctx, err error) error {
	c.Response().Header.Del(HeaderNewAccessToken)
	c.Response().Header.Del(HeaderNewRefreshToken)

	detail, message := "Authentication failed", "Authentication failed. Please reopen the app from Telegram."
	if errors.Is(err, errMissingCredentials) {
		detail, message = "Unauthorized", "Please open the app from Telegram."
	}

	if isAPIPath(c.Path()) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"detail": detail})
	}
	return c.Redirect(ErrorPagePath+"?message="+url.QueryEscape(message), fiber.StatusFound)
}

// logFailure: токен-ошибки рутинные (Debug), подпись Warn, нет юзера Info,
// всё остальное — инфраструктура (Error).
func (g *Gatekeeper) logFailure(c *fiber.Ctx, via string, err error) {
	fields := []zap.Field{
		zap.String("request_id", requestID(c)),
		zap.String("path", c.Path()),
		zap.String("via", via),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, errMissingCredentials), auth.IsTokenError(err):
		g.log.Debug("authentication failed", fields...)
	case auth.IsSignatureError(err):
		g.log.Warn("authentication failed", fields...)
	case errors.Is(err, repositories.ErrUserNotFound):
		g.log.Info("authentication failed: unknown user", fields...)
	default:
		g.log.Error("authentication failed: collaborator error", fields...)
	}
}

func GetUserID(c *fiber.Ctx) int64 {
	id, _ := c.Locals(CtxUserID).(int64)
	return id
}

func GetIdentity(c *fiber.Ctx) (models.Identity, bool) {
	id, ok := c.Locals(CtxIdentity).(models.Identity)
	return id, ok
}

func isWebSocketUpgrade(c *fiber.Ctx) bool {
	return strings.EqualFold(c.Get(fiber.HeaderUpgrade), "websocket")
}

func bearerToken(c *fiber.Ctx) string {
	h := c.Get(fiber.HeaderAuthorization)
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
