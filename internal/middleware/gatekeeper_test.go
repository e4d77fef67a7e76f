package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/giftme/backend/internal/auth"
	"github.com/giftme/backend/internal/models"
	"github.com/giftme/backend/internal/repositories/repotest"
	"github.com/giftme/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	testBotToken  = "424242:gatekeeper-test-bot-token"
	testJWTSecret = "gatekeeper-test-secret"
)

type testEnv struct {
	app      *fiber.App
	store    *repotest.MemoryUserStore
	sessions *services.SessionService
	tokens   *auth.TokenManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := repotest.NewMemoryUserStore()
	tokens := auth.NewTokenManager(testJWTSecret, auth.TokenConfig{})
	sessions := services.NewSessionService(store, tokens, nil, zap.NewNop())
	gk := NewGatekeeper(sessions, auth.NewInitDataValidator(testBotToken, 0), zap.NewNop())

	identity := func(c *fiber.Ctx) error {
		id, ok := GetIdentity(c)
		if !ok {
			return c.Status(fiber.StatusInternalServerError).SendString("no identity in locals")
		}
		fromCtx, ok := models.IdentityFromContext(c.UserContext())
		if !ok || fromCtx != id {
			return c.Status(fiber.StatusInternalServerError).SendString("no identity in user context")
		}
		return c.JSON(id)
	}
	ok := func(c *fiber.Ctx) error { return c.SendString("ok") }

	app := fiber.New()
	app.Use(RequestIDMiddleware())
	twa := app.Group("/twa", gk.Handler())
	twa.Get("/", ok)
	twa.Get("/error", ok)
	twa.Get("/gift/:id/public", ok)
	twa.Get("/gifts", identity)
	twa.Get("/api/me", identity)
	twa.Post("/api/auth/refresh", ok)

	return &testEnv{app: app, store: store, sessions: sessions, tokens: tokens}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := e.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp
}

func signedInitData(tgID int64, firstName string) string {
	vals := url.Values{}
	vals.Set("auth_date", strconv.FormatInt(time.Now().Unix(), 10))
	vals.Set("query_id", "AAHdF6IQAAAAAN0XohDhrOrc")
	vals.Set("user", `{"id":`+strconv.FormatInt(tgID, 10)+`,"first_name":"`+firstName+`"}`)
	return auth.EncodeInitData(vals, testBotToken)
}

func decodeIdentity(t *testing.T, resp *http.Response) models.Identity {
	t.Helper()
	var id models.Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		t.Fatalf("decode identity: %v", err)
	}
	return id
}

func TestIsPublicPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/twa", true},
		{"/twa/", true},
		{"/twa/error", true},
		{"/twa/gift/42/public", true},
		{"/twa/gift/42/public/", true},
		{"/twa/api/auth/refresh", true},
		{"/TWA/Error", true},
		{"/twa/gift/42", false},
		{"/twa/gift//public", false},
		{"/twa/gift/42/edit", false},
		{"/twa/gifts", false},
		{"/twa/api/me", false},
		{"/twa/errors", false},
	}
	for _, tt := range tests {
		if got := IsPublicPath(tt.path); got != tt.want {
			t.Errorf("IsPublicPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestGatekeeper_PublicRoutesPassThrough(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/twa/", "/twa/error?message=oops", "/twa/gift/7/public"} {
		resp := env.do(t, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestGatekeeper_MissingCredentials(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, httptest.NewRequest(http.MethodGet, "/twa/api/me", nil))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("api: expected 401, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["detail"] == "" {
		t.Errorf("expected detail in body, got %v", body)
	}

	resp = env.do(t, httptest.NewRequest(http.MethodGet, "/twa/gifts", nil))
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("page: expected 302, got %d", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	if !strings.HasPrefix(loc, "/twa/error?message=") {
		t.Errorf("unexpected redirect location %q", loc)
	}
}

func TestGatekeeper_InitDataColdStart(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/twa/gifts?initData="+url.QueryEscape(signedInitData(777, "Ada")), nil)
	resp := env.do(t, req)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	id := decodeIdentity(t, resp)

	user, err := env.store.GetByTelegramID(context.Background(), 777)
	if err != nil {
		t.Fatalf("user was not provisioned: %v", err)
	}
	if user.Profile.FirstName != "Ada" {
		t.Errorf("expected first_name Ada, got %q", user.Profile.FirstName)
	}
	if id.UserID != user.ID || id.Source != models.AuthSourceInitData {
		t.Errorf("unexpected identity %+v for user %d", id, user.ID)
	}

	access := resp.Header.Get(HeaderNewAccessToken)
	if uid, err := env.tokens.Validate(access, auth.TokenAccess); err != nil || uid != user.ID {
		t.Errorf("expected a valid access token for user %d, got uid=%d err=%v", user.ID, uid, err)
	}
	if !user.HasRefreshToken(resp.Header.Get(HeaderNewRefreshToken)) {
		t.Error("stored refresh token must equal the one returned in the header")
	}
}

func TestGatekeeper_InitDataIdempotent(t *testing.T) {
	env := newTestEnv(t)
	initData := signedInitData(777, "Ada")

	var ids []int64
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/twa/api/me", nil)
		req.Header.Set(HeaderInitData, initData)
		resp := env.do(t, req)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i, resp.StatusCode)
		}
		ids = append(ids, decodeIdentity(t, resp).UserID)
	}

	if ids[0] != ids[1] {
		t.Errorf("expected the same internal id, got %v", ids)
	}
	if env.store.Count() != 1 {
		t.Errorf("expected exactly one user, got %d", env.store.Count())
	}
}

func TestGatekeeper_TokenTransports(t *testing.T) {
	env := newTestEnv(t)
	user, pair, _, err := env.sessions.LoginWithTelegram(context.Background(), auth.TelegramUser{ID: 555, FirstName: "Bob"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	tests := []struct {
		name    string
		rotates bool
		build   func() *http.Request
	}{
		{"startParam query", false, func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/twa/gifts?startParam="+pair.AccessToken+"&refresh_token="+pair.RefreshToken, nil)
		}},
		{"tgWebAppStartParam query", false, func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/twa/gifts?tgWebAppStartParam="+pair.AccessToken, nil)
		}},
		{"headers", true, func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/twa/api/me", nil)
			r.Header.Set(HeaderStartParam, pair.AccessToken)
			r.Header.Set(HeaderRefreshToken, pair.RefreshToken)
			return r
		}},
		{"bearer", true, func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/twa/api/me", nil)
			r.Header.Set("Authorization", "Bearer "+pair.AccessToken)
			return r
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, _ := env.store.GetByID(context.Background(), user.ID)
			resp := env.do(t, tt.build())
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}
			id := decodeIdentity(t, resp)
			if id.UserID != user.ID || id.TelegramID != 555 || id.Source != models.AuthSourceToken {
				t.Errorf("unexpected identity %+v", id)
			}
			if resp.Header.Get(HeaderNewAccessToken) != "" {
				t.Error("fresh access token must not be rotated")
			}

			stored, _ := env.store.GetByID(context.Background(), user.ID)
			if !tt.rotates {
				if resp.Header.Get(HeaderNewRefreshToken) != "" {
					t.Error("page navigation must not rotate the refresh token")
				}
				if !stored.HasRefreshToken(*before.RefreshToken) {
					t.Error("stored refresh token changed on page navigation")
				}
				return
			}
			if !stored.HasRefreshToken(resp.Header.Get(HeaderNewRefreshToken)) {
				t.Error("rotated refresh token must be stored and returned")
			}
		})
	}
}

func TestGatekeeper_PageNavigationKeepsLaunchRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	_, pair, _, err := env.sessions.LoginWithTelegram(context.Background(), auth.TelegramUser{ID: 555})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	pages := []*http.Request{
		httptest.NewRequest(http.MethodGet, "/twa/gifts?startParam="+pair.AccessToken+"&refresh_token="+pair.RefreshToken, nil),
		httptest.NewRequest(http.MethodGet, "/twa/gifts?initData="+url.QueryEscape(signedInitData(555, "Bob")), nil),
	}
	for i, req := range pages {
		resp := env.do(t, req)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("page %d: expected 200, got %d", i, resp.StatusCode)
		}
		if resp.Header.Get(HeaderNewRefreshToken) != "" || resp.Header.Get(HeaderNewAccessToken) != "" {
			t.Errorf("page %d: navigation must not carry rotated tokens", i)
		}
	}

	if _, err := env.sessions.Refresh(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("launch refresh token must survive page loads: %v", err)
	}
	if env.store.Count() != 1 {
		t.Errorf("expected one user, got %d", env.store.Count())
	}
}

func TestGatekeeper_PathCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, httptest.NewRequest(http.MethodGet, "/TWA/API/me", nil))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("api path in upper case: expected 401, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body["detail"] != "Unauthorized" {
		t.Errorf("expected JSON detail, got %v (err=%v)", body, err)
	}

	resp = env.do(t, httptest.NewRequest(http.MethodGet, "/TWA/Error", nil))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("public page in mixed case: expected 200, got %d", resp.StatusCode)
	}
}

func TestGatekeeper_RotatesAccessTokenNearExpiry(t *testing.T) {
	env := newTestEnv(t)
	user, err := env.store.Create(context.Background(), models.CreateUserInput{TelegramID: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// same secret, 2 minutes of life left
	short := auth.NewTokenManager(testJWTSecret, auth.TokenConfig{AccessTTL: 2 * time.Minute})
	presented, err := short.IssueAccess(user.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/twa/api/me", nil)
	req.Header.Set(HeaderStartParam, presented)
	resp := env.do(t, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	rotated := resp.Header.Get(HeaderNewAccessToken)
	if rotated == "" || rotated == presented {
		t.Fatalf("expected a new access token, got %q", rotated)
	}
	if uid, err := env.tokens.Validate(rotated, auth.TokenAccess); err != nil || uid != user.ID {
		t.Errorf("rotated token invalid: uid=%d err=%v", uid, err)
	}
	if env.tokens.ShouldRotate(rotated) {
		t.Error("rotated token must have a full lifetime")
	}
}

func TestGatekeeper_RejectsBadTokens(t *testing.T) {
	env := newTestEnv(t)
	user, pair, _, err := env.sessions.LoginWithTelegram(context.Background(), auth.TelegramUser{ID: 10})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID: user.ID,
		Type:   auth.TokenAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	forged, _ := auth.NewTokenManager("someone-else", auth.TokenConfig{}).IssueAccess(user.ID)

	for name, token := range map[string]string{
		"expired":       expired,
		"refresh token": pair.RefreshToken,
		"forged":        forged,
		"garbage":       "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/twa/api/me", nil)
			req.Header.Set(HeaderStartParam, token)
			resp := env.do(t, req)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.StatusCode)
			}
			if resp.Header.Get(HeaderNewRefreshToken) != "" || resp.Header.Get(HeaderNewAccessToken) != "" {
				t.Error("rejected response must not carry tokens")
			}
		})
	}
}

func TestGatekeeper_TokenPathDoesNotProvision(t *testing.T) {
	env := newTestEnv(t)
	user, pair, _, err := env.sessions.LoginWithTelegram(context.Background(), auth.TelegramUser{ID: 10})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	env.store.Delete(user.ID)

	req := httptest.NewRequest(http.MethodGet, "/twa/api/me", nil)
	req.Header.Set(HeaderStartParam, pair.AccessToken)
	resp := env.do(t, req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if env.store.Count() != 0 {
		t.Error("token path must not create users")
	}
}

func TestGatekeeper_FallsBackToInitData(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/twa/api/me", nil)
	req.Header.Set(HeaderStartParam, "gift_42")
	req.Header.Set(HeaderInitData, signedInitData(31337, "Eve"))
	resp := env.do(t, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if id := decodeIdentity(t, resp); id.Source != models.AuthSourceInitData || id.TelegramID != 31337 {
		t.Errorf("unexpected identity %+v", id)
	}
}

func TestGatekeeper_RejectsTamperedInitData(t *testing.T) {
	env := newTestEnv(t)

	vals, err := url.ParseQuery(signedInitData(777, "Ada"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	vals.Set("user", `{"id":1,"first_name":"Ada"}`)

	req := httptest.NewRequest(http.MethodGet, "/twa/gifts?initData="+url.QueryEscape(vals.Encode()), nil)
	resp := env.do(t, req)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected redirect, got %d", resp.StatusCode)
	}
	if env.store.Count() != 0 {
		t.Error("tampered init data must not provision users")
	}
}

func TestGatekeeper_InitDataWithoutUser(t *testing.T) {
	env := newTestEnv(t)

	vals := url.Values{}
	vals.Set("auth_date", strconv.FormatInt(time.Now().Unix(), 10))
	req := httptest.NewRequest(http.MethodGet, "/twa/api/me", nil)
	req.Header.Set(HeaderInitData, auth.EncodeInitData(vals, testBotToken))

	if resp := env.do(t, req); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestGatekeeper_StorageFailureRejects(t *testing.T) {
	env := newTestEnv(t)
	_, pair, _, err := env.sessions.LoginWithTelegram(context.Background(), auth.TelegramUser{ID: 10})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	env.store.Err = errors.New("connection reset")

	req := httptest.NewRequest(http.MethodGet, "/twa/api/me", nil)
	req.Header.Set(HeaderStartParam, pair.AccessToken)
	resp := env.do(t, req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(body), "connection reset") {
		t.Error("internal error leaked to the client")
	}
}

func TestGatekeeper_WebSocketUpgradeIsReadOnly(t *testing.T) {
	env := newTestEnv(t)
	user, pair, _, err := env.sessions.LoginWithTelegram(context.Background(), auth.TelegramUser{ID: 555})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/twa/api/me?startParam="+pair.AccessToken, nil)
	req.Header.Set("Upgrade", "websocket")
	resp := env.do(t, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get(HeaderNewRefreshToken) != "" {
		t.Error("upgrade requests must not rotate tokens")
	}
	stored, _ := env.store.GetByID(context.Background(), user.ID)
	if !stored.HasRefreshToken(pair.RefreshToken) {
		t.Error("stored refresh token must be untouched by an upgrade request")
	}

	// init data on upgrade never provisions
	req = httptest.NewRequest(http.MethodGet, "/twa/api/me", nil)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set(HeaderInitData, signedInitData(999, "Nobody"))
	if resp := env.do(t, req); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown user on upgrade, got %d", resp.StatusCode)
	}
	if env.store.Count() != 1 {
		t.Error("upgrade request must not create users")
	}
}
