package bot

import (
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"

	"github.com/giftme/backend/internal/auth"
)

const (
	HomePath = "/twa/"

	giftPrefix = "gift_"
	pathPrefix = "path_"
)

// ResolveDeepLink maps a /start payload to a WebApp path.
//
//	gift_<id>          -> /twa/gift/<id>/public
//	path_<base64url>   -> decoded path, only inside /twa/
//	anything else      -> /twa/
func ResolveDeepLink(payload string) string {
	payload = strings.TrimSpace(payload)

	switch {
	case strings.HasPrefix(payload, giftPrefix):
		id, err := strconv.ParseInt(strings.TrimPrefix(payload, giftPrefix), 10, 64)
		if err != nil || id <= 0 {
			return HomePath
		}
		return "/twa/gift/" + strconv.FormatInt(id, 10) + "/public"

	case strings.HasPrefix(payload, pathPrefix):
		raw := strings.TrimRight(strings.TrimPrefix(payload, pathPrefix), "=")
		decoded, err := base64.RawURLEncoding.DecodeString(raw)
		if err != nil {
			return HomePath
		}
		return sanitizeReturnPath(string(decoded))
	}
	return HomePath
}

// EncodePathPayload builds a path_ deep link payload. Telegram limits start
// payloads to 64 chars of [A-Za-z0-9_-], so long paths fall back to home.
func EncodePathPayload(path string) string {
	p := pathPrefix + base64.RawURLEncoding.EncodeToString([]byte(path))
	if len(p) > 64 {
		return ""
	}
	return p
}

func sanitizeReturnPath(p string) string {
	u, err := url.Parse(p)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, HomePath) {
		return HomePath
	}
	if strings.Contains(u.Path, "..") {
		return HomePath
	}
	return u.RequestURI()
}

// LaunchURL builds the WebApp URL carrying the session pair.
func LaunchURL(baseSite, path string, pair auth.TokenPair) string {
	u, err := url.Parse(strings.TrimRight(baseSite, "/") + path)
	if err != nil {
		u, _ = url.Parse(strings.TrimRight(baseSite, "/") + HomePath)
	}
	q := u.Query()
	q.Set("startParam", pair.AccessToken)
	q.Set("refresh_token", pair.RefreshToken)
	u.RawQuery = q.Encode()
	return u.String()
}

// ShareGiftLink is the t.me link that opens a gift's public page via /start.
func ShareGiftLink(botUsername string, giftID int64) string {
	return "https://t.me/" + botUsername + "?start=" + giftPrefix + strconv.FormatInt(giftID, 10)
}
