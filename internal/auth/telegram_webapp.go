package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TelegramUser is the "user" object embedded in WebApp init data.
type TelegramUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
	IsPremium    bool   `json:"is_premium,omitempty"`
	PhotoURL     string `json:"photo_url,omitempty"`
}

// InitData holds validated init data claims.
// Fields keeps every non-hash field exactly as received (after query unescaping).
type InitData struct {
	Fields   map[string]string
	User     *TelegramUser
	AuthDate time.Time
}

// InitDataValidator checks that init data was signed by Telegram for our bot.
// https://core.telegram.org/bots/webapps#validating-data-received-via-the-mini-app
type InitDataValidator struct {
	botToken string
	maxAge   time.Duration
	now      func() time.Time
}

// NewInitDataValidator — maxAge <= 0 отключает проверку свежести auth_date.
func NewInitDataValidator(botToken string, maxAge time.Duration) *InitDataValidator {
	return &InitDataValidator{botToken: botToken, maxAge: maxAge, now: time.Now}
}

func (v *InitDataValidator) Validate(initData string) (*InitData, error) {
	vals, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	receivedHash := vals.Get("hash")
	if receivedHash == "" {
		return nil, ErrMissingSignature
	}
	vals.Del("hash")

	claimed, err := hex.DecodeString(strings.ToLower(receivedHash))
	if err != nil {
		return nil, fmt.Errorf("%w: hash is not hex", ErrInvalidSignature)
	}

	// ---- HMAC-SHA256 подпись ----
	if !hmac.Equal(SignInitData(vals, v.botToken), claimed) {
		return nil, fmt.Errorf("%w: data integrity check failed", ErrInvalidSignature)
	}

	result := &InitData{Fields: make(map[string]string, len(vals))}
	for k := range vals {
		result.Fields[k] = vals.Get(k)
	}

	if raw := result.Fields["auth_date"]; raw != "" {
		sec, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: auth_date is not a valid unix timestamp", ErrMalformedPayload)
		}
		result.AuthDate = time.Unix(sec, 0).UTC()
	}
	if err := v.checkFreshness(result.AuthDate); err != nil {
		return nil, err
	}

	if raw, ok := result.Fields["user"]; ok {
		user, err := decodeUser(raw)
		if err != nil {
			return nil, err
		}
		result.User = user
	}

	return result, nil
}

func (v *InitDataValidator) checkFreshness(authDate time.Time) error {
	if v.maxAge <= 0 {
		return nil
	}
	if authDate.IsZero() {
		return fmt.Errorf("%w: auth_date is missing", ErrMalformedPayload)
	}
	now := v.now()
	if age := now.Sub(authDate); age > v.maxAge {
		return fmt.Errorf("%w: auth_date is %s old (max %s)", ErrMalformedPayload, age.Round(time.Second), v.maxAge)
	}
	// clock skew макс. 1 мин
	if authDate.After(now.Add(time.Minute)) {
		return fmt.Errorf("%w: auth_date is in the future", ErrMalformedPayload)
	}
	return nil
}

// decodeUser accepts the user field both as plain JSON and as a still URL-escaped JSON string.
func decodeUser(raw string) (*TelegramUser, error) {
	var user TelegramUser
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		unescaped, uerr := url.QueryUnescape(raw)
		if uerr != nil {
			return nil, fmt.Errorf("%w: invalid user json", ErrMalformedPayload)
		}
		if err := json.Unmarshal([]byte(unescaped), &user); err != nil {
			return nil, fmt.Errorf("%w: invalid user json", ErrMalformedPayload)
		}
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("%w: missing user.id", ErrMalformedPayload)
	}
	return &user, nil
}

// SignInitData computes the init data signature over every field except hash:
// HMAC-SHA256(HMAC-SHA256("WebAppData", botToken), data_check_string).
func SignInitData(vals url.Values, botToken string) []byte {
	keys := make([]string, 0, len(vals))
	for k := range vals {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		// Telegram initData keys are unique in practice, keep first.
		pairs = append(pairs, k+"="+vals.Get(k))
	}
	dataCheckString := strings.Join(pairs, "\n")

	secretKey := hmacSHA256([]byte("WebAppData"), []byte(botToken))
	return hmacSHA256(secretKey, []byte(dataCheckString))
}

// EncodeInitData signs vals and returns the query string Telegram would hand to the WebApp.
func EncodeInitData(vals url.Values, botToken string) string {
	signed := url.Values{}
	for k, vs := range vals {
		if k == "hash" {
			continue
		}
		signed[k] = append([]string(nil), vs...)
	}
	signed.Set("hash", hex.EncodeToString(SignInitData(signed, botToken)))
	return signed.Encode()
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
