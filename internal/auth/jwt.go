package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"

	DefaultAccessTTL       = 30 * time.Minute
	DefaultRefreshTTL      = 7 * 24 * time.Hour
	DefaultRotateThreshold = 5 * time.Minute

	issuer = "giftme"
)

type Claims struct {
	UserID int64     `json:"user_id"`
	Type   TokenType `json:"type"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type TokenConfig struct {
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	RotateThreshold time.Duration
}

// TokenManager mints and verifies the access/refresh JWT pair.
type TokenManager struct {
	secret []byte
	cfg    TokenConfig
	now    func() time.Time
}

// NewTokenManager — нулевые значения в cfg заменяются дефолтами (30m / 7d / 5m).
func NewTokenManager(secret string, cfg TokenConfig) *TokenManager {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.RotateThreshold <= 0 {
		cfg.RotateThreshold = DefaultRotateThreshold
	}
	return &TokenManager{secret: []byte(secret), cfg: cfg, now: time.Now}
}

func (m *TokenManager) IssueAccess(userID int64) (string, error) {
	return m.issue(userID, TokenAccess, m.cfg.AccessTTL)
}

func (m *TokenManager) IssueRefresh(userID int64) (string, error) {
	return m.issue(userID, TokenRefresh, m.cfg.RefreshTTL)
}

func (m *TokenManager) IssuePair(userID int64) (TokenPair, error) {
	access, err := m.IssueAccess(userID)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := m.IssueRefresh(userID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (m *TokenManager) issue(userID int64, typ TokenType, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		UserID: userID,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

// Validate verifies signature, expiry and type and returns the user id.
func (m *TokenManager) Validate(tokenStr string, expected TokenType) (int64, error) {
	claims, err := m.Parse(tokenStr, expected)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}

func (m *TokenManager) Parse(tokenStr string, expected TokenType) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformedToken
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: user_id is missing", ErrMalformedToken)
	}
	if claims.Type != expected {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongTokenType, claims.Type, expected)
	}
	return claims, nil
}

// ShouldRotate reports whether a valid access token has less than the rotate
// threshold left before exp. Invalid tokens are never rotated.
func (m *TokenManager) ShouldRotate(accessToken string) bool {
	claims, err := m.Parse(accessToken, TokenAccess)
	if err != nil {
		return false
	}
	return m.rotationDue(claims)
}

func (m *TokenManager) rotationDue(claims *Claims) bool {
	if claims.ExpiresAt == nil {
		return true
	}
	return claims.ExpiresAt.Time.Sub(m.now()) < m.cfg.RotateThreshold
}
