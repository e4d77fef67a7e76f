package models

import "context"

// AuthSource tells which credential established an identity.
type AuthSource string

const (
	AuthSourceToken    AuthSource = "token"
	AuthSourceInitData AuthSource = "init_data"
)

// Identity is attached to every authenticated WebApp request.
type Identity struct {
	UserID     int64      `json:"user_id"`
	TelegramID int64      `json:"telegram_id"`
	Source     AuthSource `json:"source"`
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
