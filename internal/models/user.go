package models

import "time"

type User struct {
	ID           int64     `json:"id"`
	TelegramID   int64     `json:"telegram_id"`
	Username     *string   `json:"username,omitempty"`
	Profile      Profile   `json:"profile"`
	RefreshToken *string   `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Profile struct {
	FirstName    string            `json:"first_name"`
	LastName     *string           `json:"last_name,omitempty"`
	LanguageCode *string           `json:"language_code,omitempty"`
	Contacts     map[string]string `json:"contacts,omitempty"`
}

// CreateUserInput is everything needed to insert a user row.
type CreateUserInput struct {
	TelegramID int64
	Username   *string
	Profile    Profile
}

// HasRefreshToken reports whether token is the one currently stored for the user.
func (u *User) HasRefreshToken(token string) bool {
	return u.RefreshToken != nil && token != "" && constantTimeEqual(*u.RefreshToken, token)
}
