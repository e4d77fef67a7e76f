package dto

import (
	"time"

	"github.com/giftme/backend/internal/models"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// DetailResponse is the 401 body of the WebApp API.
type DetailResponse struct {
	Detail string `json:"detail"`
}

type TokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type MeResponse struct {
	ID         int64             `json:"id"`
	TelegramID int64             `json:"telegram_id"`
	Username   *string           `json:"username,omitempty"`
	Profile    models.Profile    `json:"profile"`
	AuthSource models.AuthSource `json:"auth_source"`
	CreatedAt  time.Time         `json:"created_at"`
}

func NewMeResponse(u *models.User, source models.AuthSource) MeResponse {
	return MeResponse{
		ID:         u.ID,
		TelegramID: u.TelegramID,
		Username:   u.Username,
		Profile:    u.Profile,
		AuthSource: source,
		CreatedAt:  u.CreatedAt,
	}
}
