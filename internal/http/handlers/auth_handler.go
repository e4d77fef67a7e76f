package handlers

import (
	"errors"

	"github.com/giftme/backend/internal/auth"
	"github.com/giftme/backend/internal/http/dto"
	"github.com/giftme/backend/internal/middleware"
	"github.com/giftme/backend/internal/repositories"
	"github.com/giftme/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type AuthHandler struct {
	sessions *services.SessionService
	log      *zap.Logger
}

func NewAuthHandler(sessions *services.SessionService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{sessions: sessions, log: log}
}

// Refresh exchanges the stored refresh token for a new pair.
// POST /twa/api/auth/refresh {"refresh_token": "..."}
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.DetailResponse{Detail: "Invalid request body"})
		}
	}
	if req.RefreshToken == "" {
		req.RefreshToken = c.Get(middleware.HeaderRefreshToken)
	}
	if req.RefreshToken == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.DetailResponse{Detail: "Invalid refresh token"})
	}

	pair, err := h.sessions.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		switch {
		case auth.IsTokenError(err), errors.Is(err, services.ErrStaleRefreshToken):
			h.log.Debug("refresh rejected", zap.Error(err))
		case errors.Is(err, auth.ErrInvalidSignature):
			h.log.Warn("refresh rejected", zap.Error(err))
		case errors.Is(err, repositories.ErrUserNotFound):
			h.log.Info("refresh rejected: unknown user", zap.Error(err))
		default:
			h.log.Error("refresh failed", zap.Error(err))
		}
		return c.Status(fiber.StatusUnauthorized).JSON(dto.DetailResponse{Detail: "Invalid refresh token"})
	}

	return c.JSON(dto.TokenPairResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}
