package handlers

import (
	"errors"

	"github.com/giftme/backend/internal/http/dto"
	"github.com/giftme/backend/internal/middleware"
	"github.com/giftme/backend/internal/repositories"
	"github.com/giftme/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type UserHandler struct {
	sessions *services.SessionService
	log      *zap.Logger
}

func NewUserHandler(sessions *services.SessionService, log *zap.Logger) *UserHandler {
	return &UserHandler{sessions: sessions, log: log}
}

// GetMe returns the authenticated user. GET /twa/api/me
func (h *UserHandler) GetMe(c *fiber.Ctx) error {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.DetailResponse{Detail: "Unauthorized"})
	}

	user, err := h.sessions.UserByID(c.UserContext(), id.UserID)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "user not found"})
	}
	if err != nil {
		h.log.Error("failed to load user", zap.Int64("user_id", id.UserID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	return c.JSON(dto.NewMeResponse(user, id.Source))
}
