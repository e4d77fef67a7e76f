package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/giftme/backend/internal/auth"
	"github.com/giftme/backend/internal/events"
	"github.com/giftme/backend/internal/models"
	"github.com/giftme/backend/internal/repositories"
	"go.uber.org/zap"
)

// ErrStaleRefreshToken — refresh токен валиден, но уже заменён более новым.
var ErrStaleRefreshToken = errors.New("refresh token was superseded")

// UserStore is the user directory as seen by the session layer.
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	Create(ctx context.Context, in models.CreateUserInput) (*models.User, error)
	CreateWithRefreshToken(ctx context.Context, in models.CreateUserInput, issue func(userID int64) (string, error)) (*models.User, error)
	SetRefreshToken(ctx context.Context, id int64, token string) error
}

// SessionService owns "mint a pair and persist the refresh token", shared by
// the gatekeeper, the refresh endpoint and the bot /start handler.
type SessionService struct {
	users     UserStore
	tokens    *auth.TokenManager
	publisher events.Publisher
	log       *zap.Logger
}

func NewSessionService(users UserStore, tokens *auth.TokenManager, publisher events.Publisher, log *zap.Logger) *SessionService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &SessionService{
		users:     users,
		tokens:    tokens,
		publisher: publisher,
		log:       log,
	}
}

func (s *SessionService) Tokens() *auth.TokenManager {
	return s.tokens
}

func (s *SessionService) UserByID(ctx context.Context, id int64) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *SessionService) UserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	return s.users.GetByTelegramID(ctx, telegramID)
}

// LoginWithTelegram finds the user by telegram id or creates it from the
// platform claims, then mints a fresh pair and stores its refresh token.
// created is true when the user row was inserted by this call.
func (s *SessionService) LoginWithTelegram(ctx context.Context, tg auth.TelegramUser) (*models.User, auth.TokenPair, bool, error) {
	user, err := s.users.GetByTelegramID(ctx, tg.ID)
	switch {
	case err == nil:
		pair, err := s.Issue(ctx, user.ID)
		if err != nil {
			return nil, auth.TokenPair{}, false, err
		}
		user.RefreshToken = &pair.RefreshToken
		return user, pair, false, nil

	case errors.Is(err, repositories.ErrUserNotFound):
		// create + refresh token одной транзакцией
		var pair auth.TokenPair
		user, err = s.users.CreateWithRefreshToken(ctx, NewUserInput(tg), func(userID int64) (string, error) {
			p, err := s.tokens.IssuePair(userID)
			if err != nil {
				return "", err
			}
			pair = p
			return p.RefreshToken, nil
		})
		if err != nil {
			return nil, auth.TokenPair{}, false, fmt.Errorf("provision telegram user %d: %w", tg.ID, err)
		}
		s.log.Info("user provisioned", zap.Int64("user_id", user.ID), zap.Int64("telegram_id", tg.ID))
		s.publishRotated(ctx, user.ID, "login")
		return user, pair, true, nil

	default:
		return nil, auth.TokenPair{}, false, fmt.Errorf("lookup telegram user %d: %w", tg.ID, err)
	}
}

// Issue mints an access+refresh pair for an existing user and overwrites the
// stored refresh token.
func (s *SessionService) Issue(ctx context.Context, userID int64) (auth.TokenPair, error) {
	pair, err := s.tokens.IssuePair(userID)
	if err != nil {
		return auth.TokenPair{}, err
	}
	if err := s.users.SetRefreshToken(ctx, userID, pair.RefreshToken); err != nil {
		return auth.TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}
	s.publishRotated(ctx, userID, "login")
	return pair, nil
}

// RotateRefresh mints and stores only a new refresh token. Used on every
// token-authenticated pass, where the access token may stay as is.
func (s *SessionService) RotateRefresh(ctx context.Context, userID int64) (string, error) {
	token, err := s.tokens.IssueRefresh(userID)
	if err != nil {
		return "", err
	}
	if err := s.users.SetRefreshToken(ctx, userID, token); err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return token, nil
}

// Refresh exchanges the current refresh token for a new pair. Any refresh
// token other than the stored one is rejected even before its exp.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
	userID, err := s.tokens.Validate(refreshToken, auth.TokenRefresh)
	if err != nil {
		return auth.TokenPair{}, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return auth.TokenPair{}, err
	}
	if !user.HasRefreshToken(refreshToken) {
		return auth.TokenPair{}, ErrStaleRefreshToken
	}

	pair, err := s.tokens.IssuePair(userID)
	if err != nil {
		return auth.TokenPair{}, err
	}
	if err := s.users.SetRefreshToken(ctx, userID, pair.RefreshToken); err != nil {
		return auth.TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}
	s.publishRotated(ctx, userID, "refresh")
	return pair, nil
}

func (s *SessionService) publishRotated(ctx context.Context, userID int64, reason string) {
	err := s.publisher.Publish(ctx, events.StreamSession, events.Event{
		Type:    events.EventSessionRotated,
		UserID:  userID,
		Payload: map[string]any{"reason": reason},
	})
	if err != nil {
		s.log.Warn("failed to publish session event", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// NewUserInput maps Telegram claims onto a user row.
func NewUserInput(tg auth.TelegramUser) models.CreateUserInput {
	in := models.CreateUserInput{
		TelegramID: tg.ID,
		Profile:    models.Profile{FirstName: tg.FirstName},
	}
	if tg.Username != "" {
		in.Username = &tg.Username
	}
	if tg.LastName != "" {
		in.Profile.LastName = &tg.LastName
	}
	if tg.LanguageCode != "" {
		in.Profile.LanguageCode = &tg.LanguageCode
	}
	return in
}
