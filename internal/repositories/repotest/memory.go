// Package repotest provides an in-memory user directory for tests.
package repotest

import (
	"context"
	"sync"
	"time"

	"github.com/giftme/backend/internal/models"
	"github.com/giftme/backend/internal/repositories"
)

// MemoryUserStore mirrors UserRepo semantics: unique telegram_id, find-or-create
// on conflict, single refresh token slot, all-or-nothing provisioning.
type MemoryUserStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*models.User

	// Err, when set, is returned by every method.
	Err error
	// Creates counts successful inserts.
	Creates int
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{byID: make(map[int64]*models.User)}
}

func (s *MemoryUserStore) GetByID(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	u, ok := s.byID[id]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	return clone(u), nil
}

func (s *MemoryUserStore) GetByTelegramID(_ context.Context, telegramID int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if u := s.findLocked(telegramID); u != nil {
		return clone(u), nil
	}
	return nil, repositories.ErrUserNotFound
}

func (s *MemoryUserStore) Create(_ context.Context, in models.CreateUserInput) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return clone(s.insertLocked(in)), nil
}

func (s *MemoryUserStore) CreateWithRefreshToken(_ context.Context, in models.CreateUserInput, issue func(userID int64) (string, error)) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	existing := s.findLocked(in.TelegramID)
	id := s.nextID + 1
	if existing != nil {
		id = existing.ID
	}

	token, err := issue(id)
	if err != nil {
		// rollback: nothing was written
		return nil, err
	}

	u := existing
	if u == nil {
		u = s.insertLocked(in)
	}
	u.RefreshToken = &token
	return clone(u), nil
}

func (s *MemoryUserStore) SetRefreshToken(_ context.Context, id int64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	u, ok := s.byID[id]
	if !ok {
		return repositories.ErrUserNotFound
	}
	u.RefreshToken = &token
	u.UpdatedAt = time.Now()
	return nil
}

// Count returns the number of stored users.
func (s *MemoryUserStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Delete removes a user, simulating an account deleted elsewhere.
func (s *MemoryUserStore) Delete(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

func (s *MemoryUserStore) findLocked(telegramID int64) *models.User {
	for _, u := range s.byID {
		if u.TelegramID == telegramID {
			return u
		}
	}
	return nil
}

func (s *MemoryUserStore) insertLocked(in models.CreateUserInput) *models.User {
	if u := s.findLocked(in.TelegramID); u != nil {
		return u
	}
	s.nextID++
	now := time.Now()
	u := &models.User{
		ID:         s.nextID,
		TelegramID: in.TelegramID,
		Username:   in.Username,
		Profile:    in.Profile,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.byID[u.ID] = u
	s.Creates++
	return u
}

func clone(u *models.User) *models.User {
	c := *u
	if u.RefreshToken != nil {
		t := *u.RefreshToken
		c.RefreshToken = &t
	}
	return &c
}
