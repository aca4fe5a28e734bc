package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"TutorNotifyServer/internal/domain"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type UsersStore struct {
	mu    sync.Mutex
	users map[string]domain.UserWithPassword
	now   func() time.Time
}

func NewUsersStore() *UsersStore {
	return &UsersStore{users: make(map[string]domain.UserWithPassword), now: time.Now}
}

func (s *UsersStore) CreateUser(_ context.Context, email, username, passwordHash string, role domain.Role) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return domain.User{}, domain.ErrUsernameTaken
		}
		if email != "" && strings.EqualFold(u.Email, email) {
			return domain.User{}, domain.ErrEmailTaken
		}
	}

	now := s.now().UTC()
	u := domain.UserWithPassword{
		User: domain.User{
			ID:        uuid.NewString(),
			Email:     email,
			Username:  username,
			Role:      role,
			Status:    domain.UserStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		},
		PasswordHash: passwordHash,
	}
	s.users[u.ID] = u
	return u.User, nil
}

func (s *UsersStore) GetUserByID(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u.User, nil
}

func (s *UsersStore) GetUserByLogin(_ context.Context, login string) (domain.UserWithPassword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var byEmail *domain.UserWithPassword
	for _, u := range s.users {
		if strings.EqualFold(u.Username, login) {
			return u, nil
		}
		if u.Email != "" && strings.EqualFold(u.Email, login) {
			u := u
			byEmail = &u
		}
	}
	if byEmail != nil {
		return *byEmail, nil
	}
	return domain.UserWithPassword{}, domain.ErrNotFound
}

func (s *UsersStore) GetUserByEmail(_ context.Context, email string) (domain.UserWithPassword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email != "" && strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return domain.UserWithPassword{}, domain.ErrNotFound
}

func (s *UsersStore) SetLastLogin(_ context.Context, userID string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil
	}
	u.LastLoginAt = &when
	u.UpdatedAt = when
	s.users[userID] = u
	return nil
}

func (s *UsersStore) ListActiveUserIDs(_ context.Context, ids []string, role domain.Role) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := lo.SliceToMap(ids, func(id string) (string, struct{}) { return id, struct{}{} })
	var out []string
	for id, u := range s.users {
		if u.Status != domain.UserStatusActive {
			continue
		}
		_, listed := want[id]
		if listed || (role != "" && u.Role == role) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// SetStatus disables or re-enables an account in place.
func (s *UsersStore) SetStatus(userID string, status domain.UserStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[userID]; ok {
		u.Status = status
		s.users[userID] = u
	}
}
