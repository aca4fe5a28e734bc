package memory

import (
	"context"
	"sync"
	"time"

	"TutorNotifyServer/internal/domain"

	"github.com/google/uuid"
)

type SessionsStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	now      func() time.Time
}

func NewSessionsStore() *SessionsStore {
	return &SessionsStore{sessions: make(map[string]domain.Session), now: time.Now}
}

func (s *SessionsStore) CreateSession(_ context.Context, userID string, expiresAt time.Time, _, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.sessions[id] = domain.Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: s.now().UTC(),
		ExpiresAt: expiresAt,
	}
	return id, nil
}

func (s *SessionsStore) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.RevokedAt != nil || !sess.ExpiresAt.After(s.now()) {
		return domain.Session{}, domain.ErrNotFound
	}
	return sess, nil
}

func (s *SessionsStore) BindPushToken(_ context.Context, sessionID, token string, platform domain.Platform) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	sess.PushToken = token
	sess.PushPlatform = platform
	s.sessions[sessionID] = sess
	return nil
}

func (s *SessionsStore) RevokeSession(_ context.Context, sessionID string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.RevokedAt != nil {
		return nil
	}
	sess.RevokedAt = &when
	sess.PushToken, sess.PushPlatform = "", ""
	s.sessions[sessionID] = sess
	return nil
}
