package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"TutorNotifyServer/internal/domain"

	"github.com/google/uuid"
)

type NotificationsStore struct {
	mu   sync.Mutex
	rows map[string]domain.Notification
}

func NewNotificationsStore() *NotificationsStore {
	return &NotificationsStore{rows: make(map[string]domain.Notification)}
}

func (s *NotificationsStore) CreateNotifications(_ context.Context, userIDs []string, n domain.Notification) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Notification, 0, len(userIDs))
	for _, userID := range userIDs {
		rec := n
		rec.ID = uuid.NewString()
		rec.UserID = userID
		s.rows[rec.ID] = rec
		out = append(out, rec)
	}
	return out, nil
}

func (s *NotificationsStore) ClaimDue(_ context.Context, now, staleBefore time.Time, limit int) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.Notification
	for _, n := range s.rows {
		pending := n.Status == domain.NotificationPending && !n.SendAt.After(now)
		claimedAt := n.CreatedAt
		if n.ClaimedAt != nil {
			claimedAt = *n.ClaimedAt
		}
		stale := n.Status == domain.NotificationDispatching && claimedAt.Before(staleBefore)
		if pending || stale {
			due = append(due, n)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].SendAt.Equal(due[j].SendAt) {
			return due[i].SendAt.Before(due[j].SendAt)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		claimedAt := now
		due[i].Status = domain.NotificationDispatching
		due[i].ClaimedAt = &claimedAt
		s.rows[due[i].ID] = due[i]
	}
	return due, nil
}

func (s *NotificationsStore) SetStatus(_ context.Context, id string, status domain.NotificationStatus, sentAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Status = status
	n.ClaimedAt = nil
	if sentAt != nil {
		t := *sentAt
		n.SentAt = &t
	}
	s.rows[id] = n
	return nil
}

func (s *NotificationsStore) ListForUser(_ context.Context, userID string, limit int) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Notification
	for _, n := range s.rows {
		if n.UserID != userID || n.Status == domain.NotificationPending || n.Status == domain.NotificationDispatching {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *NotificationsStore) Get(id string) (domain.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	return n, ok
}
