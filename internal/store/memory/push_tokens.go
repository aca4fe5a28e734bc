// Package memory holds process-local stores with the same semantics as the
// Postgres stores. They back the dev server when no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"TutorNotifyServer/internal/domain"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type tokenKey struct {
	userID string
	token  string
}

type PushTokensStore struct {
	mu   sync.Mutex
	rows map[tokenKey]domain.PushToken
}

func NewPushTokensStore() *PushTokensStore {
	return &PushTokensStore{rows: make(map[tokenKey]domain.PushToken)}
}

func (s *PushTokensStore) UpsertToken(_ context.Context, userID, token string, platform domain.Platform, when time.Time) (domain.PushToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := tokenKey{userID: userID, token: token}
	row, ok := s.rows[k]
	if !ok {
		row = domain.PushToken{
			ID:         uuid.NewString(),
			UserID:     userID,
			Token:      token,
			CreatedAt:  when,
			LastActive: when,
		}
	}
	row.Platform = platform
	if when.After(row.LastActive) {
		row.LastActive = when
	}
	s.rows[k] = row
	return row, nil
}

func (s *PushTokensStore) TouchToken(_ context.Context, userID, token string, when time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := tokenKey{userID: userID, token: token}
	row, ok := s.rows[k]
	if !ok {
		return false, nil
	}
	if when.After(row.LastActive) {
		row.LastActive = when
	}
	s.rows[k] = row
	return true, nil
}

func (s *PushTokensStore) DeleteToken(_ context.Context, userID, token string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := tokenKey{userID: userID, token: token}
	if _, ok := s.rows[k]; !ok {
		return 0, nil
	}
	delete(s.rows, k)
	return 1, nil
}

func (s *PushTokensStore) DeleteUserTokens(_ context.Context, userID string) (int64, error) {
	return s.deleteWhere(func(t domain.PushToken) bool { return t.UserID == userID }), nil
}

func (s *PushTokensStore) DeleteTokensInactiveSince(_ context.Context, cutoff time.Time) (int64, error) {
	return s.deleteWhere(func(t domain.PushToken) bool { return t.LastActive.Before(cutoff) }), nil
}

func (s *PushTokensStore) deleteWhere(match func(domain.PushToken) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, row := range s.rows {
		if match(row) {
			delete(s.rows, k)
			n++
		}
	}
	return n
}

func (s *PushTokensStore) ListTokens(_ context.Context, userID string) ([]domain.PushToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := lo.Filter(lo.Values(s.rows), func(t domain.PushToken, _ int) bool { return t.UserID == userID })
	sortByActivity(out)
	return out, nil
}

func (s *PushTokensStore) ListTokensForUsers(_ context.Context, userIDs []string) ([]domain.PushToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := lo.SliceToMap(userIDs, func(id string) (string, struct{}) { return id, struct{}{} })
	out := lo.Filter(lo.Values(s.rows), func(t domain.PushToken, _ int) bool {
		_, ok := want[t.UserID]
		return ok
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].LastActive.After(out[j].LastActive)
	})
	return out, nil
}

// Len is the total number of stored rows across all users.
func (s *PushTokensStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func sortByActivity(ts []domain.PushToken) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].LastActive.Equal(ts[j].LastActive) {
			return ts[i].LastActive.After(ts[j].LastActive)
		}
		return ts[i].ID < ts[j].ID
	})
}
