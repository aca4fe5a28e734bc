// Package storetest holds behaviour tests shared by every push token store
// implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"TutorNotifyServer/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type PushTokensStore interface {
	UpsertToken(ctx context.Context, userID, token string, platform domain.Platform, when time.Time) (domain.PushToken, error)
	TouchToken(ctx context.Context, userID, token string, when time.Time) (bool, error)
	DeleteToken(ctx context.Context, userID, token string) (int64, error)
	DeleteUserTokens(ctx context.Context, userID string) (int64, error)
	DeleteTokensInactiveSince(ctx context.Context, cutoff time.Time) (int64, error)
	ListTokens(ctx context.Context, userID string) ([]domain.PushToken, error)
	ListTokensForUsers(ctx context.Context, userIDs []string) ([]domain.PushToken, error)
}

// Fixture is a fresh, empty store plus a way to create users it accepts.
type Fixture struct {
	Tokens  PushTokensStore
	NewUser func(t *testing.T) string
}

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func RunPushTokens(t *testing.T, setup func(t *testing.T) Fixture) {
	t.Run("UpsertIsIdempotentPerUserAndToken", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		a := f.NewUser(t)

		first, err := f.Tokens.UpsertToken(ctx, a, "T1", domain.PlatformIOS, base)
		require.NoError(t, err)
		second, err := f.Tokens.UpsertToken(ctx, a, "T1", domain.PlatformIOS, base.Add(time.Hour))
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.True(t, second.LastActive.Equal(base.Add(time.Hour)), "last_active not advanced: %v", second.LastActive)

		rows, err := f.Tokens.ListTokens(ctx, a)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("ConcurrentUpsertsKeepOneRow", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		a := f.NewUser(t)

		const workers = 16
		ids := make([]string, workers)
		var g errgroup.Group
		for i := range workers {
			g.Go(func() error {
				row, err := f.Tokens.UpsertToken(ctx, a, "T1", domain.PlatformIOS, base.Add(time.Duration(i)*time.Second))
				ids[i] = row.ID
				return err
			})
		}
		require.NoError(t, g.Wait())

		rows, err := f.Tokens.ListTokens(ctx, a)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		for i, id := range ids {
			assert.Equal(t, rows[0].ID, id, "worker %d saw a different row", i)
		}
	})

	t.Run("DistinctTokensAreSeparateDevices", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		a := f.NewUser(t)

		_, err := f.Tokens.UpsertToken(ctx, a, "T1", domain.PlatformIOS, base)
		require.NoError(t, err)
		_, err = f.Tokens.UpsertToken(ctx, a, "T2", domain.PlatformAndroid, base.Add(time.Minute))
		require.NoError(t, err)

		rows, err := f.Tokens.ListTokens(ctx, a)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "T2", rows[0].Token, "most recently active first")
		assert.Equal(t, "T1", rows[1].Token)
	})

	t.Run("SameTokenForTwoUsers", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		a, b := f.NewUser(t), f.NewUser(t)

		_, err := f.Tokens.UpsertToken(ctx, a, "shared", domain.PlatformWeb, base)
		require.NoError(t, err)
		_, err = f.Tokens.UpsertToken(ctx, b, "shared", domain.PlatformWeb, base)
		require.NoError(t, err)

		rows, err := f.Tokens.ListTokensForUsers(ctx, []string{a, b})
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("TouchOnlyExistingRows", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		a := f.NewUser(t)

		ok, err := f.Tokens.TouchToken(ctx, a, "missing", base)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = f.Tokens.UpsertToken(ctx, a, "T1", domain.PlatformIOS, base)
		require.NoError(t, err)
		ok, err = f.Tokens.TouchToken(ctx, a, "T1", base.Add(2*time.Hour))
		require.NoError(t, err)
		assert.True(t, ok)

		rows, err := f.Tokens.ListTokens(ctx, a)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, rows[0].LastActive.Equal(base.Add(2*time.Hour)))
	})

	t.Run("DeleteTokenLeavesOtherDevices", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		a := f.NewUser(t)

		_, err := f.Tokens.UpsertToken(ctx, a, "T1", domain.PlatformIOS, base)
		require.NoError(t, err)
		_, err = f.Tokens.UpsertToken(ctx, a, "T2", domain.PlatformAndroid, base)
		require.NoError(t, err)

		n, err := f.Tokens.DeleteToken(ctx, a, "T1")
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		rows, err := f.Tokens.ListTokens(ctx, a)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "T2", rows[0].Token)

		n, err = f.Tokens.DeleteToken(ctx, a, "T1")
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)
	})

	t.Run("DeleteUserTokensScopedToUser", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		a, b := f.NewUser(t), f.NewUser(t)

		_, err := f.Tokens.UpsertToken(ctx, a, "T1", domain.PlatformIOS, base)
		require.NoError(t, err)
		_, err = f.Tokens.UpsertToken(ctx, a, "T2", domain.PlatformIOS, base)
		require.NoError(t, err)
		_, err = f.Tokens.UpsertToken(ctx, b, "T3", domain.PlatformAndroid, base)
		require.NoError(t, err)

		n, err := f.Tokens.DeleteUserTokens(ctx, a)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		rows, err := f.Tokens.ListTokens(ctx, b)
		require.NoError(t, err)
		assert.Len(t, rows, 1)

		n, err = f.Tokens.DeleteUserTokens(ctx, a)
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)
	})

	t.Run("DeleteInactiveSinceCutoff", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		a, b := f.NewUser(t), f.NewUser(t)

		_, err := f.Tokens.UpsertToken(ctx, a, "old", domain.PlatformIOS, base.AddDate(0, 0, -31))
		require.NoError(t, err)
		_, err = f.Tokens.UpsertToken(ctx, b, "fresh", domain.PlatformIOS, base.AddDate(0, 0, -29))
		require.NoError(t, err)

		n, err := f.Tokens.DeleteTokensInactiveSince(ctx, base.AddDate(0, 0, -30))
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		rows, err := f.Tokens.ListTokensForUsers(ctx, []string{a, b})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "fresh", rows[0].Token)
	})
}
