package postgres

import (
	"context"
	"fmt"
	"time"

	"TutorNotifyServer/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PushTokensStore struct {
	pool *pgxpool.Pool
}

func NewPushTokensStore(pool *pgxpool.Pool) *PushTokensStore {
	return &PushTokensStore{pool: pool}
}

const pushTokenColumns = `id, user_id, token, platform, created_at, last_active`

// UpsertToken inserts the (user, token) row or, if it exists, only advances
// last_active. The push_tokens_user_token_uq index makes this race free.
func (s *PushTokensStore) UpsertToken(ctx context.Context, userID, token string, platform domain.Platform, when time.Time) (domain.PushToken, error) {
	const q = `
		INSERT INTO push_tokens (user_id, token, platform, created_at, last_active)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_id, token)
		DO UPDATE SET
			platform = EXCLUDED.platform,
			last_active = GREATEST(push_tokens.last_active, EXCLUDED.last_active)
		RETURNING ` + pushTokenColumns

	t, err := scanPushToken(s.pool.QueryRow(ctx, q, userID, token, string(platform), when))
	if err != nil {
		return domain.PushToken{}, fmt.Errorf("upsert push token: %w", err)
	}
	return t, nil
}

func (s *PushTokensStore) TouchToken(ctx context.Context, userID, token string, when time.Time) (bool, error) {
	const q = `
		UPDATE push_tokens
		SET last_active = GREATEST(last_active, $3)
		WHERE user_id = $1 AND token = $2
	`
	tag, err := s.pool.Exec(ctx, q, userID, token, when)
	if err != nil {
		return false, fmt.Errorf("touch push token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PushTokensStore) DeleteToken(ctx context.Context, userID, token string) (int64, error) {
	const q = `
		DELETE FROM push_tokens
		WHERE user_id = $1 AND token = $2
	`
	tag, err := s.pool.Exec(ctx, q, userID, token)
	if err != nil {
		return 0, fmt.Errorf("delete push token: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PushTokensStore) DeleteUserTokens(ctx context.Context, userID string) (int64, error) {
	const q = `DELETE FROM push_tokens WHERE user_id = $1`
	tag, err := s.pool.Exec(ctx, q, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user push tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PushTokensStore) DeleteTokensInactiveSince(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM push_tokens WHERE last_active < $1`
	tag, err := s.pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale push tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PushTokensStore) ListTokens(ctx context.Context, userID string) ([]domain.PushToken, error) {
	const q = `
		SELECT ` + pushTokenColumns + `
		FROM push_tokens
		WHERE user_id = $1
		ORDER BY last_active DESC, id
	`
	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list push tokens: %w", err)
	}
	return collectPushTokens(rows)
}

func (s *PushTokensStore) ListTokensForUsers(ctx context.Context, userIDs []string) ([]domain.PushToken, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	const q = `
		SELECT ` + pushTokenColumns + `
		FROM push_tokens
		WHERE user_id::text = ANY($1::text[])
		ORDER BY user_id, last_active DESC
	`
	rows, err := s.pool.Query(ctx, q, userIDs)
	if err != nil {
		return nil, fmt.Errorf("list push tokens for users: %w", err)
	}
	return collectPushTokens(rows)
}

func collectPushTokens(rows pgx.Rows) ([]domain.PushToken, error) {
	defer rows.Close()

	var out []domain.PushToken
	for rows.Next() {
		t, err := scanPushToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push token: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list push tokens: %w", err)
	}
	return out, nil
}

func scanPushToken(row pgx.Row) (domain.PushToken, error) {
	var (
		t        domain.PushToken
		idUUID   pgtype.UUID
		userUUID pgtype.UUID
		platform string
	)
	if err := row.Scan(&idUUID, &userUUID, &t.Token, &platform, &t.CreatedAt, &t.LastActive); err != nil {
		return domain.PushToken{}, err
	}
	t.ID = uuidOrEmpty(idUUID)
	t.UserID = uuidOrEmpty(userUUID)
	t.Platform = domain.Platform(platform)
	return t, nil
}
