package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TutorNotifyServer/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SessionsStore struct {
	pool *pgxpool.Pool
}

func NewSessionsStore(pool *pgxpool.Pool) *SessionsStore {
	return &SessionsStore{pool: pool}
}

func (s *SessionsStore) CreateSession(ctx context.Context, userID string, expiresAt time.Time, ip, userAgent string) (string, error) {
	const q = `
		INSERT INTO sessions (user_id, expires_at, ip, user_agent)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	var idUUID pgtype.UUID
	err := s.pool.QueryRow(ctx, q, userID, expiresAt, nullIfEmpty(ip), nullIfEmpty(userAgent)).Scan(&idUUID)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	return uuidOrEmpty(idUUID), nil
}

const sessionColumns = `id, user_id, created_at, expires_at, revoked_at, push_token, push_platform`

// GetSession returns a live session. Expired and revoked sessions read as
// domain.ErrNotFound.
func (s *SessionsStore) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	q := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE id = $1 AND revoked_at IS NULL AND expires_at > now()`

	sess, err := scanSession(s.pool.QueryRow(ctx, q, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// BindPushToken records the device token held by a session. An empty token
// clears the binding.
func (s *SessionsStore) BindPushToken(ctx context.Context, sessionID, token string, platform domain.Platform) error {
	const q = `
		UPDATE sessions
		SET push_token = $2, push_platform = $3
		WHERE id = $1
	`
	_, err := s.pool.Exec(ctx, q, sessionID, nullIfEmpty(token), nullIfEmpty(string(platform)))
	if err != nil {
		return fmt.Errorf("bind session push token: %w", err)
	}
	return nil
}

// RevokeSession ends the session and drops its device binding, so a revoked
// row never points at a token that logout already removed.
func (s *SessionsStore) RevokeSession(ctx context.Context, sessionID string, when time.Time) error {
	const q = `
		UPDATE sessions
		SET revoked_at = $2, push_token = NULL, push_platform = NULL
		WHERE id = $1 AND revoked_at IS NULL
	`
	if _, err := s.pool.Exec(ctx, q, sessionID, when); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (domain.Session, error) {
	var (
		sess               domain.Session
		idUUID, userUUID   pgtype.UUID
		revokedAt          pgtype.Timestamptz
		pushToken, pushPlt pgtype.Text
	)
	if err := row.Scan(&idUUID, &userUUID, &sess.CreatedAt, &sess.ExpiresAt, &revokedAt, &pushToken, &pushPlt); err != nil {
		return domain.Session{}, err
	}
	sess.ID = uuidOrEmpty(idUUID)
	sess.UserID = uuidOrEmpty(userUUID)
	sess.RevokedAt = timestamptzPtr(revokedAt)
	sess.PushToken = textOrEmpty(pushToken)
	sess.PushPlatform = domain.Platform(textOrEmpty(pushPlt))
	return sess, nil
}
