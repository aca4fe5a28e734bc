package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TutorNotifyServer/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsersStore struct {
	pool *pgxpool.Pool
}

func NewUsersStore(pool *pgxpool.Pool) *UsersStore {
	return &UsersStore{pool: pool}
}

const userColumns = `id, email, username, role, status, created_at, updated_at, last_login_at`

func (s *UsersStore) CreateUser(ctx context.Context, email, username, passwordHash string, role domain.Role) (domain.User, error) {
	const q = `
		INSERT INTO users (email, username, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + userColumns

	u, err := scanUser(s.pool.QueryRow(ctx, q, nullIfEmpty(email), username, passwordHash, string(role)))
	if err != nil {
		return domain.User{}, mapUserWriteError(err)
	}
	return u, nil
}

func (s *UsersStore) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

func (s *UsersStore) GetUserByLogin(ctx context.Context, login string) (domain.UserWithPassword, error) {
	const q = `
		SELECT ` + userColumns + `, password_hash
		FROM users
		WHERE lower(username) = lower($1) OR (email IS NOT NULL AND lower(email) = lower($1))
		ORDER BY (lower(username) = lower($1)) DESC
		LIMIT 1
	`
	return s.getUserWithPassword(ctx, q, login, "get user by login")
}

func (s *UsersStore) GetUserByEmail(ctx context.Context, email string) (domain.UserWithPassword, error) {
	const q = `
		SELECT ` + userColumns + `, password_hash
		FROM users
		WHERE lower(email) = lower($1)
		LIMIT 1
	`
	return s.getUserWithPassword(ctx, q, email, "get user by email")
}

func (s *UsersStore) getUserWithPassword(ctx context.Context, q, arg, op string) (domain.UserWithPassword, error) {
	var (
		u           domain.UserWithPassword
		idUUID      pgtype.UUID
		emailText   pgtype.Text
		role        string
		lastLoginTS pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx, q, arg).Scan(
		&idUUID,
		&emailText,
		&u.Username,
		&role,
		&u.Status,
		&u.CreatedAt,
		&u.UpdatedAt,
		&lastLoginTS,
		&u.PasswordHash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserWithPassword{}, domain.ErrNotFound
		}
		return domain.UserWithPassword{}, fmt.Errorf("%s: %w", op, err)
	}

	u.ID = uuidOrEmpty(idUUID)
	u.Email = textOrEmpty(emailText)
	u.Role = domain.Role(role)
	u.LastLoginAt = timestamptzPtr(lastLoginTS)
	return u, nil
}

func (s *UsersStore) SetLastLogin(ctx context.Context, userID string, when time.Time) error {
	const q = `
		UPDATE users
		SET last_login_at = $2, updated_at = now()
		WHERE id = $1
	`
	_, err := s.pool.Exec(ctx, q, userID, when)
	if err != nil {
		return fmt.Errorf("set last login: %w", err)
	}
	return nil
}

// ListActiveUserIDs resolves a notification target: active users whose id is
// in ids, plus every active user holding role when role is set.
func (s *UsersStore) ListActiveUserIDs(ctx context.Context, ids []string, role domain.Role) ([]string, error) {
	const q = `
		SELECT id::text
		FROM users
		WHERE status = 'active'
		  AND (id::text = ANY($1::text[]) OR ($2 <> '' AND role = $2))
		ORDER BY id
	`
	if ids == nil {
		ids = []string{}
	}
	rows, err := s.pool.Query(ctx, q, ids, string(role))
	if err != nil {
		return nil, fmt.Errorf("list active user ids: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list active user ids: %w", err)
	}
	return out, nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u           domain.User
		idUUID      pgtype.UUID
		emailText   pgtype.Text
		role        string
		lastLoginTS pgtype.Timestamptz
	)
	err := row.Scan(
		&idUUID,
		&emailText,
		&u.Username,
		&role,
		&u.Status,
		&u.CreatedAt,
		&u.UpdatedAt,
		&lastLoginTS,
	)
	if err != nil {
		return domain.User{}, err
	}
	u.ID = uuidOrEmpty(idUUID)
	u.Email = textOrEmpty(emailText)
	u.Role = domain.Role(role)
	u.LastLoginAt = timestamptzPtr(lastLoginTS)
	return u, nil
}

func mapUserWriteError(err error) error {
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		switch pgerr.ConstraintName {
		case "users_username_uq":
			return domain.ErrUsernameTaken
		case "users_email_uq":
			return domain.ErrEmailTaken
		default:
			return fmt.Errorf("unique violation (%s): %w", pgerr.ConstraintName, err)
		}
	}
	return fmt.Errorf("create user: %w", err)
}
