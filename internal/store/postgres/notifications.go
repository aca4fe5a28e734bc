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

type NotificationsStore struct {
	pool *pgxpool.Pool
}

func NewNotificationsStore(pool *pgxpool.Pool) *NotificationsStore {
	return &NotificationsStore{pool: pool}
}

const notificationColumns = `id, user_id, title, body, type, link, status, send_at, expires_at, created_at, sent_at, claimed_at`

// CreateNotifications stores one record per user from the template n in a
// single transaction. Records come back in userIDs order.
func (s *NotificationsStore) CreateNotifications(ctx context.Context, userIDs []string, n domain.Notification) ([]domain.Notification, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	const q = `
		INSERT INTO notifications (user_id, title, body, type, link, status, send_at, expires_at, created_at, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + notificationColumns

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("create notifications: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := make([]domain.Notification, 0, len(userIDs))
	for _, userID := range userIDs {
		rec, err := scanNotification(tx.QueryRow(ctx, q,
			userID,
			n.Title,
			n.Body,
			string(n.Type),
			nullIfEmpty(n.Link),
			string(n.Status),
			n.SendAt,
			n.ExpiresAt,
			n.CreatedAt,
			n.ClaimedAt,
		))
		if err != nil {
			return nil, fmt.Errorf("create notification for %s: %w", userID, err)
		}
		out = append(out, rec)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("create notifications: commit: %w", err)
	}
	return out, nil
}

// ClaimDue moves up to limit due records into the dispatching state, stamps
// them with now and returns them. A record is due when it is pending with
// send_at <= now, or when it was claimed before staleBefore and never
// finished. Concurrent claimers never share a row.
func (s *NotificationsStore) ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.Notification, error) {
	const q = `
		UPDATE notifications
		SET status = 'dispatching', claimed_at = $1
		WHERE id IN (
			SELECT id FROM notifications
			WHERE (status = 'pending' AND send_at <= $1)
			   OR (status = 'dispatching' AND COALESCE(claimed_at, created_at) < $2)
			ORDER BY send_at, id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + notificationColumns

	rows, err := s.pool.Query(ctx, q, now, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim due notifications: %w", err)
	}
	return out, nil
}

func (s *NotificationsStore) SetStatus(ctx context.Context, id string, status domain.NotificationStatus, sentAt *time.Time) error {
	const q = `
		UPDATE notifications
		SET status = $2, sent_at = COALESCE($3, sent_at), claimed_at = NULL
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, q, id, string(status), sentAt)
	if err != nil {
		return fmt.Errorf("set notification status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *NotificationsStore) ListForUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	const q = `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1 AND status <> 'pending' AND status <> 'dispatching'
		ORDER BY created_at DESC, id
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

func scanNotification(row pgx.Row) (domain.Notification, error) {
	var (
		n         domain.Notification
		idUUID    pgtype.UUID
		userUUID  pgtype.UUID
		typ       string
		link      pgtype.Text
		status    string
		expiresTS pgtype.Timestamptz
		sentTS    pgtype.Timestamptz
		claimedTS pgtype.Timestamptz
	)
	err := row.Scan(
		&idUUID,
		&userUUID,
		&n.Title,
		&n.Body,
		&typ,
		&link,
		&status,
		&n.SendAt,
		&expiresTS,
		&n.CreatedAt,
		&sentTS,
		&claimedTS,
	)
	if err != nil {
		return domain.Notification{}, err
	}
	n.ID = uuidOrEmpty(idUUID)
	n.UserID = uuidOrEmpty(userUUID)
	n.Type = domain.NotificationType(typ)
	n.Link = textOrEmpty(link)
	n.Status = domain.NotificationStatus(status)
	n.ExpiresAt = timestamptzPtr(expiresTS)
	n.SentAt = timestamptzPtr(sentTS)
	n.ClaimedAt = timestamptzPtr(claimedTS)
	return n, nil
}
