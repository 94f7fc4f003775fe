package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/pressroom/internal/models"
	"github.com/lalith-99/pressroom/internal/repository"
)

type NotificationStore struct {
	pool *pgxpool.Pool
}

func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

const notificationColumns = `id, recipient_id, title, body, kind, related_order_id, action_url, created_at, read_at`

func scanNotification(row pgx.Row) (models.Notification, error) {
	var n models.Notification
	err := row.Scan(
		&n.ID,
		&n.RecipientID,
		&n.Title,
		&n.Body,
		&n.Kind,
		&n.RelatedOrderID,
		&n.ActionURL,
		&n.CreatedAt,
		&n.ReadAt,
	)
	return n, err
}

func (s *NotificationStore) Create(ctx context.Context, n models.Notification) (*models.Notification, error) {
	query := `
		INSERT INTO notifications (recipient_id, title, body, kind, related_order_id, action_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING ` + notificationColumns

	created, err := scanNotification(s.pool.QueryRow(ctx, query,
		n.RecipientID, n.Title, n.Body, n.Kind, n.RelatedOrderID, n.ActionURL))
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return &created, nil
}

func (s *NotificationStore) GetForRecipient(ctx context.Context, id uuid.UUID, recipientID uuid.UUID) (*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1 AND recipient_id = $2`

	n, err := scanNotification(s.pool.QueryRow(ctx, query, id, recipientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return &n, nil
}

func (s *NotificationStore) MarkRead(ctx context.Context, id uuid.UUID, recipientID uuid.UUID) (*models.Notification, error) {
	// COALESCE keeps an earlier read_at, so repeated calls return the
	// same row unchanged.
	query := `
		UPDATE notifications
		SET read_at = COALESCE(read_at, now())
		WHERE id = $1 AND recipient_id = $2
		RETURNING ` + notificationColumns

	n, err := scanNotification(s.pool.QueryRow(ctx, query, id, recipientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return &n, nil
}

func (s *NotificationStore) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	query := `
		UPDATE notifications
		SET read_at = now()
		WHERE recipient_id = $1 AND read_at IS NULL`

	tag, err := s.pool.Exec(ctx, query, recipientID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *NotificationStore) CountUnread(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	query := `SELECT count(*) FROM notifications WHERE recipient_id = $1 AND read_at IS NULL`

	var n int64
	if err := s.pool.QueryRow(ctx, query, recipientID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

func (s *NotificationStore) List(ctx context.Context, q repository.NotificationQuery) ([]models.Notification, int64, error) {
	filter := `recipient_id = $1`
	if q.UnreadOnly {
		filter += ` AND read_at IS NULL`
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM notifications WHERE `+filter, q.RecipientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE ` + filter + `
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3`

	rows, err := s.pool.Query(ctx, query, q.RecipientID, q.Offset, q.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]models.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, total, nil
}

func (s *NotificationStore) Delete(ctx context.Context, id uuid.UUID, recipientID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1 AND recipient_id = $2`, id, recipientID)
	if err != nil {
		return false, fmt.Errorf("delete notification: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *NotificationStore) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM notifications WHERE read_at IS NOT NULL AND created_at < $1`

	tag, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}
