package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"

	"academia-backend/internal/changestream"
	"academia-backend/internal/models"
)

const notificationColumns = `id, user_id, title, message, type, is_read, action_url,
	created_at, read_at, expires_at`

type NotificationRepo struct {
	pool      *pgxpool.Pool
	publisher changestream.Publisher
}

func NewNotificationRepo(pool *pgxpool.Pool, publisher changestream.Publisher) *NotificationRepo {
	if publisher == nil {
		publisher = changestream.NopPublisher{}
	}
	return &NotificationRepo{pool: pool, publisher: publisher}
}

// ListActive returns the user's unexpired notifications, newest first.
func (r *NotificationRepo) ListActive(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, errors.Annotate(err, "listing notifications")
	}
	defer rows.Close()

	list := []*models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, errors.Trace(err)
		}
		list = append(list, n)
	}
	return list, errors.Trace(rows.Err())
}

func (r *NotificationRepo) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM notifications
		WHERE user_id = $1
		  AND is_read = FALSE
		  AND (expires_at IS NULL OR expires_at > NOW())
	`, userID).Scan(&count)
	if err != nil {
		return 0, errors.Annotate(err, "counting unread notifications")
	}
	return count, nil
}

// MarkAsRead sets read_at on an unread notification. It reports false when
// the notification was already read; read_at is never overwritten.
func (r *NotificationRepo) MarkAsRead(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx, `
		UPDATE notifications
		SET is_read = TRUE,
			read_at = NOW()
		WHERE id = $1
		  AND user_id = $2
		  AND is_read = FALSE
		RETURNING `+notificationColumns,
		id, userID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM notifications WHERE id = $1 AND user_id = $2)", id, userID,
		).Scan(&exists); err != nil {
			return false, errors.Annotatef(err, "looking up notification %s", id)
		}
		if !exists {
			return false, errors.NotFoundf("notification %s", id)
		}
		return false, nil
	}
	if err != nil {
		return false, errors.Annotatef(err, "marking notification %s read", id)
	}

	publish(ctx, r.publisher, models.TableNotifications, models.OpUpdate, userID, n, nil)
	return true, nil
}

// MarkAllAsRead marks every unread notification of the user read and
// returns how many changed.
func (r *NotificationRepo) MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE notifications
		SET is_read = TRUE,
			read_at = NOW()
		WHERE user_id = $1
		  AND is_read = FALSE
		RETURNING `+notificationColumns,
		userID,
	)
	if err != nil {
		return 0, errors.Annotate(err, "marking notifications read")
	}
	defer rows.Close()

	var changed []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return 0, errors.Trace(err)
		}
		changed = append(changed, n)
	}
	if err := rows.Err(); err != nil {
		return 0, errors.Trace(err)
	}

	for _, n := range changed {
		publish(ctx, r.publisher, models.TableNotifications, models.OpUpdate, userID, n, nil)
	}
	return len(changed), nil
}

// DeleteExpired removes notifications that expired before cutoff.
func (r *NotificationRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notifications
		WHERE expires_at IS NOT NULL
		  AND expires_at < $1
	`, cutoff)
	if err != nil {
		return 0, errors.Annotate(err, "deleting expired notifications")
	}
	return tag.RowsAffected(), nil
}

func scanNotification(row pgx.Row) (*models.Notification, error) {
	n := &models.Notification{}
	err := row.Scan(
		&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &n.IsRead, &n.ActionURL,
		&n.CreatedAt, &n.ReadAt, &n.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return n, nil
}
