package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"urclec/services/notification-service/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) InsertNotification(ctx context.Context, notification store.Notification) (bool, error) {
	if notification.NotificationID == "" {
		notification.NotificationID = uuid.NewString()
	}
	if notification.Status == "" {
		notification.Status = store.StatusPending
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (notification_id, event_id, recipient_id, channel, message, status, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id, recipient_id, channel) DO NOTHING
	`, notification.NotificationID, notification.EventID, notification.RecipientID, notification.Channel,
		notification.Message, notification.Status, notification.Attempts)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) MarkNotificationSent(ctx context.Context, notificationID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'sent', sent_at = now(), last_error = NULL, attempts = attempts + 1
		WHERE notification_id = $1
	`, notificationID)
	return err
}

func (s *Store) MarkNotificationFailed(ctx context.Context, notificationID, lastError string) (int, error) {
	var attempts int
	row := s.pool.QueryRow(ctx, `
		UPDATE notifications
		SET status = 'failed', last_error = $2, attempts = attempts + 1
		WHERE notification_id = $1
		RETURNING attempts
	`, notificationID, lastError)
	if err := row.Scan(&attempts); err != nil {
		return 0, err
	}
	return attempts, nil
}

// ListRetryable returns failed notifications that still have attempts left
// and have not been dead-lettered, oldest first.
func (s *Store) ListRetryable(ctx context.Context, maxAttempts, limit int) ([]store.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT n.notification_id::text, n.event_id::text, n.recipient_id::text, n.channel, n.message,
		       n.status, n.attempts, COALESCE(n.last_error, ''), n.created_at
		FROM notifications n
		WHERE n.status = 'failed'
		  AND n.attempts < $1
		  AND NOT EXISTS (SELECT 1 FROM notification_dlq d WHERE d.notification_id = n.notification_id)
		ORDER BY n.created_at ASC
		LIMIT $2
	`, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []store.Notification
	for rows.Next() {
		var n store.Notification
		if err := rows.Scan(&n.NotificationID, &n.EventID, &n.RecipientID, &n.Channel, &n.Message,
			&n.Status, &n.Attempts, &n.LastError, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (s *Store) InsertDLQ(ctx context.Context, notificationID, reason string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_dlq (notification_id, reason)
		VALUES ($1, $2)
		ON CONFLICT (notification_id) DO NOTHING
	`, notificationID, reason)
	return err
}

// Contacts looks up active users only; deactivated accounts stop receiving
// notifications.
func (s *Store) Contacts(ctx context.Context, userIDs []string) (map[string]store.Contact, error) {
	contacts := make(map[string]store.Contact, len(userIDs))
	if len(userIDs) == 0 {
		return contacts, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT user_id::text, email, full_name
		FROM users
		WHERE user_id::text = ANY($1) AND active
	`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("load contacts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c store.Contact
		if err := rows.Scan(&c.UserID, &c.Email, &c.FullName); err != nil {
			return nil, err
		}
		contacts[c.UserID] = c
	}
	return contacts, rows.Err()
}
