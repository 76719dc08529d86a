package store

import (
	"context"
	"time"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

type Notification struct {
	NotificationID string
	EventID        string
	RecipientID    string
	Channel        string
	Message        string
	Status         string
	Attempts       int
	LastError      string
	CreatedAt      time.Time
}

// Contact is where a user can be reached.
type Contact struct {
	UserID   string
	Email    string
	FullName string
}

type Store interface {
	// InsertNotification reports false when the (event, recipient, channel)
	// triple was already recorded.
	InsertNotification(ctx context.Context, notification Notification) (bool, error)
	MarkNotificationSent(ctx context.Context, notificationID string) error
	MarkNotificationFailed(ctx context.Context, notificationID, lastError string) (int, error)
	ListRetryable(ctx context.Context, maxAttempts, limit int) ([]Notification, error)
	InsertDLQ(ctx context.Context, notificationID, reason string) error
	Contacts(ctx context.Context, userIDs []string) (map[string]Contact, error)
}
