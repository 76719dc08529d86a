package store

import (
	"context"
	"time"

	"urclec/services/auth-service/internal/models"
)

type LoginInput struct {
	Email     string
	Password  string
	TTL       time.Duration
	IP        string
	UserAgent string
}

type LoginResult struct {
	User    models.User
	Session models.Session
}

type Store interface {
	Login(ctx context.Context, input LoginInput) (LoginResult, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
	RevokeSession(ctx context.Context, sessionID string) error
}
