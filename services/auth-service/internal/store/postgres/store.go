package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"urclec/internal/identity"
	"urclec/services/auth-service/internal/models"
	"urclec/services/auth-service/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const userSelect = `
	SELECT u.user_id::text, u.email, u.full_name, COALESCE(u.chef_id::text, ''),
	       COALESCE(u.agency_id::text, ''), COALESCE(u.service_point_id::text, ''),
	       u.password_hash, u.created_at,
	       COALESCE(array_agg(ur.role) FILTER (WHERE ur.role IS NOT NULL), '{}')
	FROM users u
	LEFT JOIN user_roles ur ON ur.user_id = u.user_id
`

func scanUser(row pgx.Row) (models.User, string, error) {
	var (
		user         models.User
		passwordHash string
		roles        []string
	)
	if err := row.Scan(&user.UserID, &user.Email, &user.FullName, &user.ChefID, &user.AgencyID, &user.ServicePointID, &passwordHash, &user.CreatedAt, &roles); err != nil {
		return models.User{}, "", err
	}
	user.Roles = identity.NormalizeRoles(roles)
	return user, passwordHash, nil
}

func (s *Store) Login(ctx context.Context, input store.LoginInput) (result store.LoginResult, err error) {
	row := s.pool.QueryRow(ctx, userSelect+`
		WHERE lower(u.email) = lower($1) AND u.active
		GROUP BY u.user_id
	`, strings.TrimSpace(input.Email))
	user, passwordHash, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.LoginResult{}, store.ErrInvalidCredentials
		}
		return store.LoginResult{}, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(input.Password)); err != nil {
		return store.LoginResult{}, store.ErrInvalidCredentials
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.LoginResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	session := models.Session{
		SessionID: uuid.NewString(),
		UserID:    user.UserID,
		ExpiresAt: time.Now().UTC().Add(input.TTL),
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (session_id, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, session.SessionID, session.UserID, session.ExpiresAt)
	if err != nil {
		return store.LoginResult{}, fmt.Errorf("insert session: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO audit_logs (audit_id, actor_id, action, entity_type, entity_id, ip, user_agent)
		VALUES ($1, $2, 'login', 'session', $3, $4, $5)
	`, uuid.NewString(), user.UserID, session.SessionID, input.IP, input.UserAgent)
	if err != nil {
		return store.LoginResult{}, fmt.Errorf("insert audit log: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return store.LoginResult{}, err
	}
	return store.LoginResult{User: user, Session: session}, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (models.User, error) {
	row := s.pool.QueryRow(ctx, userSelect+`
		WHERE u.user_id = $1 AND u.active
		GROUP BY u.user_id
	`, userID)
	user, _, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *Store) RevokeSession(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET revoked_at = now()
		WHERE session_id = $1 AND revoked_at IS NULL
	`, sessionID)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}
