package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"urclec/internal/identity"
	"urclec/internal/platform/dbx"
	"urclec/services/admin-service/internal/models"
	"urclec/services/admin-service/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// roleTagSQL normalizes a stored role tag the way identity.ParseRole does.
const roleTagSQL = `lower(replace(replace(btrim(%s), ' ', '_'), '-', '_'))`

const userSelect = `
	SELECT u.user_id::text, u.email, u.full_name, COALESCE(u.chef_id::text, ''),
	       COALESCE(u.agency_id::text, ''), COALESCE(u.service_point_id::text, ''),
	       u.active, u.created_at,
	       COALESCE(array_agg(ur.role ORDER BY ur.role) FILTER (WHERE ur.role IS NOT NULL), '{}')
	FROM users u
	LEFT JOIN user_roles ur ON ur.user_id = u.user_id
`

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	if err := row.Scan(&user.UserID, &user.Email, &user.FullName, &user.ChefID, &user.AgencyID, &user.ServicePointID, &user.Active, &user.CreatedAt, &user.RawRoles); err != nil {
		return models.User{}, err
	}
	user.Roles = identity.NormalizeRoles(user.RawRoles)
	return user, nil
}

func loadUser(ctx context.Context, q querier, userID string) (models.User, error) {
	user, err := scanUser(q.QueryRow(ctx, userSelect+`
		WHERE u.user_id = $1
		GROUP BY u.user_id
	`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrNotFound
		}
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *Store) CreateUser(ctx context.Context, input store.CreateUserInput) (user models.User, err error) {
	if err = store.ValidateCreateUser(&input); err != nil {
		return models.User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.User{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	userID := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO users (user_id, email, full_name, password_hash, chef_id, agency_id, service_point_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, userID, input.Email, input.FullName, string(hash), nullIfEmpty(input.ChefID), nullIfEmpty(input.AgencyID), nullIfEmpty(input.ServicePointID))
	if err != nil {
		err = mapWriteError(err)
		return models.User{}, err
	}
	if err = replaceRoles(ctx, tx, userID, input.Roles); err != nil {
		return models.User{}, err
	}
	user, err = loadUser(ctx, tx, userID)
	if err != nil {
		return models.User{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (s *Store) UpdateUser(ctx context.Context, input store.UpdateUserInput) (user models.User, err error) {
	if err = store.ValidateUpdateUser(&input); err != nil {
		return models.User{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.User{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var locked string
	err = tx.QueryRow(ctx, `SELECT user_id::text FROM users WHERE user_id = $1 FOR UPDATE`, input.UserID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrNotFound
		}
		return models.User{}, err
	}

	sets := []string{}
	args := []interface{}{input.UserID}
	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if input.FullName != nil {
		set("full_name", *input.FullName)
	}
	if input.ChefID != nil {
		set("chef_id", nullIfEmpty(*input.ChefID))
	}
	if input.AgencyID != nil {
		set("agency_id", nullIfEmpty(*input.AgencyID))
	}
	if input.ServicePointID != nil {
		set("service_point_id", nullIfEmpty(*input.ServicePointID))
	}
	if input.Password != nil {
		var hash []byte
		hash, err = bcrypt.GenerateFromPassword([]byte(*input.Password), bcrypt.DefaultCost)
		if err != nil {
			return models.User{}, fmt.Errorf("hash password: %w", err)
		}
		set("password_hash", string(hash))
	}
	if len(sets) > 0 {
		_, err = tx.Exec(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE user_id = $1`, args...)
		if err != nil {
			err = mapWriteError(err)
			return models.User{}, err
		}
	}
	if input.Roles != nil {
		if _, err = tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, input.UserID); err != nil {
			return models.User{}, err
		}
		if err = replaceRoles(ctx, tx, input.UserID, *input.Roles); err != nil {
			return models.User{}, err
		}
	}

	user, err = loadUser(ctx, tx, input.UserID)
	if err != nil {
		return models.User{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.User{}, err
	}
	return user, nil
}

// SetUserActive toggles an account. Deactivation also revokes every live
// session of the user.
func (s *Store) SetUserActive(ctx context.Context, userID string, active bool) (user models.User, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.User{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `UPDATE users SET active = $2 WHERE user_id = $1`, userID, active)
	if err != nil {
		return models.User{}, err
	}
	if tag.RowsAffected() == 0 {
		err = store.ErrNotFound
		return models.User{}, err
	}
	if !active {
		_, err = tx.Exec(ctx, `
			UPDATE sessions SET revoked_at = now()
			WHERE user_id = $1 AND revoked_at IS NULL
		`, userID)
		if err != nil {
			return models.User{}, err
		}
	}
	user, err = loadUser(ctx, tx, userID)
	if err != nil {
		return models.User{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (models.User, error) {
	return loadUser(ctx, s.pool, userID)
}

func (s *Store) ListUsers(ctx context.Context, filter store.UserFilter) ([]models.User, int, error) {
	where := []string{"TRUE"}
	args := []interface{}{}
	add := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if !filter.IncludeInactive {
		where = append(where, "u.active")
	}
	if filter.AgencyID != "" {
		add("u.agency_id = $%d", filter.AgencyID)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		add("(u.email ILIKE $%[1]d OR u.full_name ILIKE $%[1]d)", "%"+q+"%")
	}
	if filter.Role != "" {
		add(`EXISTS (
			SELECT 1 FROM user_roles r WHERE r.user_id = u.user_id AND `+fmt.Sprintf(roleTagSQL, "r.role")+` = ANY($%d)
		)`, identity.Aliases(filter.Role))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM users u WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	limit, offset := pageBounds(filter.Page, filter.PageSize)
	args = append(args, limit, offset)
	rows, err := s.pool.Query(ctx, userSelect+`
		WHERE `+clause+`
		GROUP BY u.user_id
		ORDER BY u.full_name, u.user_id
		LIMIT $`+fmt.Sprint(len(args)-1)+` OFFSET $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	return users, total, rows.Err()
}

func replaceRoles(ctx context.Context, tx pgx.Tx, userID string, roles []string) error {
	for _, role := range roles {
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, userID, role); err != nil {
			return fmt.Errorf("insert role: %w", err)
		}
	}
	return nil
}

func mapWriteError(err error) error {
	switch {
	case dbx.IsUniqueViolation(err) && dbx.ConstraintName(err) == "users_email_key":
		return store.ErrEmailTaken
	case dbx.IsUniqueViolation(err):
		return fmt.Errorf("%w: %s", store.ErrDuplicate, dbx.ConstraintName(err))
	case dbx.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: %s", store.ErrUnknownReference, dbx.ConstraintName(err))
	default:
		return err
	}
}

func pageBounds(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	return size, (page - 1) * size
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
