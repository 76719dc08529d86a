package dbx

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrIdempotencyConflict means a request_id was already spent on another
// action, entity or user.
var ErrIdempotencyConflict = errors.New("request_id already used for another action")

// FindAction resolves a replayed idempotency key to the entity its first use
// produced.
func FindAction(ctx context.Context, tx pgx.Tx, action, requestID, actorID string) (string, bool, error) {
	var storedAction, storedActor, entityID string
	err := tx.QueryRow(ctx, `
		SELECT action, actor_id::text, entity_id::text FROM action_requests WHERE request_id = $1
	`, requestID).Scan(&storedAction, &storedActor, &entityID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	if storedAction != action || storedActor != actorID {
		return "", false, ErrIdempotencyConflict
	}
	return entityID, true, nil
}

// RecordAction spends requestID on action. A concurrent first use of the same
// key surfaces as ErrIdempotencyConflict.
func RecordAction(ctx context.Context, tx pgx.Tx, action, requestID, actorID, entityID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO action_requests (request_id, action, actor_id, entity_id)
		VALUES ($1, $2, $3, $4)
	`, requestID, action, actorID, entityID)
	if IsUniqueViolation(err) {
		return ErrIdempotencyConflict
	}
	return err
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ConstraintName is the violated constraint behind err, if any.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
