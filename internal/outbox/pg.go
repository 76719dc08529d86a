package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"urclec/internal/identity"
)

// PGFeed reads outbox_events in seq order and keeps one offset per consumer
// in consumer_offsets.
type PGFeed struct {
	pool *pgxpool.Pool
}

func NewPGFeed(pool *pgxpool.Pool) *PGFeed {
	return &PGFeed{pool: pool}
}

func (f *PGFeed) Offset(ctx context.Context, consumer string) (int64, error) {
	var seq int64
	err := f.pool.QueryRow(ctx, `SELECT last_seq FROM consumer_offsets WHERE consumer = $1`, consumer).Scan(&seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("load %s offset: %w", consumer, err)
	}
	return seq, nil
}

// Latest is the newest seq, for consumers that only care about events from
// now on.
func (f *PGFeed) Latest(ctx context.Context) (int64, error) {
	var seq int64
	if err := f.pool.QueryRow(ctx, `SELECT COALESCE(max(seq), 0) FROM outbox_events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("latest seq: %w", err)
	}
	return seq, nil
}

func (f *PGFeed) Since(ctx context.Context, afterSeq int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := f.pool.Query(ctx, `
		SELECT seq, event_id::text, type, payload_json, created_at
		FROM outbox_events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		if err := rows.Scan(&event.Seq, &event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (f *PGFeed) Commit(ctx context.Context, consumer string, seq int64) error {
	_, err := f.pool.Exec(ctx, `
		INSERT INTO consumer_offsets (consumer, last_seq, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (consumer) DO UPDATE
		SET last_seq = GREATEST(consumer_offsets.last_seq, EXCLUDED.last_seq), updated_at = now()
	`, consumer, seq)
	if err != nil {
		return fmt.Errorf("save %s offset: %w", consumer, err)
	}
	return nil
}

// PGDirectory resolves roles against user_roles, matching raw tags the way
// identity.ParseRole normalizes them. Inactive users are left out.
type PGDirectory struct {
	pool *pgxpool.Pool
}

func NewPGDirectory(pool *pgxpool.Pool) *PGDirectory {
	return &PGDirectory{pool: pool}
}

func (d *PGDirectory) UserIDsWithRole(ctx context.Context, role identity.Role) ([]string, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT DISTINCT u.user_id::text
		FROM users u
		JOIN user_roles ur ON ur.user_id = u.user_id
		WHERE u.active
		  AND lower(replace(replace(btrim(ur.role), ' ', '_'), '-', '_')) = ANY($1)
		ORDER BY 1
	`, identity.Aliases(role))
	if err != nil {
		return nil, fmt.Errorf("users with role %s: %w", role, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
