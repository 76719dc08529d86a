package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"urclec/internal/outbox"
	"urclec/services/admin-service/internal/models"
	"urclec/services/admin-service/internal/store"
)

const announcementSelect = `
	SELECT announcement_id::text, title, body, location, starts_at, ends_at, published, created_by::text, created_at
	FROM announcements
`

func scanAnnouncement(row pgx.Row) (models.Announcement, error) {
	var a models.Announcement
	err := row.Scan(&a.AnnouncementID, &a.Title, &a.Body, &a.Location, &a.StartsAt, &a.EndsAt, &a.Published, &a.CreatedBy, &a.CreatedAt)
	return a, err
}

func (s *Store) CreateAnnouncement(ctx context.Context, input store.CreateAnnouncementInput) (models.Announcement, error) {
	if err := store.ValidateAnnouncement(&input); err != nil {
		return models.Announcement{}, err
	}
	a, err := scanAnnouncement(s.pool.QueryRow(ctx, `
		INSERT INTO announcements (announcement_id, title, body, location, starts_at, ends_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING announcement_id::text, title, body, location, starts_at, ends_at, published, created_by::text, created_at
	`, uuid.NewString(), input.Title, input.Body, input.Location, input.StartsAt, input.EndsAt, input.CreatedBy))
	if err != nil {
		return models.Announcement{}, mapWriteError(err)
	}
	return a, nil
}

// ListAnnouncements returns current published announcements, or every one
// when includeHidden is set.
func (s *Store) ListAnnouncements(ctx context.Context, includeHidden bool, now time.Time) ([]models.Announcement, error) {
	query := announcementSelect
	args := []interface{}{}
	if !includeHidden {
		query += " WHERE published AND (ends_at IS NULL OR ends_at >= $1)"
		args = append(args, now)
	}
	query += " ORDER BY starts_at DESC, announcement_id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}
	defer rows.Close()

	items := []models.Announcement{}
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// PublishAnnouncement is idempotent: publishing twice emits one event.
func (s *Store) PublishAnnouncement(ctx context.Context, announcementID, actorID string) (a models.Announcement, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Announcement{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	a, err = scanAnnouncement(tx.QueryRow(ctx, announcementSelect+` WHERE announcement_id = $1 FOR UPDATE`, announcementID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrNotFound
		}
		return models.Announcement{}, err
	}
	if !a.Published {
		if _, err = tx.Exec(ctx, `UPDATE announcements SET published = true WHERE announcement_id = $1`, announcementID); err != nil {
			return models.Announcement{}, err
		}
		a.Published = true
		err = outbox.Write(ctx, tx, outbox.TypeAnnouncementPublished, outbox.AnnouncementPayload{
			AnnouncementID: a.AnnouncementID,
			Title:          a.Title,
			ActorID:        actorID,
		})
		if err != nil {
			return models.Announcement{}, err
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Announcement{}, err
	}
	return a, nil
}
