package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"urclec/services/analytics-service/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// lastDecision is when a request last moved: its newest decision, or its
// creation when nobody decided yet.
const lastDecision = `COALESCE((SELECT max(d.created_at) FROM decisions d WHERE d.request_id = r.request_id), r.created_at)`

func (s *Store) GetKPIs(ctx context.Context, from, to time.Time) (store.KPIResult, error) {
	result := store.KPIResult{
		From: from,
		To:   to,
		Requests: store.RequestKPIs{
			ByStatus: map[string]int{},
			ByType:   map[string]int{},
		},
	}

	rows, err := s.pool.Query(ctx, `
		SELECT r.status, r.type, count(*)
		FROM requests r
		WHERE r.created_at >= $1 AND r.created_at <= $2
		GROUP BY r.status, r.type
	`, from, to)
	if err != nil {
		return store.KPIResult{}, fmt.Errorf("request counts: %w", err)
	}
	for rows.Next() {
		var status, kind string
		var count int
		if err := rows.Scan(&status, &kind, &count); err != nil {
			rows.Close()
			return store.KPIResult{}, err
		}
		result.Requests.Total += count
		result.Requests.ByStatus[status] += count
		result.Requests.ByType[kind] += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return store.KPIResult{}, err
	}

	row := s.pool.QueryRow(ctx, `
		SELECT COALESCE(avg(EXTRACT(EPOCH FROM (`+lastDecision+` - r.created_at))) / 3600, 0)::float8
		FROM requests r
		WHERE r.created_at >= $1 AND r.created_at <= $2 AND r.status <> 'pending'
	`, from, to)
	if err := row.Scan(&result.Requests.AvgDecisionHours); err != nil {
		return store.KPIResult{}, fmt.Errorf("decision time: %w", err)
	}

	row = s.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE confirmed), count(*) FILTER (WHERE NOT confirmed)
		FROM movements
		WHERE created_at >= $1 AND created_at <= $2
	`, from, to)
	if err := row.Scan(&result.Movements.Created, &result.Movements.Confirmed, &result.Movements.Pending); err != nil {
		return store.KPIResult{}, fmt.Errorf("movement counts: %w", err)
	}

	row = s.pool.QueryRow(ctx, `
		SELECT count(*) FILTER (WHERE status = 'active'),
		       count(*) FILTER (WHERE status = 'active' AND due_date < CURRENT_DATE),
		       COALESCE(sum(balance_cents) FILTER (WHERE status = 'active'), 0)::bigint,
		       COALESCE((SELECT sum(amount_cents) FROM credit_actions
		                 WHERE kind = 'payment' AND created_at >= $1 AND created_at <= $2), 0)::bigint
		FROM credits
	`, from, to)
	if err := row.Scan(&result.Credits.Active, &result.Credits.Overdue, &result.Credits.OutstandingCents, &result.Credits.CollectedCents); err != nil {
		return store.KPIResult{}, fmt.Errorf("credit totals: %w", err)
	}
	return result, nil
}

func (s *Store) ListRequests(ctx context.Context, from, to time.Time) ([]store.RequestRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.request_id::text, r.type, u.full_name, r.start_date, r.end_date, r.status,
		       COALESCE(r.open_level, ''), r.archived, r.created_at,
		       CASE WHEN r.status <> 'pending' THEN `+lastDecision+` END
		FROM requests r
		JOIN users u ON u.user_id = r.requester_id
		WHERE r.created_at >= $1 AND r.created_at <= $2
		ORDER BY r.created_at ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.RequestRow
	for rows.Next() {
		var row store.RequestRow
		if err := rows.Scan(&row.RequestID, &row.Type, &row.RequesterName, &row.StartDate, &row.EndDate, &row.Status,
			&row.OpenLevel, &row.Archived, &row.CreatedAt, &row.ResolvedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) ListStalled(ctx context.Context, waitingBefore time.Time) ([]store.StalledRequest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT request_id, type, full_name, open_level, waiting_since
		FROM (
			SELECT r.request_id::text AS request_id, r.type, u.full_name, r.open_level,
			       `+lastDecision+` AS waiting_since
			FROM requests r
			JOIN users u ON u.user_id = r.requester_id
			WHERE r.status = 'pending' AND NOT r.archived
		) pending
		WHERE waiting_since < $1
		ORDER BY waiting_since ASC
	`, waitingBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := time.Now()
	var out []store.StalledRequest
	for rows.Next() {
		var row store.StalledRequest
		if err := rows.Scan(&row.RequestID, &row.Type, &row.RequesterName, &row.OpenLevel, &row.WaitingSince); err != nil {
			return nil, err
		}
		row.WaitingHours = now.Sub(row.WaitingSince).Hours()
		out = append(out, row)
	}
	return out, rows.Err()
}
