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

	"urclec/internal/identity"
	"urclec/internal/outbox"
	"urclec/internal/platform/dbx"
	"urclec/internal/workflow"
	"urclec/services/request-service/internal/models"
	"urclec/services/request-service/internal/store"
)

const (
	actionCreate  = "create_request"
	actionDecide  = "decide_request"
	actionArchive = "archive_request"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) CreateRequest(ctx context.Context, input store.CreateRequestInput) (models.Request, bool, error) {
	if err := store.ValidateCreate(input); err != nil {
		return models.Request{}, false, err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Request{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existingID, found, err := dbx.FindAction(ctx, tx, actionCreate, input.RequestID, input.Actor.UserID)
	if err != nil {
		return models.Request{}, false, err
	}
	if found {
		var request models.Request
		request, err = loadRequest(ctx, tx, existingID, false)
		if err != nil {
			return models.Request{}, false, err
		}
		if err = tx.Commit(ctx); err != nil {
			return models.Request{}, false, err
		}
		request.Derive(input.Actor)
		return request, false, nil
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	requestID := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO requests (
			request_id, requester_id, type, start_date, end_date, reason,
			day_count, duration, justification, status, open_level, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
	`, requestID, input.Actor.UserID, input.Type, input.StartDate.Time, input.EndDate.Time, strings.TrimSpace(input.Reason),
		input.DayCount, nullIfEmpty(input.Duration), nullIfEmpty(input.Justification),
		workflow.OutcomePending, workflow.LevelSupervisor, createdAt)
	if err != nil {
		return models.Request{}, false, fmt.Errorf("insert request: %w", err)
	}

	var request models.Request
	request, err = loadRequest(ctx, tx, requestID, false)
	if err != nil {
		return models.Request{}, false, err
	}
	if err = dbx.RecordAction(ctx, tx, actionCreate, input.RequestID, input.Actor.UserID, requestID); err != nil {
		return models.Request{}, false, err
	}
	if err = outbox.Write(ctx, tx, outbox.TypeRequestCreated, requestPayload(request, input.Actor.UserID, "")); err != nil {
		return models.Request{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Request{}, false, err
	}
	request.Derive(input.Actor)
	return request, true, nil
}

func (s *Store) GetRequest(ctx context.Context, requestID string, actor identity.Identity) (models.Request, error) {
	request, err := loadRequest(ctx, s.pool, requestID, false)
	if err != nil {
		return models.Request{}, err
	}
	if !request.VisibleTo(actor) {
		return models.Request{}, store.ErrAccessDenied
	}
	request.Derive(actor)
	return request, nil
}

func (s *Store) ListRequests(ctx context.Context, filter store.ListFilter) ([]models.Request, int, error) {
	where := []string{"TRUE"}
	args := []interface{}{}
	arg := func(value interface{}) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	switch filter.Scope {
	case store.ScopeAll:
	case store.ScopeTeam:
		where = append(where, "u.chef_id = "+arg(filter.Actor.UserID))
	default:
		where = append(where, "r.requester_id = "+arg(filter.Actor.UserID))
	}
	if filter.Type != "" {
		where = append(where, "r.type = "+arg(string(filter.Type)))
	}
	if filter.Status != "" {
		where = append(where, "r.status = "+arg(string(filter.Status)))
	}
	if !filter.IncludeArchived {
		where = append(where, "NOT r.archived")
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM requests r JOIN users u ON u.user_id = r.requester_id
		WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	page, size := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	limit := arg(size)
	offset := arg((page - 1) * size)
	rows, err := s.pool.Query(ctx, requestSelect+`
		WHERE `+clause+`
		ORDER BY r.created_at DESC, r.request_id
		LIMIT `+limit+` OFFSET `+offset, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}
	requests, err := scanRequests(rows)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]string, len(requests))
	for i, r := range requests {
		ids[i] = r.ID
	}
	decisions, err := loadDecisions(ctx, s.pool, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range requests {
		requests[i].Decisions = decisions[requests[i].ID]
		requests[i].Derive(filter.Actor)
	}
	return requests, total, nil
}

// RecordDecision appends one decision under a row lock on the request and
// stores the recomputed status in the same transaction.
func (s *Store) RecordDecision(ctx context.Context, input store.DecisionInput) (models.Request, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Request{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existingID, found, err := dbx.FindAction(ctx, tx, actionDecide, input.RequestID, input.Actor.UserID)
	if err != nil {
		return models.Request{}, false, err
	}
	if found {
		if existingID != input.EntityID {
			err = store.ErrIdempotencyConflict
			return models.Request{}, false, err
		}
		var request models.Request
		request, err = loadRequest(ctx, tx, existingID, false)
		if err != nil {
			return models.Request{}, false, err
		}
		if err = tx.Commit(ctx); err != nil {
			return models.Request{}, false, err
		}
		request.Derive(input.Actor)
		return request, false, nil
	}

	var request models.Request
	request, err = loadRequest(ctx, tx, input.EntityID, true)
	if err != nil {
		return models.Request{}, false, err
	}
	if request.Archived {
		err = store.ErrRequestArchived
		return models.Request{}, false, err
	}

	var level workflow.Level
	level, err = workflow.Authorize(request.WorkflowRequester(), request.Decisions, input.Actor, input.Outcome)
	if err != nil {
		return models.Request{}, false, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}
	decision := workflow.Decision{
		ID:        uuid.NewString(),
		RequestID: request.ID,
		Level:     level,
		Outcome:   input.Outcome,
		ActorID:   input.Actor.UserID,
		Comment:   strings.TrimSpace(input.Comment),
		CreatedAt: occurredAt,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO decisions (decision_id, request_id, level, outcome, actor_id, comment, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, decision.ID, decision.RequestID, decision.Level, decision.Outcome, decision.ActorID, decision.Comment, decision.CreatedAt)
	if err != nil {
		return models.Request{}, false, fmt.Errorf("insert decision: %w", err)
	}

	request.Decisions = append(request.Decisions, decision)
	view := workflow.Derive(request.Decisions)
	_, err = tx.Exec(ctx, `
		UPDATE requests SET status = $2, open_level = $3, updated_at = $4
		WHERE request_id = $1
	`, request.ID, view.Status, nullIfEmpty(string(view.OpenLevel)), occurredAt)
	if err != nil {
		return models.Request{}, false, fmt.Errorf("update request status: %w", err)
	}
	request.Derive(input.Actor)

	if err = dbx.RecordAction(ctx, tx, actionDecide, input.RequestID, input.Actor.UserID, request.ID); err != nil {
		return models.Request{}, false, err
	}
	if err = outbox.Write(ctx, tx, outbox.TypeRequestDecided, requestPayload(request, input.Actor.UserID, input.Outcome)); err != nil {
		return models.Request{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Request{}, false, err
	}
	return request, true, nil
}

func (s *Store) ArchiveRequest(ctx context.Context, input store.ArchiveInput) (models.Request, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Request{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var request models.Request
	request, err = loadRequest(ctx, tx, input.EntityID, true)
	if err != nil {
		return models.Request{}, false, err
	}
	if !store.CanArchive(request, input.Actor) {
		err = store.ErrAccessDenied
		return models.Request{}, false, err
	}
	if request.Archived {
		if err = tx.Commit(ctx); err != nil {
			return models.Request{}, false, err
		}
		request.Derive(input.Actor)
		return request, false, nil
	}

	if _, err = tx.Exec(ctx, `UPDATE requests SET archived = true, updated_at = now() WHERE request_id = $1`, request.ID); err != nil {
		return models.Request{}, false, fmt.Errorf("archive request: %w", err)
	}
	request.Archived = true
	if err = dbx.RecordAction(ctx, tx, actionArchive, input.RequestID, input.Actor.UserID, request.ID); err != nil {
		return models.Request{}, false, err
	}
	if err = outbox.Write(ctx, tx, outbox.TypeRequestArchived, requestPayload(request, input.Actor.UserID, "")); err != nil {
		return models.Request{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Request{}, false, err
	}
	request.Derive(input.Actor)
	return request, true, nil
}

// Stats counts the requests the actor can see: everything for HR,
// management and admins, their own and their team's otherwise.
func (s *Store) Stats(ctx context.Context, actor identity.Identity) (models.Stats, error) {
	stats := models.Stats{
		ByStatus:    map[workflow.Outcome]int{},
		ByOpenLevel: map[workflow.Level]int{},
		ByType:      map[models.RequestType]int{},
	}
	seesAll := actor.HasAnyRole(identity.RoleHR, identity.RoleManagement, identity.RoleAdmin)
	rows, err := s.pool.Query(ctx, `
		SELECT r.status, COALESCE(r.open_level, ''), r.type, COUNT(*)
		FROM requests r
		JOIN users u ON u.user_id = r.requester_id
		WHERE NOT r.archived
		  AND ($1 OR r.requester_id = $2 OR u.chef_id = $2)
		GROUP BY r.status, r.open_level, r.type
	`, seesAll, actor.UserID)
	if err != nil {
		return models.Stats{}, fmt.Errorf("request stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status      workflow.Outcome
			level       workflow.Level
			requestType models.RequestType
			count       int
		)
		if err := rows.Scan(&status, &level, &requestType, &count); err != nil {
			return models.Stats{}, err
		}
		stats.ByStatus[status] += count
		stats.ByType[requestType] += count
		if status == workflow.OutcomePending && level != "" {
			stats.ByOpenLevel[level] += count
		}
	}
	if err := rows.Err(); err != nil {
		return models.Stats{}, err
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM requests r
		JOIN users u ON u.user_id = r.requester_id
		WHERE NOT r.archived AND r.status = 'pending'
		  AND (
		      (r.open_level = 'supervisor' AND u.chef_id = $1)
		   OR (r.open_level = 'hr' AND $2)
		   OR (r.open_level = 'management' AND $3)
		  )
	`, actor.UserID, actor.HasRole(identity.RoleHR), actor.HasRole(identity.RoleManagement)).Scan(&stats.AwaitingMe)
	if err != nil {
		return models.Stats{}, fmt.Errorf("awaiting count: %w", err)
	}
	return stats, nil
}

const requestSelect = `
	SELECT r.request_id::text, r.type, r.start_date, r.end_date, r.reason, r.day_count,
	       COALESCE(r.duration, ''), COALESCE(r.justification, ''), r.status,
	       COALESCE(r.open_level, ''), r.archived, r.created_at,
	       u.user_id::text, u.full_name, u.email, COALESCE(u.chef_id::text, '')
	FROM requests r
	JOIN users u ON u.user_id = r.requester_id
`

func scanRequest(row pgx.Row) (models.Request, error) {
	var (
		request    models.Request
		start, end time.Time
	)
	err := row.Scan(&request.ID, &request.Type, &start, &end, &request.Reason, &request.DayCount,
		&request.Duration, &request.Justification, &request.Status,
		&request.OpenLevel, &request.Archived, &request.CreatedAt,
		&request.Requester.UserID, &request.Requester.FullName, &request.Requester.Email, &request.Requester.ChefID)
	if err != nil {
		return models.Request{}, err
	}
	request.StartDate = models.Date{Time: start}
	request.EndDate = models.Date{Time: end}
	return request, nil
}

func scanRequests(rows pgx.Rows) ([]models.Request, error) {
	defer rows.Close()
	requests := []models.Request{}
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return requests, nil
}

// loadRequest reads a request with its decisions. lock takes the row lock
// decisions are serialized on.
func loadRequest(ctx context.Context, q querier, requestID string, lock bool) (models.Request, error) {
	query := requestSelect + " WHERE r.request_id = $1"
	if lock {
		query += " FOR UPDATE OF r"
	}
	request, err := scanRequest(q.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Request{}, store.ErrRequestNotFound
		}
		return models.Request{}, fmt.Errorf("load request: %w", err)
	}
	decisions, err := loadDecisions(ctx, q, []string{requestID})
	if err != nil {
		return models.Request{}, err
	}
	request.Decisions = decisions[requestID]
	return request, nil
}

func loadDecisions(ctx context.Context, q querier, requestIDs []string) (map[string][]workflow.Decision, error) {
	out := make(map[string][]workflow.Decision, len(requestIDs))
	if len(requestIDs) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `
		SELECT decision_id::text, request_id::text, level, outcome, actor_id::text, comment, created_at
		FROM decisions
		WHERE request_id = ANY($1::uuid[])
		ORDER BY created_at ASC, decision_id ASC
	`, requestIDs)
	if err != nil {
		return nil, fmt.Errorf("load decisions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d workflow.Decision
		if err := rows.Scan(&d.ID, &d.RequestID, &d.Level, &d.Outcome, &d.ActorID, &d.Comment, &d.CreatedAt); err != nil {
			return nil, err
		}
		out[d.RequestID] = append(out[d.RequestID], d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func requestPayload(request models.Request, actorID string, outcome workflow.Outcome) outbox.RequestPayload {
	view := workflow.Derive(request.Decisions)
	return outbox.RequestPayload{
		RequestID:   request.ID,
		RequesterID: request.Requester.UserID,
		ChefID:      request.Requester.ChefID,
		RequestType: string(request.Type),
		Status:      view.Status,
		OpenLevel:   view.OpenLevel,
		ActorID:     actorID,
		Outcome:     outcome,
	}
}

func nullIfEmpty(value string) interface{} {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
