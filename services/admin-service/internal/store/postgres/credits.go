package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"urclec/internal/platform/dbx"
	"urclec/services/admin-service/internal/models"
	"urclec/services/admin-service/internal/store"
)

// creditActionKey scopes a request_id to one kind of credit action.
func creditActionKey(kind models.ActionKind) string {
	return "credit_" + string(kind)
}

const creditSelect = `
	SELECT credit_id::text, borrower_name, borrower_phone, COALESCE(agency_id::text, ''), agent_id::text,
	       amount_cents, balance_cents, status, due_date, created_at, updated_at
	FROM credits
`

func scanCredit(row pgx.Row) (models.Credit, error) {
	var c models.Credit
	err := row.Scan(&c.CreditID, &c.BorrowerName, &c.BorrowerPhone, &c.AgencyID, &c.AgentID,
		&c.AmountCents, &c.BalanceCents, &c.Status, &c.DueDate, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return models.Credit{}, err
	}
	c.Overdue = c.IsOverdue(time.Now())
	return c, nil
}

func loadCredit(ctx context.Context, q querier, creditID string, lock bool) (models.Credit, error) {
	query := creditSelect + " WHERE credit_id = $1"
	if lock {
		query += " FOR UPDATE"
	}
	c, err := scanCredit(q.QueryRow(ctx, query, creditID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Credit{}, store.ErrNotFound
		}
		return models.Credit{}, fmt.Errorf("load credit: %w", err)
	}
	return c, nil
}

func loadCreditActions(ctx context.Context, q querier, creditID string) ([]models.CreditAction, error) {
	rows, err := q.Query(ctx, `
		SELECT action_id::text, credit_id::text, agent_id::text, kind, amount_cents, promised_for, note, created_at
		FROM credit_actions
		WHERE credit_id = $1
		ORDER BY created_at, action_id
	`, creditID)
	if err != nil {
		return nil, fmt.Errorf("load credit actions: %w", err)
	}
	defer rows.Close()

	actions := []models.CreditAction{}
	for rows.Next() {
		var a models.CreditAction
		if err := rows.Scan(&a.ActionID, &a.CreditID, &a.AgentID, &a.Kind, &a.AmountCents, &a.PromisedFor, &a.Note, &a.CreatedAt); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (s *Store) CreateCredit(ctx context.Context, input store.CreateCreditInput) (models.Credit, error) {
	if err := store.ValidateCreateCredit(&input); err != nil {
		return models.Credit{}, err
	}
	c, err := scanCredit(s.pool.QueryRow(ctx, `
		INSERT INTO credits (credit_id, borrower_name, borrower_phone, agency_id, agent_id, amount_cents, balance_cents, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
		RETURNING credit_id::text, borrower_name, borrower_phone, COALESCE(agency_id::text, ''), agent_id::text,
		          amount_cents, balance_cents, status, due_date, created_at, updated_at
	`, uuid.NewString(), input.BorrowerName, input.BorrowerPhone, nullIfEmpty(input.AgencyID), input.AgentID, input.AmountCents, input.DueDate))
	if err != nil {
		return models.Credit{}, mapWriteError(err)
	}
	return c, nil
}

func (s *Store) ListCredits(ctx context.Context, filter store.CreditFilter) ([]models.Credit, int, error) {
	where := []string{"TRUE"}
	args := []interface{}{}
	add := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.AgentID != "" {
		add("agent_id = $%d", filter.AgentID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.OverdueOnly {
		where = append(where, "status = 'active' AND due_date < current_date")
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM credits WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count credits: %w", err)
	}
	limit, offset := pageBounds(filter.Page, filter.PageSize)
	args = append(args, limit, offset)
	rows, err := s.pool.Query(ctx, creditSelect+`
		WHERE `+clause+`
		ORDER BY due_date, credit_id
		LIMIT $`+fmt.Sprint(len(args)-1)+` OFFSET $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list credits: %w", err)
	}
	defer rows.Close()

	credits := []models.Credit{}
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, 0, err
		}
		credits = append(credits, c)
	}
	return credits, total, rows.Err()
}

func (s *Store) GetCredit(ctx context.Context, creditID string) (models.CreditDetail, error) {
	c, err := loadCredit(ctx, s.pool, creditID, false)
	if err != nil {
		return models.CreditDetail{}, err
	}
	actions, err := loadCreditActions(ctx, s.pool, creditID)
	if err != nil {
		return models.CreditDetail{}, err
	}
	return models.CreditDetail{Credit: c, Actions: actions}, nil
}

// RecordCreditAction logs an agent action and applies payments to the
// balance under a row lock. request_id makes retries safe.
func (s *Store) RecordCreditAction(ctx context.Context, input store.CreditActionInput) (detail models.CreditDetail, created bool, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.CreditDetail{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	_, found, err := dbx.FindAction(ctx, tx, creditActionKey(input.Kind), input.RequestID, input.Actor.UserID)
	if err != nil {
		return models.CreditDetail{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.CreditDetail{}, false, err
		}
		detail, err = s.GetCredit(ctx, input.CreditID)
		return detail, false, err
	}

	credit, err := loadCredit(ctx, tx, input.CreditID, true)
	if err != nil {
		return models.CreditDetail{}, false, err
	}
	if !store.CanSeeCredit(input.Actor, credit.AgentID) {
		err = store.ErrAccessDenied
		return models.CreditDetail{}, false, err
	}
	action := models.CreditAction{
		ActionID:    uuid.NewString(),
		CreditID:    credit.CreditID,
		AgentID:     input.Actor.UserID,
		Kind:        input.Kind,
		AmountCents: input.AmountCents,
		PromisedFor: input.PromisedFor,
		Note:        strings.TrimSpace(input.Note),
	}
	if action.Kind != models.ActionPayment {
		action.AmountCents = 0
	}
	next, err := credit.Apply(action)
	if err != nil {
		return models.CreditDetail{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO credit_actions (action_id, credit_id, agent_id, kind, amount_cents, promised_for, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, action.ActionID, action.CreditID, action.AgentID, string(action.Kind), action.AmountCents, action.PromisedFor, action.Note)
	if err != nil {
		return models.CreditDetail{}, false, fmt.Errorf("insert credit action: %w", err)
	}
	if next != credit {
		_, err = tx.Exec(ctx, `
			UPDATE credits SET balance_cents = $2, status = $3, updated_at = now()
			WHERE credit_id = $1
		`, credit.CreditID, next.BalanceCents, string(next.Status))
		if err != nil {
			return models.CreditDetail{}, false, fmt.Errorf("update credit: %w", err)
		}
	}
	if err = dbx.RecordAction(ctx, tx, creditActionKey(input.Kind), input.RequestID, input.Actor.UserID, action.ActionID); err != nil {
		return models.CreditDetail{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.CreditDetail{}, false, err
	}

	detail, err = s.GetCredit(ctx, input.CreditID)
	return detail, true, err
}
