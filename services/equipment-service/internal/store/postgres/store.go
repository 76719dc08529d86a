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
	"urclec/internal/movement"
	"urclec/internal/outbox"
	"urclec/internal/platform/dbx"
	"urclec/services/equipment-service/internal/models"
	"urclec/services/equipment-service/internal/store"
)

const (
	actionCreateEquipment  = "create_equipment"
	actionArchiveEquipment = "archive_equipment"
	actionDispatch         = "dispatch_movement"
	actionConfirm          = "confirm_movement"
	actionReturn           = "repair_return"
	actionAssign           = "assign_equipment"
	actionWithdraw         = "withdraw_assignment"
)

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

func (s *Store) CreateEquipment(ctx context.Context, input store.CreateEquipmentInput) (movement.Equipment, bool, error) {
	if !store.CanManage(input.Actor) {
		return movement.Equipment{}, false, store.ErrAccessDenied
	}
	input.Name = strings.TrimSpace(input.Name)
	input.SerialNumber = strings.TrimSpace(input.SerialNumber)
	if input.Name == "" || input.SerialNumber == "" {
		return movement.Equipment{}, false, fmt.Errorf("%w: name and serial_number are required", store.ErrInvalidRequest)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return movement.Equipment{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existingID, found, err := dbx.FindAction(ctx, tx, actionCreateEquipment, input.RequestID, input.Actor.UserID)
	if err != nil {
		return movement.Equipment{}, false, err
	}
	if found {
		var e movement.Equipment
		e, err = loadEquipment(ctx, tx, existingID, false)
		if err != nil {
			return movement.Equipment{}, false, err
		}
		if err = tx.Commit(ctx); err != nil {
			return movement.Equipment{}, false, err
		}
		return e, false, nil
	}

	agencyID := input.AgencyID
	if input.ServicePointID != "" {
		agencyID, err = servicePointAgency(ctx, tx, input.ServicePointID)
		if err != nil {
			return movement.Equipment{}, false, err
		}
	}
	now := s.now()
	e := movement.Equipment{
		ID:           uuid.NewString(),
		Name:         input.Name,
		SerialNumber: input.SerialNumber,
		Category:     strings.TrimSpace(input.Category),
		Status:       movement.StatusActive,
		Condition:    movement.ConditionFunctional,
		CustodianID:  input.CustodianID,
		Location:     movement.Location{AgencyID: agencyID, ServicePointID: input.ServicePointID},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO equipment (
			equipment_id, name, serial_number, category, status, condition,
			custodian_id, agency_id, service_point_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
	`, e.ID, e.Name, e.SerialNumber, e.Category, e.Status, e.Condition,
		nullIfEmpty(e.CustodianID), nullIfEmpty(e.Location.AgencyID), nullIfEmpty(e.Location.ServicePointID), now)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			err = store.ErrSerialTaken
			return movement.Equipment{}, false, err
		}
		return movement.Equipment{}, false, fmt.Errorf("insert equipment: %w", err)
	}
	if err = dbx.RecordAction(ctx, tx, actionCreateEquipment, input.RequestID, input.Actor.UserID, e.ID); err != nil {
		return movement.Equipment{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return movement.Equipment{}, false, err
	}
	return e, true, nil
}

func (s *Store) GetEquipment(ctx context.Context, equipmentID string, actor identity.Identity) (models.EquipmentDetail, error) {
	e, err := loadEquipment(ctx, s.pool, equipmentID, false)
	if err != nil {
		return models.EquipmentDetail{}, err
	}
	movements, err := loadMovements(ctx, s.pool, []string{equipmentID})
	if err != nil {
		return models.EquipmentDetail{}, err
	}
	assignments, err := loadAssignments(ctx, s.pool, equipmentID)
	if err != nil {
		return models.EquipmentDetail{}, err
	}
	detail := models.EquipmentDetail{
		Equipment: e,
		Movements: models.Views(movement.NewLedger(movements), movement.VisibleTo(movements, actor), actor.UserID),
	}
	if active, ok := movement.ActiveAssignment(assignments); ok {
		detail.ActiveAssignment = &active
	}
	return detail, nil
}

func (s *Store) ListEquipment(ctx context.Context, filter store.EquipmentFilter) ([]movement.Equipment, int, error) {
	where := []string{"TRUE"}
	args := []interface{}{}
	arg := func(value interface{}) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Condition != "" {
		where = append(where, "condition = "+arg(string(filter.Condition)))
	}
	if filter.CustodianID != "" {
		where = append(where, "custodian_id = "+arg(filter.CustodianID))
	}
	if !filter.IncludeArchived {
		where = append(where, "NOT archived")
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM equipment WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count equipment: %w", err)
	}
	limit, offset := pageBounds(filter.Page, filter.PageSize)
	rows, err := s.pool.Query(ctx, equipmentSelect+" WHERE "+clause+
		" ORDER BY name, equipment_id LIMIT "+arg(limit)+" OFFSET "+arg(offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list equipment: %w", err)
	}
	defer rows.Close()
	items := []movement.Equipment{}
	for rows.Next() {
		e, err := scanEquipment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Store) ArchiveEquipment(ctx context.Context, input store.ArchiveInput) (movement.Equipment, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return movement.Equipment{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var e movement.Equipment
	e, err = loadEquipment(ctx, tx, input.EquipmentID, true)
	if err != nil {
		return movement.Equipment{}, false, err
	}
	if e.Archived {
		if err = tx.Commit(ctx); err != nil {
			return movement.Equipment{}, false, err
		}
		return e, false, nil
	}
	var movements []movement.Movement
	movements, err = loadMovements(ctx, tx, []string{e.ID})
	if err != nil {
		return movement.Equipment{}, false, err
	}
	var assignments []movement.Assignment
	assignments, err = loadAssignments(ctx, tx, e.ID)
	if err != nil {
		return movement.Equipment{}, false, err
	}
	if err = store.CheckArchive(e, movement.NewLedger(movements), assignments, input.Actor); err != nil {
		return movement.Equipment{}, false, err
	}

	e = movement.Retired(e)
	e.UpdatedAt = s.now()
	if err = updateEquipment(ctx, tx, e); err != nil {
		return movement.Equipment{}, false, err
	}
	if err = dbx.RecordAction(ctx, tx, actionArchiveEquipment, input.RequestID, input.Actor.UserID, e.ID); err != nil {
		return movement.Equipment{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return movement.Equipment{}, false, err
	}
	return e, true, nil
}

func (s *Store) ListMovements(ctx context.Context, filter store.MovementFilter) ([]models.MovementView, int, error) {
	where := []string{"TRUE"}
	args := []interface{}{}
	arg := func(value interface{}) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if !movement.SeesAll(filter.Actor) {
		actor := arg(filter.Actor.UserID)
		where = append(where, "(m.initiator_id = "+actor+" OR m.destination_responsible_id = "+actor+")")
	}
	if filter.EquipmentID != "" {
		where = append(where, "m.equipment_id = "+arg(filter.EquipmentID))
	}
	if filter.Type != "" {
		where = append(where, "m.type = "+arg(string(filter.Type)))
	}
	if filter.PendingOnly {
		where = append(where, "NOT m.confirmed")
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM movements m WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count movements: %w", err)
	}
	limit, offset := pageBounds(filter.Page, filter.PageSize)
	rows, err := s.pool.Query(ctx, movementSelect+" WHERE "+clause+
		" ORDER BY m.created_at DESC, m.movement_id LIMIT "+arg(limit)+" OFFSET "+arg(offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list movements: %w", err)
	}
	page, names, err := scanMovements(rows)
	if err != nil {
		return nil, 0, err
	}

	// Pair lookups need every leg of the listed units, visible or not.
	equipmentIDs := make([]string, 0, len(page))
	seen := map[string]bool{}
	for _, m := range page {
		if !seen[m.EquipmentID] {
			seen[m.EquipmentID] = true
			equipmentIDs = append(equipmentIDs, m.EquipmentID)
		}
	}
	related, err := loadMovements(ctx, s.pool, equipmentIDs)
	if err != nil {
		return nil, 0, err
	}
	views := models.Views(movement.NewLedger(related), page, filter.Actor.UserID)
	for i := range views {
		views[i].EquipmentName = names[views[i].ID]
	}
	return views, total, nil
}

// Dispatch records a transfer or repair leaving the unit's current holder.
// The unit is in transit until the destination confirms.
func (s *Store) Dispatch(ctx context.Context, input store.DispatchInput) (models.MovementView, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.MovementView{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var (
		view  models.MovementView
		found bool
	)
	view, found, err = s.replay(ctx, tx, actionDispatch, input.RequestID, input.Actor.UserID)
	if err != nil || found {
		return view, false, err
	}

	var e movement.Equipment
	e, err = loadEquipment(ctx, tx, input.EquipmentID, true)
	if err != nil {
		return models.MovementView{}, false, err
	}
	var movements []movement.Movement
	movements, err = loadMovements(ctx, tx, []string{e.ID})
	if err != nil {
		return models.MovementView{}, false, err
	}
	var assignments []movement.Assignment
	assignments, err = loadAssignments(ctx, tx, e.ID)
	if err != nil {
		return models.MovementView{}, false, err
	}
	if err = store.CheckDispatch(e, movement.NewLedger(movements), assignments, input); err != nil {
		return models.MovementView{}, false, err
	}
	var recipient store.Recipient
	recipient, err = loadRecipient(ctx, tx, input.DestinationResponsibleID)
	if err != nil {
		return models.MovementView{}, false, err
	}
	if err = store.CheckRecipient("destination_responsible_id", recipient); err != nil {
		return models.MovementView{}, false, err
	}

	to := movement.Location{AgencyID: input.ToAgencyID, ServicePointID: input.ToServicePointID}
	if to.ServicePointID != "" {
		to.AgencyID, err = servicePointAgency(ctx, tx, to.ServicePointID)
		if err != nil {
			return models.MovementView{}, false, err
		}
	}
	m := movement.Movement{
		ID:                       uuid.NewString(),
		EquipmentID:              e.ID,
		Type:                     input.Type,
		InitiatorID:              input.Actor.UserID,
		DestinationResponsibleID: input.DestinationResponsibleID,
		From:                     e.Location,
		To:                       to,
		ConditionBefore:          e.Condition,
		ConditionAfter:           input.ConditionAfter,
		Comment:                  strings.TrimSpace(input.Comment),
		CreatedAt:                s.now(),
	}
	if err = insertMovement(ctx, tx, m); err != nil {
		return models.MovementView{}, false, err
	}
	e = movement.Dispatched(e, m)
	e.UpdatedAt = m.CreatedAt
	if err = updateEquipment(ctx, tx, e); err != nil {
		return models.MovementView{}, false, err
	}
	if err = dbx.RecordAction(ctx, tx, actionDispatch, input.RequestID, input.Actor.UserID, m.ID); err != nil {
		return models.MovementView{}, false, err
	}
	if err = outbox.Write(ctx, tx, outbox.TypeMovementCreated, movementPayload(m, input.Actor.UserID)); err != nil {
		return models.MovementView{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.MovementView{}, false, err
	}
	return viewOf(append(movements, m), m, e.Name, input.Actor.UserID), true, nil
}

// ConfirmReceipt is the receiving party taking the unit. Only then do the
// custodian, location and condition change.
func (s *Store) ConfirmReceipt(ctx context.Context, input store.ConfirmInput) (models.MovementView, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.MovementView{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var (
		view  models.MovementView
		found bool
	)
	view, found, err = s.replay(ctx, tx, actionConfirm, input.RequestID, input.Actor.UserID)
	if err != nil || found {
		return view, false, err
	}

	var e movement.Equipment
	e, err = lockMovementEquipment(ctx, tx, input.MovementID)
	if err != nil {
		return models.MovementView{}, false, err
	}
	var movements []movement.Movement
	movements, err = loadMovements(ctx, tx, []string{e.ID})
	if err != nil {
		return models.MovementView{}, false, err
	}
	ledger := movement.NewLedger(movements)
	if err = ledger.CheckConfirm(input.MovementID, input.Actor.UserID); err != nil {
		return models.MovementView{}, false, err
	}

	m, _ := ledger.Get(input.MovementID)
	m = movement.Confirm(m, s.now())
	if _, err = tx.Exec(ctx, `
		UPDATE movements SET confirmed = true, confirmed_at = $2 WHERE movement_id = $1
	`, m.ID, m.ConfirmedAt); err != nil {
		return models.MovementView{}, false, fmt.Errorf("confirm movement: %w", err)
	}
	e = movement.Confirmed(e, m)
	e.UpdatedAt = *m.ConfirmedAt
	if err = updateEquipment(ctx, tx, e); err != nil {
		return models.MovementView{}, false, err
	}
	if err = dbx.RecordAction(ctx, tx, actionConfirm, input.RequestID, input.Actor.UserID, m.ID); err != nil {
		return models.MovementView{}, false, err
	}
	if err = outbox.Write(ctx, tx, outbox.TypeMovementConfirmed, movementPayload(m, input.Actor.UserID)); err != nil {
		return models.MovementView{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.MovementView{}, false, err
	}
	return viewOf(replaceMovement(movements, m), m, e.Name, input.Actor.UserID), true, nil
}

// InitiateReturn sends a repaired unit back to whoever dispatched the repair.
func (s *Store) InitiateReturn(ctx context.Context, input store.ReturnInput) (models.MovementView, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.MovementView{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var (
		view  models.MovementView
		found bool
	)
	view, found, err = s.replay(ctx, tx, actionReturn, input.RequestID, input.Actor.UserID)
	if err != nil || found {
		return view, false, err
	}

	var e movement.Equipment
	e, err = lockMovementEquipment(ctx, tx, input.MovementID)
	if err != nil {
		return models.MovementView{}, false, err
	}
	var movements []movement.Movement
	movements, err = loadMovements(ctx, tx, []string{e.ID})
	if err != nil {
		return models.MovementView{}, false, err
	}
	ledger := movement.NewLedger(movements)
	if err = ledger.CheckInitiateReturn(input.MovementID, input.Actor.UserID); err != nil {
		return models.MovementView{}, false, err
	}
	repair, _ := ledger.Get(input.MovementID)
	var ret movement.Movement
	ret, err = movement.NewReturn(repair, input.FinalCondition, strings.TrimSpace(input.Comment))
	if err != nil {
		return models.MovementView{}, false, err
	}
	if !movement.ValidDispatch(ret.Type, e.Condition) {
		err = movement.ErrInvalidDispatch
		return models.MovementView{}, false, err
	}
	ret.ID = uuid.NewString()
	ret.CreatedAt = s.now()
	if err = insertMovement(ctx, tx, ret); err != nil {
		return models.MovementView{}, false, err
	}
	e = movement.Dispatched(e, ret)
	e.UpdatedAt = ret.CreatedAt
	if err = updateEquipment(ctx, tx, e); err != nil {
		return models.MovementView{}, false, err
	}
	if err = dbx.RecordAction(ctx, tx, actionReturn, input.RequestID, input.Actor.UserID, ret.ID); err != nil {
		return models.MovementView{}, false, err
	}
	if err = outbox.Write(ctx, tx, outbox.TypeRepairReturnCreated, movementPayload(ret, input.Actor.UserID)); err != nil {
		return models.MovementView{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.MovementView{}, false, err
	}
	return viewOf(append(movements, ret), ret, e.Name, input.Actor.UserID), true, nil
}

func (s *Store) ListAssignments(ctx context.Context, filter store.AssignmentFilter) ([]movement.Assignment, int, error) {
	where := []string{"TRUE"}
	args := []interface{}{}
	arg := func(value interface{}) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.EquipmentID != "" {
		where = append(where, "equipment_id = "+arg(filter.EquipmentID))
	}
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = "+arg(filter.EmployeeID))
	}
	if filter.ActiveOnly {
		where = append(where, "end_date IS NULL")
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM assignments WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count assignments: %w", err)
	}
	limit, offset := pageBounds(filter.Page, filter.PageSize)
	rows, err := s.pool.Query(ctx, assignmentSelect+" WHERE "+clause+
		" ORDER BY start_date DESC, assignment_id LIMIT "+arg(limit)+" OFFSET "+arg(offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list assignments: %w", err)
	}
	items, err := scanAssignments(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Assign hands a unit to an employee at a service point. The assignment
// opens at once; the unit reaches the employee through an assignment
// movement they confirm.
func (s *Store) Assign(ctx context.Context, input store.AssignInput) (movement.Assignment, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return movement.Assignment{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existingID, found, err := dbx.FindAction(ctx, tx, actionAssign, input.RequestID, input.Actor.UserID)
	if err != nil {
		return movement.Assignment{}, false, err
	}
	if found {
		var a movement.Assignment
		a, err = loadAssignment(ctx, tx, existingID, false)
		if err != nil {
			return movement.Assignment{}, false, err
		}
		if err = tx.Commit(ctx); err != nil {
			return movement.Assignment{}, false, err
		}
		return a, false, nil
	}

	var e movement.Equipment
	e, err = loadEquipment(ctx, tx, input.EquipmentID, true)
	if err != nil {
		return movement.Assignment{}, false, err
	}
	var movements []movement.Movement
	movements, err = loadMovements(ctx, tx, []string{e.ID})
	if err != nil {
		return movement.Assignment{}, false, err
	}
	var assignments []movement.Assignment
	assignments, err = loadAssignments(ctx, tx, e.ID)
	if err != nil {
		return movement.Assignment{}, false, err
	}
	if err = store.CheckAssign(e, movement.NewLedger(movements), assignments, input); err != nil {
		return movement.Assignment{}, false, err
	}
	var recipient store.Recipient
	recipient, err = loadRecipient(ctx, tx, input.EmployeeID)
	if err != nil {
		return movement.Assignment{}, false, err
	}
	if err = store.CheckRecipient("employee_id", recipient); err != nil {
		return movement.Assignment{}, false, err
	}
	var agencyID string
	agencyID, err = servicePointAgency(ctx, tx, input.ServicePointID)
	if err != nil {
		return movement.Assignment{}, false, err
	}

	now := s.now()
	m := movement.Movement{
		ID:                       uuid.NewString(),
		EquipmentID:              e.ID,
		Type:                     movement.TypeAssignment,
		InitiatorID:              input.Actor.UserID,
		DestinationResponsibleID: input.EmployeeID,
		From:                     e.Location,
		To:                       movement.Location{AgencyID: agencyID, ServicePointID: input.ServicePointID},
		ConditionBefore:          e.Condition,
		Comment:                  strings.TrimSpace(input.Comment),
		CreatedAt:                now,
	}
	if err = insertMovement(ctx, tx, m); err != nil {
		return movement.Assignment{}, false, err
	}
	quantity := input.Quantity
	if quantity == 0 {
		quantity = 1
	}
	a := movement.Assignment{
		ID:                 uuid.NewString(),
		EquipmentID:        e.ID,
		EmployeeID:         input.EmployeeID,
		FromServicePointID: e.Location.ServicePointID,
		ServicePointID:     input.ServicePointID,
		Condition:          movement.AssignmentGood,
		Quantity:           quantity,
		MovementID:         m.ID,
		StartDate:          now,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO assignments (
			assignment_id, equipment_id, employee_id, from_service_point_id, service_point_id,
			condition, quantity, movement_id, start_date
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, a.ID, a.EquipmentID, a.EmployeeID, nullIfEmpty(a.FromServicePointID), a.ServicePointID,
		a.Condition, a.Quantity, a.MovementID, a.StartDate)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			err = store.ErrAlreadyAssigned
			return movement.Assignment{}, false, err
		}
		return movement.Assignment{}, false, fmt.Errorf("insert assignment: %w", err)
	}
	e = movement.Dispatched(e, m)
	e.UpdatedAt = now
	if err = updateEquipment(ctx, tx, e); err != nil {
		return movement.Assignment{}, false, err
	}
	if err = dbx.RecordAction(ctx, tx, actionAssign, input.RequestID, input.Actor.UserID, a.ID); err != nil {
		return movement.Assignment{}, false, err
	}
	if err = outbox.Write(ctx, tx, outbox.TypeMovementCreated, movementPayload(m, input.Actor.UserID)); err != nil {
		return movement.Assignment{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return movement.Assignment{}, false, err
	}
	return a, true, nil
}

func (s *Store) Withdraw(ctx context.Context, input store.WithdrawInput) (movement.Assignment, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return movement.Assignment{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existingID, found, err := dbx.FindAction(ctx, tx, actionWithdraw, input.RequestID, input.Actor.UserID)
	if err != nil {
		return movement.Assignment{}, false, err
	}
	if found {
		var a movement.Assignment
		a, err = loadAssignment(ctx, tx, existingID, false)
		if err != nil {
			return movement.Assignment{}, false, err
		}
		if err = tx.Commit(ctx); err != nil {
			return movement.Assignment{}, false, err
		}
		return a, false, nil
	}

	var a movement.Assignment
	a, err = loadAssignment(ctx, tx, input.AssignmentID, false)
	if err != nil {
		return movement.Assignment{}, false, err
	}
	var e movement.Equipment
	e, err = loadEquipment(ctx, tx, a.EquipmentID, true)
	if err != nil {
		return movement.Assignment{}, false, err
	}
	// Re-read under the equipment lock.
	a, err = loadAssignment(ctx, tx, input.AssignmentID, true)
	if err != nil {
		return movement.Assignment{}, false, err
	}
	var movements []movement.Movement
	movements, err = loadMovements(ctx, tx, []string{e.ID})
	if err != nil {
		return movement.Assignment{}, false, err
	}
	if err = store.CheckWithdraw(a, e, movement.NewLedger(movements), input); err != nil {
		return movement.Assignment{}, false, err
	}

	now := s.now()
	e, a = movement.Withdrawn(e, a, now)
	if input.Condition != "" {
		a.Condition = input.Condition
	}
	e.UpdatedAt = now
	if _, err = tx.Exec(ctx, `
		UPDATE assignments SET end_date = $2, condition = $3 WHERE assignment_id = $1
	`, a.ID, a.EndDate, a.Condition); err != nil {
		return movement.Assignment{}, false, fmt.Errorf("withdraw assignment: %w", err)
	}
	if err = updateEquipment(ctx, tx, e); err != nil {
		return movement.Assignment{}, false, err
	}
	if err = dbx.RecordAction(ctx, tx, actionWithdraw, input.RequestID, input.Actor.UserID, a.ID); err != nil {
		return movement.Assignment{}, false, err
	}
	payload := outbox.MovementPayload{
		MovementID:               a.MovementID,
		EquipmentID:              a.EquipmentID,
		MovementType:             string(movement.TypeAssignment),
		InitiatorID:              input.Actor.UserID,
		DestinationResponsibleID: a.EmployeeID,
		ActorID:                  input.Actor.UserID,
	}
	if err = outbox.Write(ctx, tx, outbox.TypeAssignmentWithdrawn, payload); err != nil {
		return movement.Assignment{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return movement.Assignment{}, false, err
	}
	return a, true, nil
}

func (s *Store) Stats(ctx context.Context, actor identity.Identity) (models.Stats, error) {
	stats := models.Stats{
		ByCondition: map[movement.Condition]int{},
		ByStatus:    map[movement.EquipmentStatus]int{},
	}
	rows, err := s.pool.Query(ctx, `
		SELECT condition, status, COUNT(*) FROM equipment WHERE NOT archived GROUP BY condition, status
	`)
	if err != nil {
		return models.Stats{}, fmt.Errorf("equipment stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			condition movement.Condition
			status    movement.EquipmentStatus
			count     int
		)
		if err := rows.Scan(&condition, &status, &count); err != nil {
			return models.Stats{}, err
		}
		stats.ByCondition[condition] += count
		stats.ByStatus[status] += count
	}
	if err := rows.Err(); err != nil {
		return models.Stats{}, err
	}
	stats.InRepair = stats.ByCondition[movement.ConditionInRepair]

	err = s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM movements WHERE NOT confirmed),
			(SELECT COUNT(*) FROM movements WHERE NOT confirmed AND destination_responsible_id = $1),
			(SELECT COUNT(*) FROM assignments WHERE end_date IS NULL)
	`, actor.UserID).Scan(&stats.PendingMovements, &stats.AwaitingMe, &stats.ActiveAssignments)
	if err != nil {
		return models.Stats{}, fmt.Errorf("movement stats: %w", err)
	}
	return stats, nil
}

// replay answers a repeated request_id with the movement its first use
// produced, as the caller sees it now.
func (s *Store) replay(ctx context.Context, tx pgx.Tx, action, requestID, actorID string) (models.MovementView, bool, error) {
	movementID, found, err := dbx.FindAction(ctx, tx, action, requestID, actorID)
	if err != nil || !found {
		return models.MovementView{}, false, err
	}
	var equipmentID, name string
	if err := tx.QueryRow(ctx, `
		SELECT e.equipment_id::text, e.name FROM movements m JOIN equipment e ON e.equipment_id = m.equipment_id
		WHERE m.movement_id = $1
	`, movementID).Scan(&equipmentID, &name); err != nil {
		return models.MovementView{}, false, fmt.Errorf("replay %s: %w", action, err)
	}
	movements, err := loadMovements(ctx, tx, []string{equipmentID})
	if err != nil {
		return models.MovementView{}, false, err
	}
	m, _ := movement.NewLedger(movements).Get(movementID)
	if err := tx.Commit(ctx); err != nil {
		return models.MovementView{}, false, err
	}
	return viewOf(movements, m, name, actorID), true, nil
}

func viewOf(movements []movement.Movement, m movement.Movement, equipmentName, actorID string) models.MovementView {
	return models.MovementView{
		Movement:      m,
		EquipmentName: equipmentName,
		Actions:       movement.NewLedger(movements).Actions(m.ID, actorID),
	}
}

func replaceMovement(movements []movement.Movement, m movement.Movement) []movement.Movement {
	out := make([]movement.Movement, len(movements))
	for i, existing := range movements {
		if existing.ID == m.ID {
			existing = m
		}
		out[i] = existing
	}
	return out
}

func movementPayload(m movement.Movement, actorID string) outbox.MovementPayload {
	return outbox.MovementPayload{
		MovementID:               m.ID,
		EquipmentID:              m.EquipmentID,
		MovementType:             string(m.Type),
		InitiatorID:              m.InitiatorID,
		DestinationResponsibleID: m.DestinationResponsibleID,
		RelatedMovementID:        m.RelatedMovementID,
		ActorID:                  actorID,
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
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func servicePointAgency(ctx context.Context, q querier, servicePointID string) (string, error) {
	var agencyID string
	err := q.QueryRow(ctx, `SELECT agency_id::text FROM service_points WHERE service_point_id = $1`, servicePointID).Scan(&agencyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrServicePointUnknown
	}
	return agencyID, err
}

// loadRecipient share-locks the addressed user so it cannot be deactivated
// before the movement commits.
func loadRecipient(ctx context.Context, tx pgx.Tx, userID string) (store.Recipient, error) {
	recipient := store.Recipient{UserID: userID}
	err := tx.QueryRow(ctx, `SELECT active FROM users WHERE user_id = $1 FOR SHARE`, userID).Scan(&recipient.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return recipient, nil
	}
	if err != nil {
		return store.Recipient{}, fmt.Errorf("load recipient: %w", err)
	}
	recipient.Found = true
	return recipient, nil
}
