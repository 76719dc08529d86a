package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"urclec/internal/movement"
	"urclec/internal/platform/dbx"
	"urclec/services/equipment-service/internal/store"
)

const equipmentSelect = `
	SELECT equipment_id::text, name, serial_number, category, status, condition,
	       COALESCE(custodian_id::text, ''), COALESCE(agency_id::text, ''), COALESCE(service_point_id::text, ''),
	       archived, created_at, updated_at
	FROM equipment
`

func scanEquipment(row pgx.Row) (movement.Equipment, error) {
	var e movement.Equipment
	err := row.Scan(&e.ID, &e.Name, &e.SerialNumber, &e.Category, &e.Status, &e.Condition,
		&e.CustodianID, &e.Location.AgencyID, &e.Location.ServicePointID,
		&e.Archived, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// loadEquipment reads one unit. lock takes the row lock every movement and
// assignment change on that unit is serialized on.
func loadEquipment(ctx context.Context, q querier, equipmentID string, lock bool) (movement.Equipment, error) {
	query := equipmentSelect + " WHERE equipment_id = $1"
	if lock {
		query += " FOR UPDATE"
	}
	e, err := scanEquipment(q.QueryRow(ctx, query, equipmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return movement.Equipment{}, store.ErrEquipmentNotFound
		}
		return movement.Equipment{}, fmt.Errorf("load equipment: %w", err)
	}
	return e, nil
}

// lockMovementEquipment locks the unit a movement concerns.
func lockMovementEquipment(ctx context.Context, tx pgx.Tx, movementID string) (movement.Equipment, error) {
	var equipmentID string
	err := tx.QueryRow(ctx, `SELECT equipment_id::text FROM movements WHERE movement_id = $1`, movementID).Scan(&equipmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return movement.Equipment{}, movement.ErrMovementNotFound
		}
		return movement.Equipment{}, fmt.Errorf("find movement: %w", err)
	}
	return loadEquipment(ctx, tx, equipmentID, true)
}

func updateEquipment(ctx context.Context, tx pgx.Tx, e movement.Equipment) error {
	_, err := tx.Exec(ctx, `
		UPDATE equipment
		SET status = $2, condition = $3, custodian_id = $4, agency_id = $5, service_point_id = $6,
		    archived = $7, updated_at = $8
		WHERE equipment_id = $1
	`, e.ID, e.Status, e.Condition, nullIfEmpty(e.CustodianID), nullIfEmpty(e.Location.AgencyID),
		nullIfEmpty(e.Location.ServicePointID), e.Archived, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update equipment: %w", err)
	}
	return nil
}

const movementSelect = `
	SELECT m.movement_id::text, m.equipment_id::text, m.type, m.initiator_id::text, m.destination_responsible_id::text,
	       COALESCE(m.from_agency_id::text, ''), COALESCE(m.from_service_point_id::text, ''),
	       COALESCE(m.to_agency_id::text, ''), COALESCE(m.to_service_point_id::text, ''),
	       m.condition_before, COALESCE(m.condition_after, ''), m.confirmed, m.confirmed_at,
	       COALESCE(m.related_movement_id::text, ''), m.comment, m.created_at, e.name
	FROM movements m
	JOIN equipment e ON e.equipment_id = m.equipment_id
`

// scanMovements also returns each movement's equipment name by movement id.
func scanMovements(rows pgx.Rows) ([]movement.Movement, map[string]string, error) {
	defer rows.Close()
	movements := []movement.Movement{}
	names := map[string]string{}
	for rows.Next() {
		var (
			m    movement.Movement
			name string
		)
		if err := rows.Scan(&m.ID, &m.EquipmentID, &m.Type, &m.InitiatorID, &m.DestinationResponsibleID,
			&m.From.AgencyID, &m.From.ServicePointID, &m.To.AgencyID, &m.To.ServicePointID,
			&m.ConditionBefore, &m.ConditionAfter, &m.Confirmed, &m.ConfirmedAt,
			&m.RelatedMovementID, &m.Comment, &m.CreatedAt, &name); err != nil {
			return nil, nil, err
		}
		movements = append(movements, m)
		names[m.ID] = name
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return movements, names, nil
}

// loadMovements reads every leg of the given units, oldest first.
func loadMovements(ctx context.Context, q querier, equipmentIDs []string) ([]movement.Movement, error) {
	if len(equipmentIDs) == 0 {
		return []movement.Movement{}, nil
	}
	rows, err := q.Query(ctx, movementSelect+`
		WHERE m.equipment_id = ANY($1::uuid[])
		ORDER BY m.created_at ASC, m.movement_id
	`, equipmentIDs)
	if err != nil {
		return nil, fmt.Errorf("load movements: %w", err)
	}
	movements, _, err := scanMovements(rows)
	return movements, err
}

func insertMovement(ctx context.Context, tx pgx.Tx, m movement.Movement) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO movements (
			movement_id, equipment_id, type, initiator_id, destination_responsible_id,
			from_agency_id, from_service_point_id, to_agency_id, to_service_point_id,
			condition_before, condition_after, related_movement_id, comment, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, m.ID, m.EquipmentID, m.Type, m.InitiatorID, m.DestinationResponsibleID,
		nullIfEmpty(m.From.AgencyID), nullIfEmpty(m.From.ServicePointID),
		nullIfEmpty(m.To.AgencyID), nullIfEmpty(m.To.ServicePointID),
		m.ConditionBefore, nullIfEmpty(string(m.ConditionAfter)), nullIfEmpty(m.RelatedMovementID), m.Comment, m.CreatedAt)
	if err == nil {
		return nil
	}
	switch dbx.ConstraintName(err) {
	case "movements_one_return_per_repair":
		return movement.ErrReturnExists
	case "movements_one_pending_per_equipment":
		return store.ErrMovementPending
	}
	if dbx.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: unknown reference %s", store.ErrInvalidRequest, dbx.ConstraintName(err))
	}
	return fmt.Errorf("insert movement: %w", err)
}

const assignmentSelect = `
	SELECT assignment_id::text, equipment_id::text, employee_id::text, COALESCE(from_service_point_id::text, ''),
	       service_point_id::text, condition, quantity, COALESCE(movement_id::text, ''), start_date, end_date
	FROM assignments
`

func scanAssignment(row pgx.Row) (movement.Assignment, error) {
	var a movement.Assignment
	err := row.Scan(&a.ID, &a.EquipmentID, &a.EmployeeID, &a.FromServicePointID, &a.ServicePointID,
		&a.Condition, &a.Quantity, &a.MovementID, &a.StartDate, &a.EndDate)
	return a, err
}

func scanAssignments(rows pgx.Rows) ([]movement.Assignment, error) {
	defer rows.Close()
	assignments := []movement.Assignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assignments, nil
}

func loadAssignment(ctx context.Context, q querier, assignmentID string, lock bool) (movement.Assignment, error) {
	query := assignmentSelect + " WHERE assignment_id = $1"
	if lock {
		query += " FOR UPDATE"
	}
	a, err := scanAssignment(q.QueryRow(ctx, query, assignmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return movement.Assignment{}, store.ErrAssignmentNotFound
		}
		return movement.Assignment{}, fmt.Errorf("load assignment: %w", err)
	}
	return a, nil
}

func loadAssignments(ctx context.Context, q querier, equipmentID string) ([]movement.Assignment, error) {
	rows, err := q.Query(ctx, assignmentSelect+" WHERE equipment_id = $1 ORDER BY start_date", equipmentID)
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	return scanAssignments(rows)
}
