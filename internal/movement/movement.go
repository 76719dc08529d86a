// Package movement tracks equipment handoffs between custodians and locations.
//
// A movement is recorded unconfirmed by its initiator and only takes effect on
// the equipment once the receiving party confirms it. Repairs are the one
// two-leg flow: the repairer confirms receipt, later sends the unit back with a
// repair_return movement that points at the repair through RelatedMovementID,
// and the original initiator confirms that return.
package movement

import (
	"errors"
	"time"
)

type Condition string

const (
	ConditionFunctional Condition = "functional"
	ConditionInRepair   Condition = "in_repair"
	ConditionBroken     Condition = "broken"
	ConditionInTransit  Condition = "in_transit"
	ConditionRetired    Condition = "retired"
)

type EquipmentStatus string

const (
	StatusActive       EquipmentStatus = "active"
	StatusOutOfService EquipmentStatus = "out_of_service"
)

type AssignmentCondition string

const (
	AssignmentGood      AssignmentCondition = "good"
	AssignmentDamaged   AssignmentCondition = "damaged"
	AssignmentLost      AssignmentCondition = "lost"
	AssignmentWithdrawn AssignmentCondition = "withdrawn"
)

func (c AssignmentCondition) Valid() bool {
	switch c {
	case AssignmentGood, AssignmentDamaged, AssignmentLost, AssignmentWithdrawn:
		return true
	default:
		return false
	}
}

type Type string

const (
	TypeAssignment   Type = "assignment"
	TypeTransfer     Type = "transfer"
	TypeRepair       Type = "repair"
	TypeRepairReturn Type = "repair_return"
)

func (t Type) Valid() bool {
	switch t {
	case TypeAssignment, TypeTransfer, TypeRepair, TypeRepairReturn:
		return true
	default:
		return false
	}
}

var (
	ErrMovementNotFound      = errors.New("movement not found")
	ErrAlreadyConfirmed      = errors.New("movement already confirmed")
	ErrNotResponsible        = errors.New("actor is not the receiving party")
	ErrNotRepair             = errors.New("movement is not a repair")
	ErrRepairNotConfirmed    = errors.New("repair not yet received")
	ErrReturnExists          = errors.New("repair already has a return")
	ErrInvalidFinalCondition = errors.New("final condition must be functional or broken")
	ErrInvalidDispatch       = errors.New("equipment condition does not allow this movement")
)

// Location is an agency and one of its service points; both may be empty.
type Location struct {
	AgencyID       string `json:"agency_id,omitempty"`
	ServicePointID string `json:"service_point_id,omitempty"`
}

type Movement struct {
	ID                       string     `json:"movement_id"`
	EquipmentID              string     `json:"equipment_id"`
	Type                     Type       `json:"type"`
	InitiatorID              string     `json:"initiator_id"`
	DestinationResponsibleID string     `json:"destination_responsible_id"`
	From                     Location   `json:"from"`
	To                       Location   `json:"to"`
	ConditionBefore          Condition  `json:"condition_before"`
	ConditionAfter           Condition  `json:"condition_after,omitempty"`
	Confirmed                bool       `json:"confirmed"`
	ConfirmedAt              *time.Time `json:"confirmed_at,omitempty"`
	RelatedMovementID        string     `json:"related_movement_id,omitempty"`
	Comment                  string     `json:"comment,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
}

type Equipment struct {
	ID           string          `json:"equipment_id"`
	Name         string          `json:"name"`
	SerialNumber string          `json:"serial_number"`
	Category     string          `json:"category,omitempty"`
	Status       EquipmentStatus `json:"status"`
	Condition    Condition       `json:"condition"`
	CustodianID  string          `json:"custodian_id,omitempty"`
	Location     Location        `json:"location"`
	Archived     bool            `json:"archived"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type Assignment struct {
	ID                 string              `json:"assignment_id"`
	EquipmentID        string              `json:"equipment_id"`
	EmployeeID         string              `json:"employee_id"`
	FromServicePointID string              `json:"from_service_point_id,omitempty"`
	ServicePointID     string              `json:"service_point_id"`
	Condition          AssignmentCondition `json:"condition"`
	Quantity           int                 `json:"quantity"`
	MovementID         string              `json:"movement_id,omitempty"`
	StartDate          time.Time           `json:"start_date"`
	EndDate            *time.Time          `json:"end_date,omitempty"`
}

func (a Assignment) Active() bool {
	return a.EndDate == nil
}

// ActiveAssignment returns the open assignment among assignments, if any.
func ActiveAssignment(assignments []Assignment) (Assignment, bool) {
	for _, a := range assignments {
		if a.Active() {
			return a, true
		}
	}
	return Assignment{}, false
}

// ValidFinalCondition reports whether c may close a repair.
func ValidFinalCondition(c Condition) bool {
	return c == ConditionFunctional || c == ConditionBroken
}

// Dispatched is the unit once a movement leaves with it.
func Dispatched(e Equipment, m Movement) Equipment {
	e.Condition = ConditionInTransit
	return e
}

// Confirmed applies a confirmed movement to the unit it concerns.
func Confirmed(e Equipment, m Movement) Equipment {
	e.CustodianID = m.DestinationResponsibleID
	e.Location = m.To
	switch m.Type {
	case TypeRepair:
		e.Condition = ConditionInRepair
	case TypeRepairReturn:
		e.Condition = m.ConditionAfter
	default:
		e.Condition = m.ConditionAfter
		if e.Condition == "" {
			e.Condition = ConditionFunctional
		}
	}
	switch e.Condition {
	case ConditionBroken:
		e.Status = StatusOutOfService
	case ConditionFunctional:
		e.Status = StatusActive
	}
	return e
}

// Confirm marks m received at.
func Confirm(m Movement, at time.Time) Movement {
	m.Confirmed = true
	confirmedAt := at.UTC()
	m.ConfirmedAt = &confirmedAt
	return m
}

// NewReturn builds the repair_return leg for repair, sent back by its repairer
// to whoever dispatched it.
func NewReturn(repair Movement, final Condition, comment string) (Movement, error) {
	if repair.Type != TypeRepair {
		return Movement{}, ErrNotRepair
	}
	if !ValidFinalCondition(final) {
		return Movement{}, ErrInvalidFinalCondition
	}
	return Movement{
		EquipmentID:              repair.EquipmentID,
		Type:                     TypeRepairReturn,
		InitiatorID:              repair.DestinationResponsibleID,
		DestinationResponsibleID: repair.InitiatorID,
		From:                     repair.To,
		To:                       repair.From,
		ConditionBefore:          ConditionInRepair,
		ConditionAfter:           final,
		RelatedMovementID:        repair.ID,
		Comment:                  comment,
	}, nil
}

// Withdrawn closes a on the given day and releases the unit from its holder.
func Withdrawn(e Equipment, a Assignment, at time.Time) (Equipment, Assignment) {
	end := at.UTC()
	a.EndDate = &end
	a.Condition = AssignmentWithdrawn
	if e.CustodianID == a.EmployeeID {
		e.CustodianID = ""
	}
	return e, a
}

// Retired is the unit once archived; it stays readable but leaves service.
func Retired(e Equipment) Equipment {
	e.Archived = true
	e.Condition = ConditionRetired
	e.Status = StatusOutOfService
	return e
}
