package store

import (
	"fmt"
	"strings"

	"urclec/internal/identity"
	"urclec/internal/movement"
)

// CanManage covers inventory changes and assignments.
func CanManage(actor identity.Identity) bool {
	return actor.HasAnyRole(identity.RoleEquipmentManager, identity.RoleAdmin)
}

// Recipient is the user a movement is addressed to as stored. Found is
// false when no such user exists.
type Recipient struct {
	UserID string
	Found  bool
	Active bool
}

// CheckRecipient refuses movements addressed to someone who could never
// sign in to confirm them.
func CheckRecipient(field string, r Recipient) error {
	if !r.Found {
		return fmt.Errorf("%w: %s %s is not a known user", ErrInvalidRequest, field, r.UserID)
	}
	if !r.Active {
		return fmt.Errorf("%w: %s %s is deactivated", ErrInvalidRequest, field, r.UserID)
	}
	return nil
}

// CheckDispatch validates a transfer or repair leaving from e. Only the
// current custodian or an equipment manager may send a unit away, and a unit
// moves one leg at a time. An assigned unit must be withdrawn before it is
// transferred.
func CheckDispatch(e movement.Equipment, ledger movement.Ledger, assignments []movement.Assignment, input DispatchInput) error {
	if e.Archived {
		return ErrEquipmentArchived
	}
	if !CanManage(input.Actor) && e.CustodianID != input.Actor.UserID {
		return ErrAccessDenied
	}
	switch input.Type {
	case movement.TypeTransfer, movement.TypeRepair:
	default:
		return fmt.Errorf("%w: dispatch type must be transfer or repair", ErrInvalidRequest)
	}
	if strings.TrimSpace(input.DestinationResponsibleID) == "" {
		return fmt.Errorf("%w: destination_responsible_id is required", ErrInvalidRequest)
	}
	if input.DestinationResponsibleID == e.CustodianID {
		return fmt.Errorf("%w: destination is already the custodian", ErrInvalidRequest)
	}
	if input.ConditionAfter != "" && input.Type == movement.TypeTransfer && !movement.ValidFinalCondition(input.ConditionAfter) {
		return movement.ErrInvalidFinalCondition
	}
	if _, pending := ledger.Pending(e.ID); pending {
		return ErrMovementPending
	}
	if _, active := movement.ActiveAssignment(assignments); active && input.Type == movement.TypeTransfer {
		return ErrAlreadyAssigned
	}
	if !movement.ValidDispatch(input.Type, e.Condition) {
		return movement.ErrInvalidDispatch
	}
	return nil
}

// CheckAssign validates handing e to an employee.
func CheckAssign(e movement.Equipment, ledger movement.Ledger, assignments []movement.Assignment, input AssignInput) error {
	if !CanManage(input.Actor) {
		return ErrAccessDenied
	}
	if e.Archived {
		return ErrEquipmentArchived
	}
	if strings.TrimSpace(input.EmployeeID) == "" || strings.TrimSpace(input.ServicePointID) == "" {
		return fmt.Errorf("%w: employee_id and service_point_id are required", ErrInvalidRequest)
	}
	if input.Quantity < 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidRequest)
	}
	if _, active := movement.ActiveAssignment(assignments); active {
		return ErrAlreadyAssigned
	}
	if _, pending := ledger.Pending(e.ID); pending {
		return ErrMovementPending
	}
	if !movement.ValidDispatch(movement.TypeAssignment, e.Condition) {
		return movement.ErrInvalidDispatch
	}
	return nil
}

// CheckWithdraw validates ending a. The unit must not be mid-movement.
func CheckWithdraw(a movement.Assignment, e movement.Equipment, ledger movement.Ledger, input WithdrawInput) error {
	if !CanManage(input.Actor) {
		return ErrAccessDenied
	}
	if !a.Active() {
		return ErrAssignmentClosed
	}
	if input.Condition != "" && !input.Condition.Valid() {
		return fmt.Errorf("%w: unknown assignment condition %q", ErrInvalidRequest, input.Condition)
	}
	if _, pending := ledger.Pending(e.ID); pending {
		return ErrMovementPending
	}
	return nil
}

// CheckArchive allows retiring a unit that is not travelling or assigned.
func CheckArchive(e movement.Equipment, ledger movement.Ledger, assignments []movement.Assignment, actor identity.Identity) error {
	if !CanManage(actor) {
		return ErrAccessDenied
	}
	if _, pending := ledger.Pending(e.ID); pending {
		return ErrMovementPending
	}
	if _, active := movement.ActiveAssignment(assignments); active {
		return ErrAlreadyAssigned
	}
	return nil
}
