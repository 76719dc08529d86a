package store

import (
	"errors"
	"testing"
	"time"

	"urclec/internal/identity"
	"urclec/internal/movement"
)

var (
	manager   = identity.Identity{UserID: "m-1", Roles: []identity.Role{identity.RoleEquipmentManager}}
	custodian = identity.Identity{UserID: "u-1", Roles: []identity.Role{identity.RoleEmployee}}
	stranger  = identity.Identity{UserID: "u-9", Roles: []identity.Role{identity.RoleEmployee}}
)

func unit(condition movement.Condition) movement.Equipment {
	return movement.Equipment{ID: "e-1", Condition: condition, Status: movement.StatusActive, CustodianID: custodian.UserID}
}

func TestCheckDispatch(t *testing.T) {
	pending := movement.NewLedger([]movement.Movement{{ID: "mv-1", EquipmentID: "e-1", Type: movement.TypeTransfer}})
	empty := movement.NewLedger(nil)
	archived := unit(movement.ConditionFunctional)
	archived.Archived = true
	assigned := []movement.Assignment{{ID: "a-1", EquipmentID: "e-1", EmployeeID: custodian.UserID}}

	cases := []struct {
		name        string
		unit        movement.Equipment
		ledger      movement.Ledger
		assignments []movement.Assignment
		input       DispatchInput
		err         error
	}{
		{"custodian transfer", unit(movement.ConditionFunctional), empty, nil, DispatchInput{Actor: custodian, Type: movement.TypeTransfer, DestinationResponsibleID: "u-2"}, nil},
		{"manager repair of broken unit", unit(movement.ConditionBroken), empty, nil, DispatchInput{Actor: manager, Type: movement.TypeRepair, DestinationResponsibleID: "r-1"}, nil},
		{"stranger", unit(movement.ConditionFunctional), empty, nil, DispatchInput{Actor: stranger, Type: movement.TypeTransfer, DestinationResponsibleID: "u-2"}, ErrAccessDenied},
		{"archived", archived, empty, nil, DispatchInput{Actor: manager, Type: movement.TypeTransfer, DestinationResponsibleID: "u-2"}, ErrEquipmentArchived},
		{"pending leg", unit(movement.ConditionFunctional), pending, nil, DispatchInput{Actor: custodian, Type: movement.TypeTransfer, DestinationResponsibleID: "u-2"}, ErrMovementPending},
		{"transfer broken", unit(movement.ConditionBroken), empty, nil, DispatchInput{Actor: custodian, Type: movement.TypeTransfer, DestinationResponsibleID: "u-2"}, movement.ErrInvalidDispatch},
		{"repair in repair", unit(movement.ConditionInRepair), empty, nil, DispatchInput{Actor: manager, Type: movement.TypeRepair, DestinationResponsibleID: "r-1"}, movement.ErrInvalidDispatch},
		{"return is not a dispatch", unit(movement.ConditionInRepair), empty, nil, DispatchInput{Actor: manager, Type: movement.TypeRepairReturn, DestinationResponsibleID: "u-2"}, ErrInvalidRequest},
		{"no destination", unit(movement.ConditionFunctional), empty, nil, DispatchInput{Actor: custodian, Type: movement.TypeTransfer}, ErrInvalidRequest},
		{"to self", unit(movement.ConditionFunctional), empty, nil, DispatchInput{Actor: custodian, Type: movement.TypeTransfer, DestinationResponsibleID: custodian.UserID}, ErrInvalidRequest},
		{"transfer of assigned unit", unit(movement.ConditionFunctional), empty, assigned, DispatchInput{Actor: custodian, Type: movement.TypeTransfer, DestinationResponsibleID: "u-2"}, ErrAlreadyAssigned},
		{"repair of assigned unit", unit(movement.ConditionBroken), empty, assigned, DispatchInput{Actor: manager, Type: movement.TypeRepair, DestinationResponsibleID: "r-1"}, nil},
		{"transfer arriving in repair", unit(movement.ConditionFunctional), empty, nil, DispatchInput{Actor: custodian, Type: movement.TypeTransfer, DestinationResponsibleID: "u-2", ConditionAfter: movement.ConditionInRepair}, movement.ErrInvalidFinalCondition},
	}
	for _, tc := range cases {
		err := CheckDispatch(tc.unit, tc.ledger, tc.assignments, tc.input)
		if tc.err == nil && err != nil {
			t.Fatalf("%s: expected ok, got %v", tc.name, err)
		}
		if tc.err != nil && !errors.Is(err, tc.err) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.err, err)
		}
	}
}

func TestCheckRecipient(t *testing.T) {
	cases := []struct {
		name      string
		recipient Recipient
		ok        bool
	}{
		{"active user", Recipient{UserID: "u-2", Found: true, Active: true}, true},
		{"unknown user", Recipient{UserID: "u-404"}, false},
		{"deactivated user", Recipient{UserID: "u-3", Found: true}, false},
	}
	for _, tc := range cases {
		err := CheckRecipient("destination_responsible_id", tc.recipient)
		if tc.ok && err != nil {
			t.Fatalf("%s: expected ok, got %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%s: expected ErrInvalidRequest, got %v", tc.name, err)
		}
	}
}

func TestCheckAssign(t *testing.T) {
	empty := movement.NewLedger(nil)
	input := AssignInput{Actor: manager, EquipmentID: "e-1", EmployeeID: "u-2", ServicePointID: "sp-1", Quantity: 1}
	active := []movement.Assignment{{ID: "a-1", EquipmentID: "e-1", EmployeeID: "u-1"}}
	ended := time.Now()
	closed := []movement.Assignment{{ID: "a-1", EquipmentID: "e-1", EmployeeID: "u-1", EndDate: &ended}}

	if err := CheckAssign(unit(movement.ConditionFunctional), empty, closed, input); err != nil {
		t.Fatalf("expected assignment allowed, got %v", err)
	}
	if err := CheckAssign(unit(movement.ConditionFunctional), empty, active, input); !errors.Is(err, ErrAlreadyAssigned) {
		t.Fatalf("expected already assigned, got %v", err)
	}
	asCustodian := input
	asCustodian.Actor = custodian
	if err := CheckAssign(unit(movement.ConditionFunctional), empty, nil, asCustodian); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	if err := CheckAssign(unit(movement.ConditionBroken), empty, nil, input); !errors.Is(err, movement.ErrInvalidDispatch) {
		t.Fatalf("expected invalid dispatch, got %v", err)
	}
	missing := input
	missing.ServicePointID = ""
	if err := CheckAssign(unit(movement.ConditionFunctional), empty, nil, missing); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestCheckWithdraw(t *testing.T) {
	empty := movement.NewLedger(nil)
	pending := movement.NewLedger([]movement.Movement{{ID: "mv-1", EquipmentID: "e-1", Type: movement.TypeAssignment}})
	a := movement.Assignment{ID: "a-1", EquipmentID: "e-1", EmployeeID: "u-1"}

	if err := CheckWithdraw(a, unit(movement.ConditionFunctional), empty, WithdrawInput{Actor: manager, Condition: movement.AssignmentDamaged}); err != nil {
		t.Fatalf("expected withdraw allowed, got %v", err)
	}
	if err := CheckWithdraw(a, unit(movement.ConditionFunctional), pending, WithdrawInput{Actor: manager}); !errors.Is(err, ErrMovementPending) {
		t.Fatalf("expected pending movement, got %v", err)
	}
	if err := CheckWithdraw(a, unit(movement.ConditionFunctional), empty, WithdrawInput{Actor: manager, Condition: "stolen"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid condition, got %v", err)
	}
	end := time.Now()
	a.EndDate = &end
	if err := CheckWithdraw(a, unit(movement.ConditionFunctional), empty, WithdrawInput{Actor: manager}); !errors.Is(err, ErrAssignmentClosed) {
		t.Fatalf("expected closed assignment, got %v", err)
	}
}

func TestCheckArchive(t *testing.T) {
	empty := movement.NewLedger(nil)
	if err := CheckArchive(unit(movement.ConditionBroken), empty, nil, manager); err != nil {
		t.Fatalf("expected archive allowed, got %v", err)
	}
	if err := CheckArchive(unit(movement.ConditionBroken), empty, nil, custodian); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	active := []movement.Assignment{{ID: "a-1", EquipmentID: "e-1"}}
	if err := CheckArchive(unit(movement.ConditionFunctional), empty, active, manager); !errors.Is(err, ErrAlreadyAssigned) {
		t.Fatalf("expected already assigned, got %v", err)
	}
}
