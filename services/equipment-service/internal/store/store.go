package store

import (
	"context"

	"urclec/internal/identity"
	"urclec/internal/movement"
	"urclec/services/equipment-service/internal/models"
)

type CreateEquipmentInput struct {
	RequestID      string
	Actor          identity.Identity
	Name           string
	SerialNumber   string
	Category       string
	CustodianID    string
	AgencyID       string
	ServicePointID string
}

type ArchiveInput struct {
	RequestID   string
	EquipmentID string
	Actor       identity.Identity
}

type DispatchInput struct {
	RequestID                string
	Actor                    identity.Identity
	EquipmentID              string
	Type                     movement.Type
	DestinationResponsibleID string
	ToAgencyID               string
	ToServicePointID         string
	ConditionAfter           movement.Condition
	Comment                  string
}

type ConfirmInput struct {
	RequestID  string
	Actor      identity.Identity
	MovementID string
}

type ReturnInput struct {
	RequestID      string
	Actor          identity.Identity
	MovementID     string
	FinalCondition movement.Condition
	Comment        string
}

type AssignInput struct {
	RequestID      string
	Actor          identity.Identity
	EquipmentID    string
	EmployeeID     string
	ServicePointID string
	Quantity       int
	Comment        string
}

type WithdrawInput struct {
	RequestID    string
	Actor        identity.Identity
	AssignmentID string
	Condition    movement.AssignmentCondition
}

type EquipmentFilter struct {
	Condition       movement.Condition
	CustodianID     string
	IncludeArchived bool
	Page            int
	PageSize        int
}

type MovementFilter struct {
	Actor       identity.Identity
	EquipmentID string
	Type        movement.Type
	PendingOnly bool
	Page        int
	PageSize    int
}

type AssignmentFilter struct {
	EquipmentID string
	EmployeeID  string
	ActiveOnly  bool
	Page        int
	PageSize    int
}

type EquipmentStore interface {
	CreateEquipment(ctx context.Context, input CreateEquipmentInput) (movement.Equipment, bool, error)
	GetEquipment(ctx context.Context, equipmentID string, actor identity.Identity) (models.EquipmentDetail, error)
	ListEquipment(ctx context.Context, filter EquipmentFilter) ([]movement.Equipment, int, error)
	ArchiveEquipment(ctx context.Context, input ArchiveInput) (movement.Equipment, bool, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]models.MovementView, int, error)
	Dispatch(ctx context.Context, input DispatchInput) (models.MovementView, bool, error)
	ConfirmReceipt(ctx context.Context, input ConfirmInput) (models.MovementView, bool, error)
	InitiateReturn(ctx context.Context, input ReturnInput) (models.MovementView, bool, error)
	ListAssignments(ctx context.Context, filter AssignmentFilter) ([]movement.Assignment, int, error)
	Assign(ctx context.Context, input AssignInput) (movement.Assignment, bool, error)
	Withdraw(ctx context.Context, input WithdrawInput) (movement.Assignment, bool, error)
	Stats(ctx context.Context, actor identity.Identity) (models.Stats, error)
}
