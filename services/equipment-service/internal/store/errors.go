package store

import (
	"errors"

	"urclec/internal/platform/dbx"
)

var (
	ErrEquipmentNotFound   = errors.New("equipment not found")
	ErrAssignmentNotFound  = errors.New("assignment not found")
	ErrServicePointUnknown = errors.New("service point not found")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrAccessDenied        = errors.New("access denied")
	ErrEquipmentArchived   = errors.New("equipment archived")
	ErrMovementPending     = errors.New("equipment has a movement awaiting confirmation")
	ErrAlreadyAssigned     = errors.New("equipment already has an active assignment")
	ErrAssignmentClosed    = errors.New("assignment already ended")
	ErrSerialTaken         = errors.New("serial number already registered")
	ErrIdempotencyConflict = dbx.ErrIdempotencyConflict
)
