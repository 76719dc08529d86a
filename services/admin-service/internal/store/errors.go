package store

import (
	"errors"

	"urclec/internal/platform/dbx"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrEmailTaken          = errors.New("email already registered")
	ErrDuplicate           = errors.New("already exists")
	ErrUnknownReference    = errors.New("referenced record does not exist")
	ErrAccessDenied        = errors.New("access denied")
	ErrIdempotencyConflict = dbx.ErrIdempotencyConflict
)
