package store

import (
	"errors"

	"urclec/internal/platform/dbx"
)

var (
	ErrRequestNotFound     = errors.New("request not found")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrRequestArchived     = errors.New("request archived")
	ErrAccessDenied        = errors.New("access denied")
	ErrIdempotencyConflict = dbx.ErrIdempotencyConflict
)
