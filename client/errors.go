package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Conflict codes the services return with 409.
var (
	ErrAlreadyDecided   = errors.New("already decided")
	ErrRequestClosed    = errors.New("request closed")
	ErrAlreadyConfirmed = errors.New("movement already confirmed")
	ErrReturnExists     = errors.New("repair already has a return")
	ErrInFlight         = errors.New("action already in flight")
)

var conflictCodes = map[string]error{
	"already_decided":   ErrAlreadyDecided,
	"request_closed":    ErrRequestClosed,
	"already_confirmed": ErrAlreadyConfirmed,
	"return_exists":     ErrReturnExists,
}

// ValidationError rejects input, either locally before any call or from a
// 400 response.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// AuthorizationError means the actor may not perform the action. Status is
// zero when the check failed locally.
type AuthorizationError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthorizationError) Error() string {
	return "not authorized: " + e.Message
}

// Unauthenticated reports whether the session is missing or expired.
func (e *AuthorizationError) Unauthenticated() bool {
	return e.Status == http.StatusUnauthorized
}

// ConflictError is a 409: the action is no longer valid for the current
// server state.
type ConflictError struct {
	Code      string
	Message   string
	RequestID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict (%s): %s", e.Code, e.Message)
}

func (e *ConflictError) Is(target error) bool {
	known, ok := conflictCodes[e.Code]
	return ok && known == target
}

type NotFoundError struct {
	Code    string
	Message string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

// NetworkError covers calls that did not complete: transport failures,
// timeouts and 5xx answers. It is safe to try again.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: server answered %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Temporary() bool { return true }

// apiError maps a non-2xx envelope onto the taxonomy.
func apiError(op string, status int, code, message, requestID string) error {
	switch {
	case status == http.StatusBadRequest:
		return &ValidationError{Message: message}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthorizationError{Status: status, Code: code, Message: message}
	case status == http.StatusNotFound:
		return &NotFoundError{Code: code, Message: message}
	case status == http.StatusConflict:
		return &ConflictError{Code: code, Message: message, RequestID: requestID}
	case status >= http.StatusInternalServerError:
		return &NetworkError{Op: op, Status: status, Err: errors.New(message)}
	default:
		return fmt.Errorf("%s: unexpected status %d (%s): %s", op, status, code, message)
	}
}
