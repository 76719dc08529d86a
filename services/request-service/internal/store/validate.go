package store

import (
	"fmt"
	"strings"

	"urclec/internal/identity"
	"urclec/services/request-service/internal/models"
)

// ValidateCreate checks the type-specific payload of a new request. The
// requester must report to a supervisor, who holds the first level.
func ValidateCreate(input CreateRequestInput) error {
	if input.Actor.ChefID == "" {
		return fmt.Errorf("%w: no supervisor assigned", ErrInvalidRequest)
	}
	if !input.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, input.Type)
	}
	if input.StartDate.IsZero() || input.EndDate.IsZero() {
		return fmt.Errorf("%w: start_date and end_date are required", ErrInvalidRequest)
	}
	if input.EndDate.Before(input.StartDate.Time) {
		return fmt.Errorf("%w: end_date is before start_date", ErrInvalidRequest)
	}
	switch input.Type {
	case models.TypeLeave:
		if input.DayCount == nil || *input.DayCount <= 0 {
			return fmt.Errorf("%w: leave needs a positive day_count", ErrInvalidRequest)
		}
	case models.TypePermission:
		if strings.TrimSpace(input.Duration) == "" {
			return fmt.Errorf("%w: permission needs a duration", ErrInvalidRequest)
		}
	case models.TypeAbsence:
		if strings.TrimSpace(input.Justification) == "" {
			return fmt.Errorf("%w: absence needs a justification", ErrInvalidRequest)
		}
	}
	return nil
}

// ParseScope defaults to mine. Team lists requests of users whose chef is
// the actor and may be empty; all is reserved to HR, management and admins.
func ParseScope(raw string, actor identity.Identity) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ScopeMine:
		return ScopeMine, nil
	case ScopeTeam:
		return ScopeTeam, nil
	case ScopeAll:
		if !actor.HasAnyRole(identity.RoleHR, identity.RoleManagement, identity.RoleAdmin) {
			return "", ErrAccessDenied
		}
		return ScopeAll, nil
	default:
		return "", fmt.Errorf("%w: unknown scope %q", ErrInvalidRequest, raw)
	}
}

// CanArchive lets the author or an admin archive a request.
func CanArchive(request models.Request, actor identity.Identity) bool {
	return actor.UserID == request.Requester.UserID || actor.HasRole(identity.RoleAdmin)
}
