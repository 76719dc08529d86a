package store

import (
	"fmt"
	"net/mail"
	"strings"

	"urclec/internal/identity"
)

const minPasswordLength = 8

// ValidateCreateUser normalizes input in place. Every role tag must be one
// the platform recognizes.
func ValidateCreateUser(input *CreateUserInput) error {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.FullName = strings.TrimSpace(input.FullName)
	if _, err := mail.ParseAddress(input.Email); err != nil {
		return fmt.Errorf("%w: email is not valid", ErrInvalidRequest)
	}
	if input.FullName == "" {
		return fmt.Errorf("%w: full_name is required", ErrInvalidRequest)
	}
	if len(input.Password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidRequest, minPasswordLength)
	}
	roles, err := CanonicalRoles(input.Roles)
	if err != nil {
		return err
	}
	input.Roles = roles
	return nil
}

func ValidateUpdateUser(input *UpdateUserInput) error {
	if input.FullName != nil {
		name := strings.TrimSpace(*input.FullName)
		if name == "" {
			return fmt.Errorf("%w: full_name cannot be empty", ErrInvalidRequest)
		}
		input.FullName = &name
	}
	if input.ChefID != nil && *input.ChefID == input.UserID {
		return fmt.Errorf("%w: a user cannot supervise themselves", ErrInvalidRequest)
	}
	if input.Password != nil && len(*input.Password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidRequest, minPasswordLength)
	}
	if input.Roles != nil {
		roles, err := CanonicalRoles(*input.Roles)
		if err != nil {
			return err
		}
		input.Roles = &roles
	}
	return nil
}

// CanonicalRoles maps free-form tags to the canonical role names that get
// stored for new assignments.
func CanonicalRoles(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	seen := make(map[identity.Role]struct{}, len(tags))
	for _, tag := range tags {
		role, ok := identity.ParseRole(tag)
		if !ok {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, tag)
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, string(role))
	}
	if len(out) == 0 {
		out = append(out, string(identity.RoleEmployee))
	}
	return out, nil
}

func ValidateCreateCredit(input *CreateCreditInput) error {
	input.BorrowerName = strings.TrimSpace(input.BorrowerName)
	input.BorrowerPhone = strings.TrimSpace(input.BorrowerPhone)
	if input.BorrowerName == "" {
		return fmt.Errorf("%w: borrower_name is required", ErrInvalidRequest)
	}
	if input.AmountCents <= 0 {
		return fmt.Errorf("%w: amount_cents must be positive", ErrInvalidRequest)
	}
	if input.DueDate.IsZero() {
		return fmt.Errorf("%w: due_date is required", ErrInvalidRequest)
	}
	return nil
}

func ValidateAnnouncement(input *CreateAnnouncementInput) error {
	input.Title = strings.TrimSpace(input.Title)
	input.Body = strings.TrimSpace(input.Body)
	if input.Title == "" || input.Body == "" {
		return fmt.Errorf("%w: title and body are required", ErrInvalidRequest)
	}
	if input.StartsAt.IsZero() {
		return fmt.Errorf("%w: starts_at is required", ErrInvalidRequest)
	}
	if input.EndsAt != nil && input.EndsAt.Before(input.StartsAt) {
		return fmt.Errorf("%w: ends_at is before starts_at", ErrInvalidRequest)
	}
	return nil
}

// CanSeeCredit lets credit agents work their own portfolio while admins and
// management see every credit.
func CanSeeCredit(actor identity.Identity, agentID string) bool {
	if actor.HasAnyRole(identity.RoleAdmin, identity.RoleManagement) {
		return true
	}
	return actor.HasRole(identity.RoleCreditAgent) && actor.UserID == agentID
}
