// Package identity carries the authenticated actor through the services.
//
// Roles arrive from storage as free-form tags ("CHEF", "rh", "Direction Générale", ...).
// They are normalized once, at the data-access boundary, into the closed Role set below;
// everything past that boundary only deals with typed roles.
package identity

import (
	"context"
	"sort"
	"strings"
)

type Role string

const (
	RoleEmployee         Role = "employee"
	RoleSupervisor       Role = "supervisor"
	RoleHR               Role = "hr"
	RoleManagement       Role = "management"
	RoleEquipmentManager Role = "equipment_manager"
	RoleCreditAgent      Role = "credit_agent"
	RoleAdmin            Role = "admin"
)

var knownRoles = map[string]Role{
	"employee":            RoleEmployee,
	"employe":             RoleEmployee,
	"employé":             RoleEmployee,
	"agent":               RoleEmployee,
	"supervisor":          RoleSupervisor,
	"chef":                RoleSupervisor,
	"chef_de_service":     RoleSupervisor,
	"hr":                  RoleHR,
	"rh":                  RoleHR,
	"ressources_humaines": RoleHR,
	"management":          RoleManagement,
	"dg":                  RoleManagement,
	"direction":           RoleManagement,
	"direction_generale":  RoleManagement,
	"direction_générale":  RoleManagement,
	"equipment_manager":   RoleEquipmentManager,
	"gestionnaire":        RoleEquipmentManager,
	"credit_agent":        RoleCreditAgent,
	"agent_credit":        RoleCreditAgent,
	"admin":               RoleAdmin,
}

// ParseRole maps a stored role tag to a Role.
func ParseRole(raw string) (Role, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	role, ok := knownRoles[key]
	return role, ok
}

// Aliases lists every normalized tag that parses to role, sorted. Queries use
// it to match raw tags in SQL the same way ParseRole does.
func Aliases(role Role) []string {
	var out []string
	for tag, r := range knownRoles {
		if r == role {
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out
}

// NormalizeRoles drops unknown tags and duplicates, keeping first-seen order.
func NormalizeRoles(raw []string) []Role {
	seen := make(map[Role]struct{}, len(raw))
	roles := make([]Role, 0, len(raw))
	for _, tag := range raw {
		role, ok := ParseRole(tag)
		if !ok {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}
	return roles
}

type Identity struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Email     string `json:"email,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	ChefID    string `json:"chef_id,omitempty"`
	Roles     []Role `json:"roles"`
}

func (i Identity) HasRole(role Role) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (i Identity) HasAnyRole(roles ...Role) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

func (i Identity) IsZero() bool {
	return i.UserID == ""
}

type contextKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	if !ok || id.IsZero() {
		return Identity{}, false
	}
	return id, true
}
