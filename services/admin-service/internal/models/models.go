package models

import (
	"encoding/json"
	"time"

	"urclec/internal/identity"
)

type User struct {
	UserID         string          `json:"user_id"`
	Email          string          `json:"email"`
	FullName       string          `json:"full_name"`
	ChefID         string          `json:"chef_id,omitempty"`
	AgencyID       string          `json:"agency_id,omitempty"`
	ServicePointID string          `json:"service_point_id,omitempty"`
	Roles          []identity.Role `json:"roles"`
	RawRoles       []string        `json:"raw_roles,omitempty"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
}

type RoleInfo struct {
	Role  identity.Role `json:"role"`
	Label string        `json:"label"`
	Users int           `json:"users"`
}

type Agency struct {
	AgencyID  string    `json:"agency_id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	City      string    `json:"city,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ServicePoint struct {
	ServicePointID string    `json:"service_point_id"`
	AgencyID       string    `json:"agency_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

type AuditLog struct {
	AuditID    string          `json:"audit_id"`
	ActorID    string          `json:"actor_id,omitempty"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id,omitempty"`
	IP         string          `json:"ip,omitempty"`
	UserAgent  string          `json:"user_agent,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type Announcement struct {
	AnnouncementID string     `json:"announcement_id"`
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	Location       string     `json:"location,omitempty"`
	StartsAt       time.Time  `json:"starts_at"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
	Published      bool       `json:"published"`
	CreatedBy      string     `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Visible reports whether a published announcement is still current at now.
// Upcoming events count as current.
func (a Announcement) Visible(now time.Time) bool {
	if !a.Published {
		return false
	}
	return a.EndsAt == nil || !a.EndsAt.Before(now)
}
