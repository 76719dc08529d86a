package models

import (
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
	CreatedAt      time.Time       `json:"created_at"`
}

type Session struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
