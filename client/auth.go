package client

import (
	"context"
	"net/http"
	"strings"
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
}

// Identity is the subset the pure eligibility checks need.
func (u User) Identity() identity.Identity {
	return identity.Identity{UserID: u.UserID, Email: u.Email, FullName: u.FullName, ChefID: u.ChefID, Roles: u.Roles}
}

type Session struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        User      `json:"user"`
}

// Login opens a session and keeps its token for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return Session{}, &ValidationError{Message: "email and password are required"}
	}
	body := map[string]string{"email": email, "password": password}
	var session Session
	if err := c.do(ctx, http.MethodPost, c.endpoints.Auth, "/api/auth/login", nil, body, &session); err != nil {
		return Session{}, err
	}
	c.SetToken(session.AccessToken)
	c.user = &session.User
	return session, nil
}

func (c *Client) Me(ctx context.Context) (User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, c.endpoints.Auth, "/api/auth/me", nil, nil, &user); err != nil {
		return User{}, err
	}
	c.user = &user
	return user, nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, c.endpoints.Auth, "/api/auth/logout", nil, nil, nil); err != nil {
		return err
	}
	c.SetToken("")
	return nil
}
