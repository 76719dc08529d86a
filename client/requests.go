package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"urclec/internal/identity"
	"urclec/internal/workflow"
)

type RequestType string

const (
	TypeLeave      RequestType = "leave"
	TypePermission RequestType = "permission"
	TypeAbsence    RequestType = "absence"
)

type Requester struct {
	UserID   string `json:"user_id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	ChefID   string `json:"chef_id,omitempty"`
}

// Request mirrors the request-service representation. Dates stay in their
// YYYY-MM-DD wire form.
type Request struct {
	ID             string              `json:"id"`
	Type           RequestType         `json:"type"`
	StartDate      string              `json:"start_date"`
	EndDate        string              `json:"end_date"`
	Reason         string              `json:"reason"`
	DayCount       *int                `json:"day_count,omitempty"`
	Duration       string              `json:"duration,omitempty"`
	Justification  string              `json:"justification,omitempty"`
	Status         workflow.Outcome    `json:"status"`
	OpenLevel      workflow.Level      `json:"open_level,omitempty"`
	Archived       bool                `json:"archived"`
	CreatedAt      time.Time           `json:"created_at"`
	Requester      Requester           `json:"requester"`
	Decisions      []workflow.Decision `json:"decisions"`
	Workflow       []workflow.Step     `json:"workflow"`
	CanDecide      bool                `json:"can_decide"`
	DecidableLevel workflow.Level      `json:"decidable_level,omitempty"`
}

// Eligibility recomputes from the decision list whether actor may decide.
// It only gates controls; the service re-validates every decision.
func (r Request) Eligibility(actor identity.Identity) (workflow.Level, bool) {
	if r.Archived {
		return "", false
	}
	return workflow.CanDecide(workflow.Requester{UserID: r.Requester.UserID, ChefID: r.Requester.ChefID}, r.Decisions, actor)
}

type NewRequest struct {
	RequestID     string      `json:"request_id"`
	Type          RequestType `json:"type"`
	StartDate     string      `json:"start_date"`
	EndDate       string      `json:"end_date"`
	Reason        string      `json:"reason"`
	DayCount      *int        `json:"day_count,omitempty"`
	Duration      string      `json:"duration,omitempty"`
	Justification string      `json:"justification,omitempty"`
}

// Validate mirrors the service's create checks so obviously bad input never
// leaves the process.
func (n NewRequest) Validate() error {
	start, err := time.Parse("2006-01-02", n.StartDate)
	if err != nil {
		return &ValidationError{Field: "start_date", Message: "must be YYYY-MM-DD"}
	}
	end, err := time.Parse("2006-01-02", n.EndDate)
	if err != nil {
		return &ValidationError{Field: "end_date", Message: "must be YYYY-MM-DD"}
	}
	if end.Before(start) {
		return &ValidationError{Field: "end_date", Message: "must not be before start_date"}
	}
	switch n.Type {
	case TypeLeave:
		if n.DayCount == nil || *n.DayCount <= 0 {
			return &ValidationError{Field: "day_count", Message: "must be positive for leave"}
		}
	case TypePermission:
		if strings.TrimSpace(n.Duration) == "" {
			return &ValidationError{Field: "duration", Message: "is required for permission"}
		}
	case TypeAbsence:
		if strings.TrimSpace(n.Justification) == "" {
			return &ValidationError{Field: "justification", Message: "is required for absence"}
		}
	default:
		return &ValidationError{Field: "type", Message: "must be leave, permission or absence"}
	}
	return nil
}

type RequestFilter struct {
	Type            RequestType
	Status          workflow.Outcome
	Scope           string
	IncludeArchived bool
	Page            int
	PageSize        int
}

func (f RequestFilter) values() url.Values {
	query := url.Values{}
	if f.Type != "" {
		query.Set("type", string(f.Type))
	}
	if f.Status != "" {
		query.Set("status", string(f.Status))
	}
	if f.Scope != "" {
		query.Set("scope", f.Scope)
	}
	if f.IncludeArchived {
		query.Set("include_archived", "true")
	}
	if f.Page > 0 {
		query.Set("page", strconv.Itoa(f.Page))
	}
	if f.PageSize > 0 {
		query.Set("page_size", strconv.Itoa(f.PageSize))
	}
	return query
}

func newRequestID() string {
	return uuid.NewString()
}

func (c *Client) ListRequests(ctx context.Context, filter RequestFilter) (Page[Request], error) {
	var page Page[Request]
	err := c.do(ctx, http.MethodGet, c.endpoints.Requests, "/api/requests", filter.values(), nil, &page)
	return page, err
}

func (c *Client) GetRequest(ctx context.Context, id string) (Request, error) {
	if !validID(id) {
		return Request{}, &ValidationError{Field: "id", Message: "must be a UUID"}
	}
	var request Request
	err := c.do(ctx, http.MethodGet, c.endpoints.Requests, "/api/requests/"+id, nil, nil, &request)
	return request, err
}

// CreateRequest fills RequestID when empty. When the signed-in user is
// known, a user without a supervisor is refused before any call.
func (c *Client) CreateRequest(ctx context.Context, input NewRequest) (Request, error) {
	if err := input.Validate(); err != nil {
		return Request{}, err
	}
	if c.user != nil && c.user.ChefID == "" {
		return Request{}, &ValidationError{Field: "chef_id", Message: "no supervisor assigned"}
	}
	if input.RequestID == "" {
		input.RequestID = c.newID()
	}
	var request Request
	err := c.do(ctx, http.MethodPost, c.endpoints.Requests, "/api/requests", nil, input, &request)
	return request, err
}

// SubmitDecision records a conclusive decision for the caller. It is sent
// once with a fresh idempotency key and never retried.
func (c *Client) SubmitDecision(ctx context.Context, id string, outcome workflow.Outcome, comment string) (Request, error) {
	if !validID(id) {
		return Request{}, &ValidationError{Field: "id", Message: "must be a UUID"}
	}
	if !outcome.Conclusive() {
		return Request{}, &ValidationError{Field: "outcome", Message: "must be approved or rejected"}
	}
	body := map[string]string{"request_id": c.newID(), "outcome": string(outcome), "comment": comment}
	var request Request
	err := c.do(ctx, http.MethodPost, c.endpoints.Requests, "/api/requests/"+id+"/decisions", nil, body, &request)
	return request, err
}

func (c *Client) ArchiveRequest(ctx context.Context, id string) (Request, error) {
	if !validID(id) {
		return Request{}, &ValidationError{Field: "id", Message: "must be a UUID"}
	}
	var request Request
	err := c.do(ctx, http.MethodPost, c.endpoints.Requests, "/api/requests/"+id+"/archive", nil, map[string]string{"request_id": c.newID()}, &request)
	return request, err
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
