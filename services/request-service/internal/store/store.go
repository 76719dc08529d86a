package store

import (
	"context"
	"time"

	"urclec/internal/identity"
	"urclec/internal/workflow"
	"urclec/services/request-service/internal/models"
)

type Scope string

const (
	ScopeMine Scope = "mine"
	ScopeTeam Scope = "team"
	ScopeAll  Scope = "all"
)

type CreateRequestInput struct {
	RequestID     string
	Actor         identity.Identity
	Type          models.RequestType
	StartDate     models.Date
	EndDate       models.Date
	Reason        string
	DayCount      *int
	Duration      string
	Justification string
	CreatedAt     time.Time
}

type DecisionInput struct {
	RequestID  string
	EntityID   string
	Actor      identity.Identity
	Outcome    workflow.Outcome
	Comment    string
	OccurredAt time.Time
}

type ArchiveInput struct {
	RequestID string
	EntityID  string
	Actor     identity.Identity
}

type ListFilter struct {
	Actor           identity.Identity
	Scope           Scope
	Type            models.RequestType
	Status          workflow.Outcome
	IncludeArchived bool
	Page            int
	PageSize        int
}

type RequestStore interface {
	CreateRequest(ctx context.Context, input CreateRequestInput) (models.Request, bool, error)
	GetRequest(ctx context.Context, requestID string, actor identity.Identity) (models.Request, error)
	ListRequests(ctx context.Context, filter ListFilter) ([]models.Request, int, error)
	RecordDecision(ctx context.Context, input DecisionInput) (models.Request, bool, error)
	ArchiveRequest(ctx context.Context, input ArchiveInput) (models.Request, bool, error)
	Stats(ctx context.Context, actor identity.Identity) (models.Stats, error)
}
