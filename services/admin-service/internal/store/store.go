package store

import (
	"context"
	"time"

	"urclec/internal/identity"
	"urclec/services/admin-service/internal/models"
)

type CreateUserInput struct {
	Email          string
	FullName       string
	Password       string
	ChefID         string
	AgencyID       string
	ServicePointID string
	Roles          []string
}

// UpdateUserInput leaves nil fields untouched. An empty ChefID clears the
// supervisor.
type UpdateUserInput struct {
	UserID         string
	FullName       *string
	ChefID         *string
	AgencyID       *string
	ServicePointID *string
	Roles          *[]string
	Password       *string
}

type UserFilter struct {
	Role            identity.Role
	AgencyID        string
	Query           string
	IncludeInactive bool
	Page            int
	PageSize        int
}

type AuditFilter struct {
	Action     string
	ActorID    string
	EntityType string
	Page       int
	PageSize   int
}

type CreateAnnouncementInput struct {
	Title     string
	Body      string
	Location  string
	StartsAt  time.Time
	EndsAt    *time.Time
	CreatedBy string
}

type CreateCreditInput struct {
	BorrowerName  string
	BorrowerPhone string
	AgencyID      string
	AgentID       string
	AmountCents   int64
	DueDate       time.Time
}

type CreditFilter struct {
	AgentID     string
	Status      models.CreditStatus
	OverdueOnly bool
	Page        int
	PageSize    int
}

type CreditActionInput struct {
	RequestID   string
	Actor       identity.Identity
	CreditID    string
	Kind        models.ActionKind
	AmountCents int64
	PromisedFor *time.Time
	Note        string
}

type Store interface {
	CreateUser(ctx context.Context, input CreateUserInput) (models.User, error)
	UpdateUser(ctx context.Context, input UpdateUserInput) (models.User, error)
	SetUserActive(ctx context.Context, userID string, active bool) (models.User, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]models.User, int, error)
	ListRoles(ctx context.Context) ([]models.RoleInfo, error)

	CreateAgency(ctx context.Context, agency models.Agency) (models.Agency, error)
	ListAgencies(ctx context.Context) ([]models.Agency, error)
	CreateServicePoint(ctx context.Context, point models.ServicePoint) (models.ServicePoint, error)
	ListServicePoints(ctx context.Context, agencyID string) ([]models.ServicePoint, error)

	InsertAudit(ctx context.Context, entry models.AuditLog) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]models.AuditLog, int, error)

	CreateAnnouncement(ctx context.Context, input CreateAnnouncementInput) (models.Announcement, error)
	ListAnnouncements(ctx context.Context, includeHidden bool, now time.Time) ([]models.Announcement, error)
	PublishAnnouncement(ctx context.Context, announcementID, actorID string) (models.Announcement, error)

	CreateCredit(ctx context.Context, input CreateCreditInput) (models.Credit, error)
	ListCredits(ctx context.Context, filter CreditFilter) ([]models.Credit, int, error)
	GetCredit(ctx context.Context, creditID string) (models.CreditDetail, error)
	RecordCreditAction(ctx context.Context, input CreditActionInput) (models.CreditDetail, bool, error)
}
