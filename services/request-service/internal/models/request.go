package models

import (
	"fmt"
	"strings"
	"time"

	"urclec/internal/identity"
	"urclec/internal/workflow"
)

type RequestType string

const (
	TypeLeave      RequestType = "leave"
	TypePermission RequestType = "permission"
	TypeAbsence    RequestType = "absence"
)

func (t RequestType) Valid() bool {
	switch t {
	case TypeLeave, TypePermission, TypeAbsence:
		return true
	default:
		return false
	}
}

const dateLayout = "2006-01-02"

// Date is a calendar day, encoded as YYYY-MM-DD.
type Date struct {
	time.Time
}

func ParseDate(value string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return Date{}, fmt.Errorf("date %q must be YYYY-MM-DD", value)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	parsed, err := ParseDate(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

type Requester struct {
	UserID   string `json:"user_id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	ChefID   string `json:"chef_id,omitempty"`
}

type Request struct {
	ID             string              `json:"id"`
	Type           RequestType         `json:"type"`
	StartDate      Date                `json:"start_date"`
	EndDate        Date                `json:"end_date"`
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

// Derive recomputes the decision-dependent fields, including what actor may
// do, from Decisions alone.
func (r *Request) Derive(actor identity.Identity) {
	if r.Decisions == nil {
		r.Decisions = []workflow.Decision{}
	}
	view := workflow.Derive(r.Decisions)
	r.Status = view.Status
	r.OpenLevel = view.OpenLevel
	r.Workflow = view.Workflow
	r.CanDecide = false
	r.DecidableLevel = ""
	if r.Archived {
		return
	}
	if level, ok := workflow.CanDecide(r.WorkflowRequester(), r.Decisions, actor); ok {
		r.CanDecide = true
		r.DecidableLevel = level
	}
}

func (r Request) WorkflowRequester() workflow.Requester {
	return workflow.Requester{UserID: r.Requester.UserID, ChefID: r.Requester.ChefID}
}

// VisibleTo reports whether actor may read the request: its author, the
// author's chef, and the roles that approve or administer requests.
func (r Request) VisibleTo(actor identity.Identity) bool {
	if actor.IsZero() {
		return false
	}
	if actor.UserID == r.Requester.UserID || actor.UserID == r.Requester.ChefID {
		return true
	}
	return actor.HasAnyRole(identity.RoleHR, identity.RoleManagement, identity.RoleAdmin)
}

type Stats struct {
	ByStatus    map[workflow.Outcome]int `json:"by_status"`
	ByOpenLevel map[workflow.Level]int   `json:"by_open_level"`
	ByType      map[RequestType]int      `json:"by_type"`
	AwaitingMe  int                      `json:"awaiting_me"`
}
