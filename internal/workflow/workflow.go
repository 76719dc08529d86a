// Package workflow derives the approval state of a request from its flat
// decision history.
//
// Everything here is a pure function of the decision list and the actor passed
// in; nothing is cached or mutated, so deriving twice from the same list always
// yields the same answer.
package workflow

import (
	"errors"
	"time"

	"urclec/internal/identity"
)

type Level string

const (
	LevelSupervisor Level = "supervisor"
	LevelHR         Level = "hr"
	LevelManagement Level = "management"
)

// Levels is the approval chain in order.
var Levels = []Level{LevelSupervisor, LevelHR, LevelManagement}

func (l Level) Valid() bool {
	return l.Rank() > 0
}

// Rank is the 1-based position of the level in the chain, 0 when unknown.
func (l Level) Rank() int {
	for i, level := range Levels {
		if level == l {
			return i + 1
		}
	}
	return 0
}

type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomePending, OutcomeApproved, OutcomeRejected:
		return true
	default:
		return false
	}
}

func (o Outcome) Conclusive() bool {
	return o == OutcomeApproved || o == OutcomeRejected
}

var (
	ErrInvalidOutcome = errors.New("outcome must be approved or rejected")
	ErrRequestClosed  = errors.New("request has no open approval level")
	ErrAlreadyDecided = errors.New("actor already decided at their level")
	ErrNotEligible    = errors.New("actor may not decide at the open level")
)

type Decision struct {
	ID        string    `json:"decision_id"`
	RequestID string    `json:"request_id"`
	Level     Level     `json:"level"`
	Outcome   Outcome   `json:"outcome"`
	ActorID   string    `json:"actor_id"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Requester is the part of the requesting user the chain depends on.
type Requester struct {
	UserID string `json:"user_id"`
	ChefID string `json:"chef_id,omitempty"`
}

type Step struct {
	Level  Level   `json:"level"`
	Status Outcome `json:"status"`
}

// StatusForLevel aggregates every decision recorded at level.
// A single rejection wins; approval needs at least one decision and no
// non-approved one.
func StatusForLevel(level Level, decisions []Decision) Outcome {
	seen := false
	allApproved := true
	for _, d := range decisions {
		if d.Level != level {
			continue
		}
		seen = true
		switch d.Outcome {
		case OutcomeRejected:
			return OutcomeRejected
		case OutcomeApproved:
		default:
			allApproved = false
		}
	}
	if seen && allApproved {
		return OutcomeApproved
	}
	return OutcomePending
}

// VisibleWorkflow is the chain as far as it has progressed: the first level,
// then each following level only while its predecessor is approved.
func VisibleWorkflow(decisions []Decision) []Step {
	steps := make([]Step, 0, len(Levels))
	for _, level := range Levels {
		status := StatusForLevel(level, decisions)
		steps = append(steps, Step{Level: level, Status: status})
		if status != OutcomeApproved {
			break
		}
	}
	return steps
}

// OverallStatus is the request status implied by its decisions.
func OverallStatus(decisions []Decision) Outcome {
	steps := VisibleWorkflow(decisions)
	last := steps[len(steps)-1]
	switch {
	case last.Status == OutcomeRejected:
		return OutcomeRejected
	case last.Status == OutcomeApproved && len(steps) == len(Levels):
		return OutcomeApproved
	default:
		return OutcomePending
	}
}

// LatestDecision returns the most recent decision at level. On equal
// timestamps the one appearing later in the list wins.
func LatestDecision(level Level, decisions []Decision) (Decision, bool) {
	var latest Decision
	found := false
	for _, d := range decisions {
		if d.Level != level {
			continue
		}
		if !found || !d.CreatedAt.Before(latest.CreatedAt) {
			latest = d
			found = true
		}
	}
	return latest, found
}

// OpenLevel is the level currently waiting for a decision.
func OpenLevel(decisions []Decision) (Level, bool) {
	for i, level := range Levels {
		if StatusForLevel(level, decisions) == OutcomeRejected {
			return "", false
		}
		latest, ok := LatestDecision(level, decisions)
		if ok && latest.Outcome == OutcomeApproved {
			continue
		}
		if i > 0 && StatusForLevel(Levels[i-1], decisions) != OutcomeApproved {
			return "", false
		}
		return level, true
	}
	return "", false
}

// Authorized reports whether actor stands for level on this requester's
// requests: the requester's own chef for the first level, role membership
// for the others.
func Authorized(level Level, requester Requester, actor identity.Identity) bool {
	if actor.IsZero() {
		return false
	}
	switch level {
	case LevelSupervisor:
		return requester.ChefID != "" && actor.UserID == requester.ChefID
	case LevelHR:
		return actor.HasRole(identity.RoleHR)
	case LevelManagement:
		return actor.HasRole(identity.RoleManagement)
	default:
		return false
	}
}

// CanDecide reports whether actor may record a decision right now, and at
// which level. It is a display gate; the recorder re-checks with Authorize.
func CanDecide(requester Requester, decisions []Decision, actor identity.Identity) (Level, bool) {
	level, open := OpenLevel(decisions)
	if !open || !Authorized(level, requester, actor) {
		return "", false
	}
	return level, true
}

// Authorize validates a new decision by actor and returns the level it
// belongs to.
func Authorize(requester Requester, decisions []Decision, actor identity.Identity, outcome Outcome) (Level, error) {
	if !outcome.Conclusive() {
		return "", ErrInvalidOutcome
	}
	if level, ok := CanDecide(requester, decisions, actor); ok {
		return level, nil
	}
	for _, d := range decisions {
		if d.ActorID == actor.UserID && d.Outcome.Conclusive() && Authorized(d.Level, requester, actor) {
			return "", ErrAlreadyDecided
		}
	}
	if _, open := OpenLevel(decisions); !open {
		return "", ErrRequestClosed
	}
	return "", ErrNotEligible
}

// View bundles what a reader needs to render a request's chain.
type View struct {
	Status    Outcome `json:"status"`
	Workflow  []Step  `json:"workflow"`
	OpenLevel Level   `json:"open_level,omitempty"`
}

func Derive(decisions []Decision) View {
	view := View{
		Status:   OverallStatus(decisions),
		Workflow: VisibleWorkflow(decisions),
	}
	if level, ok := OpenLevel(decisions); ok {
		view.OpenLevel = level
	}
	return view
}
