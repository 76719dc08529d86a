package models

import (
	"errors"
	"fmt"
	"time"
)

type CreditStatus string

const (
	CreditActive    CreditStatus = "active"
	CreditSettled   CreditStatus = "settled"
	CreditDefaulted CreditStatus = "defaulted"
)

type ActionKind string

const (
	ActionCall    ActionKind = "call"
	ActionVisit   ActionKind = "visit"
	ActionPayment ActionKind = "payment"
	ActionPromise ActionKind = "promise"
	ActionNote    ActionKind = "note"
)

func (k ActionKind) Valid() bool {
	switch k {
	case ActionCall, ActionVisit, ActionPayment, ActionPromise, ActionNote:
		return true
	default:
		return false
	}
}

var (
	ErrCreditClosed   = errors.New("credit is no longer active")
	ErrOverpayment    = errors.New("payment exceeds the outstanding balance")
	ErrInvalidPayment = errors.New("payment amount must be positive")
	ErrPromiseDate    = errors.New("promise needs a promised_for date")
)

type Credit struct {
	CreditID      string       `json:"credit_id"`
	BorrowerName  string       `json:"borrower_name"`
	BorrowerPhone string       `json:"borrower_phone,omitempty"`
	AgencyID      string       `json:"agency_id,omitempty"`
	AgentID       string       `json:"agent_id"`
	AmountCents   int64        `json:"amount_cents"`
	BalanceCents  int64        `json:"balance_cents"`
	Status        CreditStatus `json:"status"`
	DueDate       time.Time    `json:"due_date"`
	Overdue       bool         `json:"overdue"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

type CreditAction struct {
	ActionID    string     `json:"action_id"`
	CreditID    string     `json:"credit_id"`
	AgentID     string     `json:"agent_id"`
	Kind        ActionKind `json:"kind"`
	AmountCents int64      `json:"amount_cents,omitempty"`
	PromisedFor *time.Time `json:"promised_for,omitempty"`
	Note        string     `json:"note,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type CreditDetail struct {
	Credit
	Actions []CreditAction `json:"actions"`
}

// IsOverdue is true for an active credit past its due day.
func (c Credit) IsOverdue(now time.Time) bool {
	if c.Status != CreditActive {
		return false
	}
	due := c.DueDate.AddDate(0, 0, 1)
	return !now.Before(due)
}

// Apply records the effect of an agent action on c. Only payments move the
// balance; a balance reaching zero settles the credit.
func (c Credit) Apply(action CreditAction) (Credit, error) {
	if !action.Kind.Valid() {
		return c, fmt.Errorf("unknown action kind %q", action.Kind)
	}
	if c.Status != CreditActive {
		return c, ErrCreditClosed
	}
	switch action.Kind {
	case ActionPayment:
		if action.AmountCents <= 0 {
			return c, ErrInvalidPayment
		}
		if action.AmountCents > c.BalanceCents {
			return c, ErrOverpayment
		}
		c.BalanceCents -= action.AmountCents
		if c.BalanceCents == 0 {
			c.Status = CreditSettled
		}
	case ActionPromise:
		if action.PromisedFor == nil {
			return c, ErrPromiseDate
		}
	}
	return c, nil
}
