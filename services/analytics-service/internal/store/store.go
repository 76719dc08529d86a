package store

import (
	"context"
	"time"
)

type RequestKPIs struct {
	Total            int            `json:"total"`
	ByStatus         map[string]int `json:"by_status"`
	ByType           map[string]int `json:"by_type"`
	AvgDecisionHours float64        `json:"avg_decision_hours"`
}

type MovementKPIs struct {
	Created   int `json:"created"`
	Confirmed int `json:"confirmed"`
	Pending   int `json:"pending"`
}

type CreditKPIs struct {
	Active           int   `json:"active"`
	Overdue          int   `json:"overdue"`
	OutstandingCents int64 `json:"outstanding_cents"`
	CollectedCents   int64 `json:"collected_cents"`
}

// KPIResult covers activity created in [From, To]; credit balances are
// current.
type KPIResult struct {
	From      time.Time    `json:"from"`
	To        time.Time    `json:"to"`
	Requests  RequestKPIs  `json:"requests"`
	Movements MovementKPIs `json:"movements"`
	Credits   CreditKPIs   `json:"credits"`
}

type RequestRow struct {
	RequestID     string
	Type          string
	RequesterName string
	StartDate     time.Time
	EndDate       time.Time
	Status        string
	OpenLevel     string
	Archived      bool
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// StalledRequest is a pending request whose open level has not moved since
// WaitingSince.
type StalledRequest struct {
	RequestID     string    `json:"request_id"`
	Type          string    `json:"type"`
	RequesterName string    `json:"requester_name"`
	OpenLevel     string    `json:"open_level"`
	WaitingSince  time.Time `json:"waiting_since"`
	WaitingHours  float64   `json:"waiting_hours"`
}

type Store interface {
	GetKPIs(ctx context.Context, from, to time.Time) (KPIResult, error)
	ListRequests(ctx context.Context, from, to time.Time) ([]RequestRow, error)
	ListStalled(ctx context.Context, waitingBefore time.Time) ([]StalledRequest, error)
}
