package models

import (
	"errors"
	"testing"
	"time"
)

func TestApplyPayment(t *testing.T) {
	credit := Credit{Status: CreditActive, AmountCents: 10000, BalanceCents: 10000}

	next, err := credit.Apply(CreditAction{Kind: ActionPayment, AmountCents: 4000})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if next.BalanceCents != 6000 || next.Status != CreditActive {
		t.Fatalf("unexpected credit: %+v", next)
	}

	settled, err := next.Apply(CreditAction{Kind: ActionPayment, AmountCents: 6000})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if settled.BalanceCents != 0 || settled.Status != CreditSettled {
		t.Fatalf("expected settled credit, got %+v", settled)
	}

	if _, err := settled.Apply(CreditAction{Kind: ActionCall}); !errors.Is(err, ErrCreditClosed) {
		t.Fatalf("expected closed credit, got %v", err)
	}
}

func TestApplyRejectsBadActions(t *testing.T) {
	credit := Credit{Status: CreditActive, AmountCents: 1000, BalanceCents: 500}
	cases := []struct {
		name   string
		action CreditAction
		want   error
	}{
		{"overpayment", CreditAction{Kind: ActionPayment, AmountCents: 501}, ErrOverpayment},
		{"zero payment", CreditAction{Kind: ActionPayment}, ErrInvalidPayment},
		{"promise without date", CreditAction{Kind: ActionPromise}, ErrPromiseDate},
	}
	for _, tc := range cases {
		got, err := credit.Apply(tc.action)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		if got.BalanceCents != 500 {
			t.Fatalf("%s: balance must not move, got %d", tc.name, got.BalanceCents)
		}
	}
	if _, err := credit.Apply(CreditAction{Kind: "bribe"}); err == nil {
		t.Fatal("expected unknown kind to fail")
	}
}

func TestApplyNonPaymentKeepsBalance(t *testing.T) {
	promised := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	credit := Credit{Status: CreditActive, BalanceCents: 500}
	got, err := credit.Apply(CreditAction{Kind: ActionPromise, PromisedFor: &promised})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != credit {
		t.Fatalf("promise must not change the credit: %+v", got)
	}
}

func TestIsOverdue(t *testing.T) {
	due := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	credit := Credit{Status: CreditActive, DueDate: due}
	if credit.IsOverdue(due.Add(23 * time.Hour)) {
		t.Fatal("due day itself is not overdue")
	}
	if !credit.IsOverdue(due.AddDate(0, 0, 1)) {
		t.Fatal("day after due should be overdue")
	}
	credit.Status = CreditSettled
	if credit.IsOverdue(due.AddDate(0, 1, 0)) {
		t.Fatal("settled credits are never overdue")
	}
}

func TestAnnouncementVisible(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	ended := now.Add(-time.Hour)
	later := now.Add(time.Hour)
	cases := []struct {
		name string
		a    Announcement
		want bool
	}{
		{"draft", Announcement{StartsAt: now}, false},
		{"open ended", Announcement{Published: true, StartsAt: now.Add(-time.Hour)}, true},
		{"upcoming", Announcement{Published: true, StartsAt: later, EndsAt: &later}, true},
		{"ended", Announcement{Published: true, StartsAt: ended.Add(-time.Hour), EndsAt: &ended}, false},
	}
	for _, tc := range cases {
		if got := tc.a.Visible(now); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}
