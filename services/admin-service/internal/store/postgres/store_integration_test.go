package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"urclec/internal/identity"
	"urclec/internal/platform/dbx/dbxtest"
	"urclec/services/admin-service/internal/models"
	"urclec/services/admin-service/internal/store"
)

func TestUserLifecycle(t *testing.T) {
	pool := dbxtest.Pool(t)
	ctx := context.Background()
	st := NewStore(pool)
	chefID := dbxtest.SeedUser(t, pool, "", "Chef")

	user, err := st.CreateUser(ctx, store.CreateUserInput{
		Email:    "Jane.Doe@Example.test",
		FullName: "Jane Doe",
		Password: "longenough",
		ChefID:   chefID,
		Roles:    []string{"Employé", "rh"},
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if user.Email != "jane.doe@example.test" || user.ChefID != chefID || !user.Active {
		t.Fatalf("unexpected user: %+v", user)
	}
	if len(user.RawRoles) != 2 || !(identity.Identity{Roles: user.Roles}).HasRole(identity.RoleHR) {
		t.Fatalf("unexpected roles: %+v", user.RawRoles)
	}

	_, err = st.CreateUser(ctx, store.CreateUserInput{Email: "jane.doe@example.test", FullName: "Copy", Password: "longenough"})
	if !errors.Is(err, store.ErrEmailTaken) {
		t.Fatalf("expected email taken, got %v", err)
	}
	_, err = st.CreateUser(ctx, store.CreateUserInput{Email: "ghost@example.test", FullName: "Ghost", Password: "longenough", ChefID: uuid.NewString()})
	if !errors.Is(err, store.ErrUnknownReference) {
		t.Fatalf("expected unknown reference, got %v", err)
	}

	hrUsers, total, err := st.ListUsers(ctx, store.UserFilter{Role: identity.RoleHR, Page: 1, PageSize: 20})
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if total != 1 || len(hrUsers) != 1 || hrUsers[0].UserID != user.UserID {
		t.Fatalf("expected only jane in hr, got %d %+v", total, hrUsers)
	}

	empty := ""
	roles := []string{"management"}
	updated, err := st.UpdateUser(ctx, store.UpdateUserInput{UserID: user.UserID, ChefID: &empty, Roles: &roles})
	if err != nil {
		t.Fatalf("update user: %v", err)
	}
	if updated.ChefID != "" || len(updated.Roles) != 1 || updated.Roles[0] != identity.RoleManagement {
		t.Fatalf("unexpected update: %+v", updated)
	}

	sessionID := uuid.NewString()
	if _, err := pool.Exec(ctx, `INSERT INTO sessions (session_id, user_id, expires_at) VALUES ($1, $2, $3)`,
		sessionID, user.UserID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	deactivated, err := st.SetUserActive(ctx, user.UserID, false)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if deactivated.Active {
		t.Fatalf("expected inactive user")
	}
	var revoked bool
	if err := pool.QueryRow(ctx, `SELECT revoked_at IS NOT NULL FROM sessions WHERE session_id = $1`, sessionID).Scan(&revoked); err != nil {
		t.Fatalf("load session: %v", err)
	}
	if !revoked {
		t.Fatalf("expected session to be revoked")
	}
	if _, err := st.SetUserActive(ctx, uuid.NewString(), true); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreditActions(t *testing.T) {
	pool := dbxtest.Pool(t)
	ctx := context.Background()
	st := NewStore(pool)
	agentID := dbxtest.SeedUser(t, pool, "", "agent_credit")
	otherID := dbxtest.SeedUser(t, pool, "", "credit_agent")
	agent := identity.Identity{UserID: agentID, Roles: []identity.Role{identity.RoleCreditAgent}}

	credit, err := st.CreateCredit(ctx, store.CreateCreditInput{
		BorrowerName: "Client",
		AgentID:      agentID,
		AmountCents:  10000,
		DueDate:      time.Now().AddDate(0, 0, -1),
	})
	if err != nil {
		t.Fatalf("create credit: %v", err)
	}
	if credit.BalanceCents != 10000 || credit.Status != models.CreditActive || !credit.Overdue {
		t.Fatalf("unexpected credit: %+v", credit)
	}

	pay := store.CreditActionInput{
		RequestID:   uuid.NewString(),
		Actor:       agent,
		CreditID:    credit.CreditID,
		Kind:        models.ActionPayment,
		AmountCents: 4000,
	}
	detail, created, err := st.RecordCreditAction(ctx, pay)
	if err != nil || !created {
		t.Fatalf("payment: created=%v err=%v", created, err)
	}
	if detail.BalanceCents != 6000 || len(detail.Actions) != 1 {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	detail, created, err = st.RecordCreditAction(ctx, pay)
	if err != nil || created || detail.BalanceCents != 6000 {
		t.Fatalf("replay: created=%v balance=%d err=%v", created, detail.BalanceCents, err)
	}

	reused := pay
	reused.Kind = models.ActionNote
	if _, _, err := st.RecordCreditAction(ctx, reused); !errors.Is(err, store.ErrIdempotencyConflict) {
		t.Fatalf("expected idempotency conflict, got %v", err)
	}

	over := pay
	over.RequestID = uuid.NewString()
	over.AmountCents = 7000
	if _, _, err := st.RecordCreditAction(ctx, over); !errors.Is(err, models.ErrOverpayment) {
		t.Fatalf("expected overpayment, got %v", err)
	}

	stranger := pay
	stranger.RequestID = uuid.NewString()
	stranger.Actor = identity.Identity{UserID: otherID, Roles: []identity.Role{identity.RoleCreditAgent}}
	if _, _, err := st.RecordCreditAction(ctx, stranger); !errors.Is(err, store.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}

	settle := pay
	settle.RequestID = uuid.NewString()
	settle.AmountCents = 6000
	detail, _, err = st.RecordCreditAction(ctx, settle)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if detail.Status != models.CreditSettled || detail.BalanceCents != 0 || detail.Overdue {
		t.Fatalf("expected settled credit, got %+v", detail.Credit)
	}

	call := store.CreditActionInput{RequestID: uuid.NewString(), Actor: agent, CreditID: credit.CreditID, Kind: models.ActionCall}
	if _, _, err := st.RecordCreditAction(ctx, call); !errors.Is(err, models.ErrCreditClosed) {
		t.Fatalf("expected closed credit, got %v", err)
	}

	mine, total, err := st.ListCredits(ctx, store.CreditFilter{AgentID: agentID, Page: 1, PageSize: 20})
	if err != nil || total != 1 || len(mine) != 1 {
		t.Fatalf("list credits: total=%d err=%v", total, err)
	}
}

func TestPublishAnnouncementWritesOneEvent(t *testing.T) {
	pool := dbxtest.Pool(t)
	ctx := context.Background()
	st := NewStore(pool)
	hrID := dbxtest.SeedUser(t, pool, "", "rh")

	a, err := st.CreateAnnouncement(ctx, store.CreateAnnouncementInput{
		Title:     "Town hall",
		Body:      "Friday at noon",
		StartsAt:  time.Now().Add(24 * time.Hour),
		CreatedBy: hrID,
	})
	if err != nil {
		t.Fatalf("create announcement: %v", err)
	}
	visible, err := st.ListAnnouncements(ctx, false, time.Now())
	if err != nil || len(visible) != 0 {
		t.Fatalf("draft should be hidden: %d %v", len(visible), err)
	}

	for i := 0; i < 2; i++ {
		published, err := st.PublishAnnouncement(ctx, a.AnnouncementID, hrID)
		if err != nil || !published.Published {
			t.Fatalf("publish #%d: %+v %v", i+1, published, err)
		}
	}
	var events int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM outbox_events WHERE type = 'announcement.published'`).Scan(&events); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected one event, got %d", events)
	}
	visible, err = st.ListAnnouncements(ctx, false, time.Now())
	if err != nil || len(visible) != 1 {
		t.Fatalf("expected published announcement to be listed: %d %v", len(visible), err)
	}
	if _, err := st.PublishAnnouncement(ctx, uuid.NewString(), hrID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
