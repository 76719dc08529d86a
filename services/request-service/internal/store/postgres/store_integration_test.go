package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"urclec/internal/identity"
	"urclec/internal/platform/dbx/dbxtest"
	"urclec/internal/workflow"
	"urclec/services/request-service/internal/models"
	"urclec/services/request-service/internal/store"
)

type chain struct {
	requester identity.Identity
	chef      identity.Identity
	hr        identity.Identity
	hr2       identity.Identity
	director  identity.Identity
}

func seedChain(t *testing.T, pool *pgxpool.Pool) chain {
	t.Helper()
	chefID := dbxtest.SeedUser(t, pool, "", "CHEF")
	requesterID := dbxtest.SeedUser(t, pool, chefID, "employe")
	return chain{
		requester: identity.Identity{UserID: requesterID, ChefID: chefID, Roles: []identity.Role{identity.RoleEmployee}},
		chef:      identity.Identity{UserID: chefID, Roles: []identity.Role{identity.RoleSupervisor}},
		hr:        identity.Identity{UserID: dbxtest.SeedUser(t, pool, "", "RH"), Roles: []identity.Role{identity.RoleHR}},
		hr2:       identity.Identity{UserID: dbxtest.SeedUser(t, pool, "", "hr"), Roles: []identity.Role{identity.RoleHR}},
		director:  identity.Identity{UserID: dbxtest.SeedUser(t, pool, "", "DG"), Roles: []identity.Role{identity.RoleManagement}},
	}
}

func createLeave(t *testing.T, ctx context.Context, st *Store, actor identity.Identity, requestID string) models.Request {
	t.Helper()
	days := 2
	start, _ := models.ParseDate("2024-05-02")
	end, _ := models.ParseDate("2024-05-03")
	request, _, err := st.CreateRequest(ctx, store.CreateRequestInput{
		RequestID: requestID,
		Actor:     actor,
		Type:      models.TypeLeave,
		StartDate: start,
		EndDate:   end,
		Reason:    "family",
		DayCount:  &days,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return request
}

func decide(ctx context.Context, st *Store, actor identity.Identity, requestID string, outcome workflow.Outcome) (models.Request, bool, error) {
	return st.RecordDecision(ctx, store.DecisionInput{
		RequestID: uuid.NewString(),
		EntityID:  requestID,
		Actor:     actor,
		Outcome:   outcome,
	})
}

func countEvents(t *testing.T, ctx context.Context, pool *pgxpool.Pool, eventType string) int {
	t.Helper()
	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_events WHERE type = $1`, eventType).Scan(&count); err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	return count
}

func TestCreateRequestIdempotency(t *testing.T) {
	ctx := context.Background()
	pool := dbxtest.Pool(t)
	st := NewStore(pool)
	c := seedChain(t, pool)

	requestID := uuid.NewString()
	first := createLeave(t, ctx, st, c.requester, requestID)
	second := createLeave(t, ctx, st, c.requester, requestID)
	if first.ID != second.ID {
		t.Fatalf("expected same request for duplicate request_id")
	}
	if first.Status != workflow.OutcomePending || first.OpenLevel != workflow.LevelSupervisor {
		t.Fatalf("unexpected initial state %s/%s", first.Status, first.OpenLevel)
	}
	if got := countEvents(t, ctx, pool, "request.created"); got != 1 {
		t.Fatalf("expected 1 request.created event, got %d", got)
	}

	_, _, err := st.RecordDecision(ctx, store.DecisionInput{
		RequestID: requestID,
		EntityID:  first.ID,
		Actor:     c.chef,
		Outcome:   workflow.OutcomeApproved,
	})
	if !errors.Is(err, store.ErrIdempotencyConflict) {
		t.Fatalf("expected idempotency conflict, got %v", err)
	}
}

func TestRecordDecisionFullChain(t *testing.T) {
	ctx := context.Background()
	pool := dbxtest.Pool(t)
	st := NewStore(pool)
	c := seedChain(t, pool)
	request := createLeave(t, ctx, st, c.requester, uuid.NewString())

	if _, _, err := decide(ctx, st, c.hr, request.ID, workflow.OutcomeApproved); !errors.Is(err, workflow.ErrNotEligible) {
		t.Fatalf("expected hr to wait for the chef, got %v", err)
	}

	steps := []struct {
		actor identity.Identity
		open  workflow.Level
	}{
		{c.chef, workflow.LevelHR},
		{c.hr, workflow.LevelManagement},
		{c.director, ""},
	}
	for _, step := range steps {
		updated, created, err := decide(ctx, st, step.actor, request.ID, workflow.OutcomeApproved)
		if err != nil || !created {
			t.Fatalf("decide as %s: %v", step.actor.UserID, err)
		}
		if updated.OpenLevel != step.open {
			t.Fatalf("expected open level %q, got %q", step.open, updated.OpenLevel)
		}
	}

	var status string
	if err := pool.QueryRow(ctx, `SELECT status FROM requests WHERE request_id = $1`, request.ID).Scan(&status); err != nil {
		t.Fatalf("load status: %v", err)
	}
	if status != string(workflow.OutcomeApproved) {
		t.Fatalf("expected stored status approved, got %s", status)
	}
	if _, _, err := decide(ctx, st, c.hr2, request.ID, workflow.OutcomeRejected); !errors.Is(err, workflow.ErrRequestClosed) {
		t.Fatalf("expected request closed, got %v", err)
	}
	if got := countEvents(t, ctx, pool, "request.decided"); got != 3 {
		t.Fatalf("expected 3 request.decided events, got %d", got)
	}
}

func TestRecordDecisionConcurrentChefSubmissions(t *testing.T) {
	ctx := context.Background()
	pool := dbxtest.Pool(t)
	st := NewStore(pool)
	c := seedChain(t, pool)
	request := createLeave(t, ctx, st, c.requester, uuid.NewString())

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := decide(ctx, st, c.chef, request.ID, workflow.OutcomeApproved)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, already int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, workflow.ErrAlreadyDecided):
			already++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || already != 1 {
		t.Fatalf("expected one success and one already_decided, got %d/%d", succeeded, already)
	}

	loaded, err := st.GetRequest(ctx, request.ID, c.requester)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if len(loaded.Decisions) != 1 {
		t.Fatalf("expected a single decision, got %d", len(loaded.Decisions))
	}
}

func TestListRequestsScopes(t *testing.T) {
	ctx := context.Background()
	pool := dbxtest.Pool(t)
	st := NewStore(pool)
	c := seedChain(t, pool)
	createLeave(t, ctx, st, c.requester, uuid.NewString())
	archived := createLeave(t, ctx, st, c.requester, uuid.NewString())
	if _, _, err := st.ArchiveRequest(ctx, store.ArchiveInput{RequestID: uuid.NewString(), EntityID: archived.ID, Actor: c.requester}); err != nil {
		t.Fatalf("archive: %v", err)
	}

	team, total, err := st.ListRequests(ctx, store.ListFilter{Actor: c.chef, Scope: store.ScopeTeam, Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list team: %v", err)
	}
	if total != 1 || len(team) != 1 || !team[0].CanDecide {
		t.Fatalf("expected one decidable team request, got total=%d items=%d", total, len(team))
	}

	mine, total, err := st.ListRequests(ctx, store.ListFilter{Actor: c.requester, Scope: store.ScopeMine, IncludeArchived: true, Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list mine: %v", err)
	}
	if total != 2 || len(mine) != 2 {
		t.Fatalf("expected 2 own requests, got %d", total)
	}

	stats, err := st.Stats(ctx, c.chef)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.AwaitingMe != 1 || stats.ByOpenLevel[workflow.LevelSupervisor] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if _, err := st.GetRequest(ctx, archived.ID, c.hr2); err != nil {
		t.Fatalf("hr should read any request: %v", err)
	}
	outsider := identity.Identity{UserID: dbxtest.SeedUser(t, pool, ""), Roles: []identity.Role{identity.RoleEmployee}}
	if _, err := st.GetRequest(ctx, archived.ID, outsider); !errors.Is(err, store.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
}
