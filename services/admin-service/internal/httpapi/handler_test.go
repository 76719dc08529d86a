package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"urclec/internal/identity"
	"urclec/internal/platform/httpx"
	"urclec/services/admin-service/internal/models"
	"urclec/services/admin-service/internal/store"
)

const (
	testRequestID = "11111111-1111-1111-1111-111111111111"
	testEntityID  = "22222222-2222-2222-2222-222222222222"
)

type fakeStore struct {
	store.Store
	createUserFn   func(ctx context.Context, input store.CreateUserInput) (models.User, error)
	updateUserFn   func(ctx context.Context, input store.UpdateUserInput) (models.User, error)
	setActiveFn    func(ctx context.Context, userID string, active bool) (models.User, error)
	listUsersFn    func(ctx context.Context, filter store.UserFilter) ([]models.User, int, error)
	listAnnFn      func(ctx context.Context, includeHidden bool, now time.Time) ([]models.Announcement, error)
	publishFn      func(ctx context.Context, announcementID, actorID string) (models.Announcement, error)
	createCreditFn func(ctx context.Context, input store.CreateCreditInput) (models.Credit, error)
	listCreditsFn  func(ctx context.Context, filter store.CreditFilter) ([]models.Credit, int, error)
	getCreditFn    func(ctx context.Context, creditID string) (models.CreditDetail, error)
	creditActionFn func(ctx context.Context, input store.CreditActionInput) (models.CreditDetail, bool, error)
	audits         *[]models.AuditLog
}

func (f fakeStore) CreateUser(ctx context.Context, input store.CreateUserInput) (models.User, error) {
	return f.createUserFn(ctx, input)
}

func (f fakeStore) UpdateUser(ctx context.Context, input store.UpdateUserInput) (models.User, error) {
	return f.updateUserFn(ctx, input)
}

func (f fakeStore) SetUserActive(ctx context.Context, userID string, active bool) (models.User, error) {
	return f.setActiveFn(ctx, userID, active)
}

func (f fakeStore) ListUsers(ctx context.Context, filter store.UserFilter) ([]models.User, int, error) {
	return f.listUsersFn(ctx, filter)
}

func (f fakeStore) ListAnnouncements(ctx context.Context, includeHidden bool, now time.Time) ([]models.Announcement, error) {
	return f.listAnnFn(ctx, includeHidden, now)
}

func (f fakeStore) PublishAnnouncement(ctx context.Context, announcementID, actorID string) (models.Announcement, error) {
	return f.publishFn(ctx, announcementID, actorID)
}

func (f fakeStore) CreateCredit(ctx context.Context, input store.CreateCreditInput) (models.Credit, error) {
	return f.createCreditFn(ctx, input)
}

func (f fakeStore) ListCredits(ctx context.Context, filter store.CreditFilter) ([]models.Credit, int, error) {
	return f.listCreditsFn(ctx, filter)
}

func (f fakeStore) GetCredit(ctx context.Context, creditID string) (models.CreditDetail, error) {
	return f.getCreditFn(ctx, creditID)
}

func (f fakeStore) RecordCreditAction(ctx context.Context, input store.CreditActionInput) (models.CreditDetail, bool, error) {
	return f.creditActionFn(ctx, input)
}

func (f fakeStore) InsertAudit(ctx context.Context, entry models.AuditLog) error {
	if f.audits != nil {
		*f.audits = append(*f.audits, entry)
	}
	return nil
}

var (
	admin    = identity.Identity{UserID: "a-1", Roles: []identity.Role{identity.RoleAdmin}}
	hr       = identity.Identity{UserID: "h-1", Roles: []identity.Role{identity.RoleHR}}
	agent    = identity.Identity{UserID: "33333333-3333-3333-3333-333333333333", Roles: []identity.Role{identity.RoleCreditAgent}}
	employee = identity.Identity{UserID: "e-1", Roles: []identity.Role{identity.RoleEmployee}}
)

func serve(t *testing.T, h *Handler, actor identity.Identity, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body := bytes.NewReader(nil)
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	if !actor.IsZero() {
		req = req.WithContext(identity.WithIdentity(req.Context(), actor))
	}
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) httpx.ErrorResponse {
	t.Helper()
	var payload httpx.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return payload
}

func TestCreateUserRecordsAudit(t *testing.T) {
	var audits []models.AuditLog
	var got store.CreateUserInput
	st := fakeStore{
		audits: &audits,
		createUserFn: func(ctx context.Context, input store.CreateUserInput) (models.User, error) {
			got = input
			return models.User{UserID: testEntityID, Email: input.Email, RawRoles: input.Roles}, nil
		},
	}
	resp := serve(t, NewHandler(st, nil), admin, http.MethodPost, "/api/admin/users", map[string]interface{}{
		"email":     "jane@example.test",
		"full_name": "Jane",
		"password":  "longenough",
		"roles":     []string{"rh"},
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if got.Email != "jane@example.test" || len(got.Roles) != 1 || got.Roles[0] != "rh" {
		t.Fatalf("unexpected input: %+v", got)
	}
	if len(audits) != 1 || audits[0].Action != "user.create" || audits[0].ActorID != admin.UserID || audits[0].EntityID != testEntityID {
		t.Fatalf("unexpected audit entries: %+v", audits)
	}
}

func TestCreateUserErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"email taken", store.ErrEmailTaken, http.StatusConflict, "email_taken"},
		{"invalid", store.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
		{"unknown chef", store.ErrUnknownReference, http.StatusBadRequest, "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := fakeStore{createUserFn: func(ctx context.Context, input store.CreateUserInput) (models.User, error) {
				return models.User{}, tc.err
			}}
			resp := serve(t, NewHandler(st, nil), admin, http.MethodPost, "/api/admin/users", map[string]interface{}{
				"email": "jane@example.test", "full_name": "Jane", "password": "longenough",
			})
			if resp.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.Code)
			}
			if payload := decodeError(t, resp); payload.Error.Code != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, payload.Error.Code)
			}
		})
	}
}

func TestUserRoutesRequireAdmin(t *testing.T) {
	h := NewHandler(fakeStore{}, nil)
	if resp := serve(t, h, hr, http.MethodPost, "/api/admin/users", map[string]string{"email": "x"}); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for hr create, got %d", resp.Code)
	}
	if resp := serve(t, h, employee, http.MethodGet, "/api/admin/users", nil); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for employee list, got %d", resp.Code)
	}
	if resp := serve(t, h, identity.Identity{}, http.MethodGet, "/api/admin/roles", nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", resp.Code)
	}
}

func TestListUsersParsesRoleAlias(t *testing.T) {
	var got store.UserFilter
	st := fakeStore{listUsersFn: func(ctx context.Context, filter store.UserFilter) ([]models.User, int, error) {
		got = filter
		return []models.User{{UserID: testEntityID}}, 1, nil
	}}
	resp := serve(t, NewHandler(st, nil), hr, http.MethodGet, "/api/admin/users?role=Chef%20de%20service&q=jan&page=2", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if got.Role != identity.RoleSupervisor || got.Query != "jan" || got.Page != 2 {
		t.Fatalf("unexpected filter: %+v", got)
	}

	resp = serve(t, NewHandler(st, nil), hr, http.MethodGet, "/api/admin/users?role=pilot", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", resp.Code)
	}
}

func TestUpdateUserPassesOnlyProvidedFields(t *testing.T) {
	var got store.UpdateUserInput
	st := fakeStore{updateUserFn: func(ctx context.Context, input store.UpdateUserInput) (models.User, error) {
		got = input
		return models.User{UserID: input.UserID}, nil
	}}
	resp := serve(t, NewHandler(st, nil), admin, http.MethodPatch, "/api/admin/users/"+testEntityID, map[string]interface{}{
		"chef_id": "",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if got.UserID != testEntityID || got.ChefID == nil || *got.ChefID != "" || got.FullName != nil || got.Roles != nil {
		t.Fatalf("unexpected input: %+v", got)
	}
}

func TestDeactivateUser(t *testing.T) {
	var gotActive = true
	st := fakeStore{setActiveFn: func(ctx context.Context, userID string, active bool) (models.User, error) {
		gotActive = active
		return models.User{UserID: userID, Active: active}, nil
	}}
	h := NewHandler(st, nil)
	resp := serve(t, h, admin, http.MethodPost, "/api/admin/users/"+testEntityID+"/deactivate", nil)
	if resp.Code != http.StatusOK || gotActive {
		t.Fatalf("expected deactivation, got %d active=%v", resp.Code, gotActive)
	}

	self := identity.Identity{UserID: testEntityID, Roles: []identity.Role{identity.RoleAdmin}}
	resp = serve(t, h, self, http.MethodPost, "/api/admin/users/"+testEntityID+"/deactivate", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for self deactivation, got %d", resp.Code)
	}
}

func TestAnnouncementsListHiddenOnlyForAnnouncers(t *testing.T) {
	var hidden []bool
	st := fakeStore{listAnnFn: func(ctx context.Context, includeHidden bool, now time.Time) ([]models.Announcement, error) {
		hidden = append(hidden, includeHidden)
		return nil, nil
	}}
	h := NewHandler(st, nil)
	serve(t, h, employee, http.MethodGet, "/api/announcements?all=true", nil)
	serve(t, h, hr, http.MethodGet, "/api/announcements?all=true", nil)
	if len(hidden) != 2 || hidden[0] || !hidden[1] {
		t.Fatalf("unexpected includeHidden calls: %v", hidden)
	}
}

func TestPublishAnnouncement(t *testing.T) {
	var gotActor string
	st := fakeStore{publishFn: func(ctx context.Context, announcementID, actorID string) (models.Announcement, error) {
		gotActor = actorID
		return models.Announcement{AnnouncementID: announcementID, Published: true}, nil
	}}
	h := NewHandler(st, nil)
	resp := serve(t, h, hr, http.MethodPost, "/api/announcements/"+testEntityID+"/publish", nil)
	if resp.Code != http.StatusOK || gotActor != hr.UserID {
		t.Fatalf("expected publish by hr, got %d actor=%q", resp.Code, gotActor)
	}
	if resp := serve(t, h, employee, http.MethodPost, "/api/announcements/"+testEntityID+"/publish", nil); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for employee, got %d", resp.Code)
	}
}

func TestAgentCreditsAreScopedToSelf(t *testing.T) {
	var gotFilter store.CreditFilter
	var gotInput store.CreateCreditInput
	st := fakeStore{
		listCreditsFn: func(ctx context.Context, filter store.CreditFilter) ([]models.Credit, int, error) {
			gotFilter = filter
			return nil, 0, nil
		},
		createCreditFn: func(ctx context.Context, input store.CreateCreditInput) (models.Credit, error) {
			gotInput = input
			return models.Credit{CreditID: testEntityID, AgentID: input.AgentID}, nil
		},
	}
	h := NewHandler(st, nil)
	other := "44444444-4444-4444-4444-444444444444"
	if resp := serve(t, h, agent, http.MethodGet, "/api/credits?agent_id="+other, nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if gotFilter.AgentID != agent.UserID {
		t.Fatalf("expected agent filter %s, got %s", agent.UserID, gotFilter.AgentID)
	}

	resp := serve(t, h, agent, http.MethodPost, "/api/credits", map[string]interface{}{
		"borrower_name": "Client",
		"agent_id":      other,
		"amount_cents":  50000,
		"due_date":      "2026-12-01",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if gotInput.AgentID != agent.UserID || gotInput.DueDate.Format("2006-01-02") != "2026-12-01" {
		t.Fatalf("unexpected input: %+v", gotInput)
	}

	resp = serve(t, h, agent, http.MethodPost, "/api/credits", map[string]interface{}{
		"borrower_name": "Client", "amount_cents": 1, "due_date": "01/12/2026",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", resp.Code)
	}

	if resp := serve(t, h, employee, http.MethodGet, "/api/credits", nil); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for employee, got %d", resp.Code)
	}
}

func TestGetCreditHidesOtherAgents(t *testing.T) {
	st := fakeStore{getCreditFn: func(ctx context.Context, creditID string) (models.CreditDetail, error) {
		return models.CreditDetail{Credit: models.Credit{CreditID: creditID, AgentID: "someone-else"}}, nil
	}}
	resp := serve(t, NewHandler(st, nil), agent, http.MethodGet, "/api/credits/"+testEntityID, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestCreditActionErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"overpayment", models.ErrOverpayment, http.StatusConflict, "overpayment"},
		{"closed", models.ErrCreditClosed, http.StatusConflict, "credit_closed"},
		{"promise date", models.ErrPromiseDate, http.StatusBadRequest, "invalid_request"},
		{"reused request id", store.ErrIdempotencyConflict, http.StatusConflict, "idempotency_conflict"},
		{"not mine", store.ErrAccessDenied, http.StatusForbidden, "access_denied"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := fakeStore{creditActionFn: func(ctx context.Context, input store.CreditActionInput) (models.CreditDetail, bool, error) {
				return models.CreditDetail{}, false, tc.err
			}}
			resp := serve(t, NewHandler(st, nil), agent, http.MethodPost, "/api/credits/"+testEntityID+"/actions", map[string]interface{}{
				"request_id": testRequestID, "kind": "payment", "amount_cents": 100,
			})
			if resp.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.Code)
			}
			if payload := decodeError(t, resp); payload.Error.Code != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, payload.Error.Code)
			}
		})
	}
}

func TestCreditActionReplayDoesNotAudit(t *testing.T) {
	var audits []models.AuditLog
	var got store.CreditActionInput
	created := true
	st := fakeStore{
		audits: &audits,
		creditActionFn: func(ctx context.Context, input store.CreditActionInput) (models.CreditDetail, bool, error) {
			got = input
			return models.CreditDetail{Credit: models.Credit{CreditID: input.CreditID, BalanceCents: 900}}, created, nil
		},
	}
	h := NewHandler(st, nil)
	body := map[string]interface{}{
		"request_id":   testRequestID,
		"kind":         "promise",
		"promised_for": "2026-11-02",
	}
	if resp := serve(t, h, agent, http.MethodPost, "/api/credits/"+testEntityID+"/actions", body); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if got.PromisedFor == nil || got.PromisedFor.Format("2006-01-02") != "2026-11-02" || got.Actor.UserID != agent.UserID {
		t.Fatalf("unexpected input: %+v", got)
	}
	created = false
	if resp := serve(t, h, agent, http.MethodPost, "/api/credits/"+testEntityID+"/actions", body); resp.Code != http.StatusOK {
		t.Fatalf("expected replay 200, got %d", resp.Code)
	}
	if len(audits) != 1 || audits[0].Action != "credit.promise" {
		t.Fatalf("expected a single audit entry, got %+v", audits)
	}

	resp := serve(t, h, agent, http.MethodPost, "/api/credits/"+testEntityID+"/actions", map[string]interface{}{"kind": "call"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without request_id, got %d", resp.Code)
	}
}
