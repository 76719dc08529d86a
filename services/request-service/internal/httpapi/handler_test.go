package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"urclec/internal/identity"
	"urclec/internal/platform/httpx"
	"urclec/internal/workflow"
	"urclec/services/request-service/internal/models"
	"urclec/services/request-service/internal/store"
)

const (
	testRequestID = "11111111-1111-1111-1111-111111111111"
	testEntityID  = "22222222-2222-2222-2222-222222222222"
)

type fakeStore struct {
	createFn  func(ctx context.Context, input store.CreateRequestInput) (models.Request, bool, error)
	getFn     func(ctx context.Context, requestID string, actor identity.Identity) (models.Request, error)
	listFn    func(ctx context.Context, filter store.ListFilter) ([]models.Request, int, error)
	decideFn  func(ctx context.Context, input store.DecisionInput) (models.Request, bool, error)
	archiveFn func(ctx context.Context, input store.ArchiveInput) (models.Request, bool, error)
	statsFn   func(ctx context.Context, actor identity.Identity) (models.Stats, error)
}

func (f fakeStore) CreateRequest(ctx context.Context, input store.CreateRequestInput) (models.Request, bool, error) {
	if f.createFn == nil {
		return models.Request{}, false, nil
	}
	return f.createFn(ctx, input)
}

func (f fakeStore) GetRequest(ctx context.Context, requestID string, actor identity.Identity) (models.Request, error) {
	if f.getFn == nil {
		return models.Request{}, store.ErrRequestNotFound
	}
	return f.getFn(ctx, requestID, actor)
}

func (f fakeStore) ListRequests(ctx context.Context, filter store.ListFilter) ([]models.Request, int, error) {
	if f.listFn == nil {
		return nil, 0, nil
	}
	return f.listFn(ctx, filter)
}

func (f fakeStore) RecordDecision(ctx context.Context, input store.DecisionInput) (models.Request, bool, error) {
	if f.decideFn == nil {
		return models.Request{}, false, nil
	}
	return f.decideFn(ctx, input)
}

func (f fakeStore) ArchiveRequest(ctx context.Context, input store.ArchiveInput) (models.Request, bool, error) {
	if f.archiveFn == nil {
		return models.Request{}, false, nil
	}
	return f.archiveFn(ctx, input)
}

func (f fakeStore) Stats(ctx context.Context, actor identity.Identity) (models.Stats, error) {
	if f.statsFn == nil {
		return models.Stats{}, nil
	}
	return f.statsFn(ctx, actor)
}

var chef = identity.Identity{UserID: "c-1", Roles: []identity.Role{identity.RoleSupervisor}}

func serve(t *testing.T, h *Handler, actor identity.Identity, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
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

func TestCreateRequestSuccess(t *testing.T) {
	var got store.CreateRequestInput
	st := fakeStore{
		createFn: func(ctx context.Context, input store.CreateRequestInput) (models.Request, bool, error) {
			got = input
			return models.Request{ID: testEntityID, Type: input.Type, Status: workflow.OutcomePending}, true, nil
		},
	}
	employee := identity.Identity{UserID: "u-1", ChefID: "c-1"}
	resp := serve(t, NewHandler(st, nil), employee, http.MethodPost, "/api/requests", map[string]interface{}{
		"request_id": testRequestID,
		"type":       "leave",
		"start_date": "2024-04-01",
		"end_date":   "2024-04-03",
		"day_count":  3,
	})

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.Code)
	}
	if got.Actor.UserID != "u-1" || got.StartDate.String() != "2024-04-01" || got.DayCount == nil || *got.DayCount != 3 {
		t.Fatalf("unexpected store input: %+v", got)
	}
	var request models.Request
	if err := json.NewDecoder(resp.Body).Decode(&request); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if request.ID != testEntityID {
		t.Fatalf("unexpected request: %+v", request)
	}
}

func TestCreateRequestRejectsBadPayloads(t *testing.T) {
	h := NewHandler(fakeStore{
		createFn: func(ctx context.Context, input store.CreateRequestInput) (models.Request, bool, error) {
			return models.Request{}, false, store.ValidateCreate(input)
		},
	}, nil)
	employee := identity.Identity{UserID: "u-1", ChefID: "c-1"}

	cases := []struct {
		name    string
		payload map[string]interface{}
		code    string
	}{
		{"bad request id", map[string]interface{}{"request_id": "nope", "type": "leave"}, "invalid_request"},
		{"unknown field", map[string]interface{}{"request_id": testRequestID, "colour": "red"}, "invalid_json"},
		{"bad date", map[string]interface{}{"request_id": testRequestID, "start_date": "01/04/2024"}, "invalid_json"},
		{"missing justification", map[string]interface{}{"request_id": testRequestID, "type": "absence", "start_date": "2024-04-01", "end_date": "2024-04-01"}, "invalid_request"},
	}
	for _, tc := range cases {
		resp := serve(t, h, employee, http.MethodPost, "/api/requests", tc.payload)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, resp.Code)
		}
		if payload := decodeError(t, resp); payload.Error.Code != tc.code {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.code, payload.Error.Code)
		}
	}

	orphan := identity.Identity{UserID: "u-2"}
	resp := serve(t, h, orphan, http.MethodPost, "/api/requests", map[string]interface{}{
		"request_id": testRequestID,
		"type":       "leave",
		"start_date": "2024-04-01",
		"end_date":   "2024-04-03",
		"day_count":  3,
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("requester without supervisor: expected 400, got %d", resp.Code)
	}
	if payload := decodeError(t, resp); payload.Error.Code != "invalid_request" {
		t.Fatalf("requester without supervisor: expected invalid_request, got %s", payload.Error.Code)
	}
}

func TestRequestsRequireIdentity(t *testing.T) {
	resp := serve(t, NewHandler(fakeStore{}, nil), identity.Identity{}, http.MethodGet, "/api/requests", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestListRequestsFilters(t *testing.T) {
	var got store.ListFilter
	st := fakeStore{
		listFn: func(ctx context.Context, filter store.ListFilter) ([]models.Request, int, error) {
			got = filter
			return []models.Request{{ID: testEntityID}}, 41, nil
		},
	}
	resp := serve(t, NewHandler(st, nil), chef, http.MethodGet, "/api/requests?scope=team&type=absence&status=pending&page=3&page_size=20&include_archived=true", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if got.Scope != store.ScopeTeam || got.Type != models.TypeAbsence || got.Status != workflow.OutcomePending || !got.IncludeArchived || got.Page != 3 {
		t.Fatalf("unexpected filter: %+v", got)
	}
	var page httpx.Page[models.Request]
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 41 || len(page.Items) != 1 || page.PageSize != 20 {
		t.Fatalf("unexpected page: %+v", page)
	}

	resp = serve(t, NewHandler(st, nil), chef, http.MethodGet, "/api/requests?scope=all", nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for scope=all, got %d", resp.Code)
	}
	resp = serve(t, NewHandler(st, nil), chef, http.MethodGet, "/api/requests?status=done", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for unknown status, got %d", resp.Code)
	}
}

func TestGetRequest(t *testing.T) {
	st := fakeStore{
		getFn: func(ctx context.Context, requestID string, actor identity.Identity) (models.Request, error) {
			if actor.UserID != chef.UserID {
				return models.Request{}, store.ErrAccessDenied
			}
			return models.Request{ID: requestID, CanDecide: true, DecidableLevel: workflow.LevelSupervisor}, nil
		},
	}
	h := NewHandler(st, nil)

	resp := serve(t, h, chef, http.MethodGet, "/api/requests/"+testEntityID, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"can_decide":true`) {
		t.Fatalf("expected can_decide in body: %s", resp.Body.String())
	}

	resp = serve(t, h, identity.Identity{UserID: "x-1"}, http.MethodGet, "/api/requests/"+testEntityID, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}

	resp = serve(t, h, chef, http.MethodGet, "/api/requests/not-a-uuid", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestRecordDecisionSuccess(t *testing.T) {
	var got store.DecisionInput
	st := fakeStore{
		decideFn: func(ctx context.Context, input store.DecisionInput) (models.Request, bool, error) {
			got = input
			return models.Request{ID: input.EntityID, Status: workflow.OutcomePending, OpenLevel: workflow.LevelHR}, true, nil
		},
	}
	metrics := httpx.NewMetrics("request-service")
	resp := serve(t, NewHandler(st, metrics), chef, http.MethodPost, "/api/requests/"+testEntityID+"/decisions", map[string]string{
		"request_id": testRequestID,
		"outcome":    "approved",
		"comment":    "ok",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if got.EntityID != testEntityID || got.Actor.UserID != chef.UserID || got.Outcome != workflow.OutcomeApproved {
		t.Fatalf("unexpected store input: %+v", got)
	}
}

func TestRecordDecisionErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{workflow.ErrAlreadyDecided, http.StatusConflict, "already_decided"},
		{workflow.ErrRequestClosed, http.StatusConflict, "request_closed"},
		{workflow.ErrNotEligible, http.StatusForbidden, "not_eligible"},
		{store.ErrRequestNotFound, http.StatusNotFound, "request_not_found"},
		{store.ErrRequestArchived, http.StatusConflict, "request_archived"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		err := tc.err
		h := NewHandler(fakeStore{
			decideFn: func(ctx context.Context, input store.DecisionInput) (models.Request, bool, error) {
				return models.Request{}, false, err
			},
		}, nil)
		resp := serve(t, h, chef, http.MethodPost, "/api/requests/"+testEntityID+"/decisions", map[string]string{
			"request_id": testRequestID,
			"outcome":    "rejected",
		})
		if resp.Code != tc.status {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.status, resp.Code)
		}
		payload := decodeError(t, resp)
		if payload.Error.Code != tc.code || payload.RequestID != testRequestID {
			t.Fatalf("%v: unexpected envelope %+v", tc.err, payload)
		}
	}
}

func TestRecordDecisionRejectsPendingOutcome(t *testing.T) {
	called := false
	h := NewHandler(fakeStore{
		decideFn: func(ctx context.Context, input store.DecisionInput) (models.Request, bool, error) {
			called = true
			return models.Request{}, true, nil
		},
	}, nil)
	resp := serve(t, h, chef, http.MethodPost, "/api/requests/"+testEntityID+"/decisions", map[string]string{
		"request_id": testRequestID,
		"outcome":    "pending",
	})
	if resp.Code != http.StatusBadRequest || called {
		t.Fatalf("expected 400 without store call, got %d (called=%v)", resp.Code, called)
	}
}

func TestArchiveRequest(t *testing.T) {
	h := NewHandler(fakeStore{
		archiveFn: func(ctx context.Context, input store.ArchiveInput) (models.Request, bool, error) {
			if input.Actor.UserID != "u-1" {
				return models.Request{}, false, store.ErrAccessDenied
			}
			return models.Request{ID: input.EntityID, Archived: true}, true, nil
		},
	}, nil)

	resp := serve(t, h, identity.Identity{UserID: "u-1"}, http.MethodPost, "/api/requests/"+testEntityID+"/archive", map[string]string{"request_id": testRequestID})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	resp = serve(t, h, chef, http.MethodPost, "/api/requests/"+testEntityID+"/archive", map[string]string{"request_id": testRequestID})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
	resp = serve(t, h, chef, http.MethodDelete, "/api/requests/"+testEntityID+"/archive", nil)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", resp.Code)
	}
}

func TestStats(t *testing.T) {
	h := NewHandler(fakeStore{
		statsFn: func(ctx context.Context, actor identity.Identity) (models.Stats, error) {
			return models.Stats{AwaitingMe: 4, ByStatus: map[workflow.Outcome]int{workflow.OutcomePending: 4}}, nil
		},
	}, nil)
	resp := serve(t, h, chef, http.MethodGet, "/api/requests/stats", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var stats models.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.AwaitingMe != 4 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
