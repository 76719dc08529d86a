package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"urclec/internal/identity"
	"urclec/internal/platform/httpx"
	"urclec/internal/workflow"
	"urclec/services/request-service/internal/models"
	"urclec/services/request-service/internal/store"
)

type Handler struct {
	store   store.RequestStore
	metrics *httpx.Metrics
}

type createRequestRequest struct {
	RequestID     string             `json:"request_id"`
	Type          models.RequestType `json:"type"`
	StartDate     models.Date        `json:"start_date"`
	EndDate       models.Date        `json:"end_date"`
	Reason        string             `json:"reason"`
	DayCount      *int               `json:"day_count,omitempty"`
	Duration      string             `json:"duration,omitempty"`
	Justification string             `json:"justification,omitempty"`
}

type decisionRequest struct {
	RequestID string           `json:"request_id"`
	Outcome   workflow.Outcome `json:"outcome"`
	Comment   string           `json:"comment"`
}

type archiveRequest struct {
	RequestID string `json:"request_id"`
}

func NewHandler(store store.RequestStore, metrics *httpx.Metrics) *Handler {
	return &Handler{store: store, metrics: metrics}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/requests", h.handleRequests)
	mux.HandleFunc("/api/requests/stats", h.handleStats)
	mux.HandleFunc("/api/requests/", h.handleRequestActions)
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics.Handler())
	}
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.MethodNotAllowed(w, http.MethodGet)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleRequests(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.handleListRequests(w, r, actor)
	case http.MethodPost:
		h.handleCreateRequest(w, r, actor)
	default:
		httpx.MethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) handleCreateRequest(w http.ResponseWriter, r *http.Request, actor identity.Identity) {
	var req createRequestRequest
	if !httpx.Decode(w, r, &req) {
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	if !httpx.IsValidUUID(req.RequestID) {
		httpx.WriteError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return
	}

	request, created, err := h.store.CreateRequest(r.Context(), store.CreateRequestInput{
		RequestID:     req.RequestID,
		Actor:         actor,
		Type:          req.Type,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		Reason:        req.Reason,
		DayCount:      req.DayCount,
		Duration:      req.Duration,
		Justification: req.Justification,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		h.fail(w, req.RequestID, "request_create", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.metrics.Event("request_create", "ok")
	}
	httpx.WriteJSON(w, status, request)
}

func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request, actor identity.Identity) {
	query := r.URL.Query()
	scope, err := store.ParseScope(query.Get("scope"), actor)
	if err != nil {
		h.fail(w, httpx.RequestID(r), "", err)
		return
	}
	filter := store.ListFilter{
		Actor:           actor,
		Scope:           scope,
		Type:            models.RequestType(strings.TrimSpace(query.Get("type"))),
		Status:          workflow.Outcome(strings.TrimSpace(query.Get("status"))),
		IncludeArchived: httpx.QueryBool(r, "include_archived"),
	}
	if filter.Type != "" && !filter.Type.Valid() {
		httpx.WriteError(w, httpx.RequestID(r), http.StatusBadRequest, "invalid_request", "unknown type filter")
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		httpx.WriteError(w, httpx.RequestID(r), http.StatusBadRequest, "invalid_request", "unknown status filter")
		return
	}
	filter.Page, filter.PageSize = httpx.Pagination(r)

	requests, total, err := h.store.ListRequests(r.Context(), filter)
	if err != nil {
		h.fail(w, httpx.RequestID(r), "", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.Page[models.Request]{
		Items:    requests,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.MethodNotAllowed(w, http.MethodGet)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	stats, err := h.store.Stats(r.Context(), actor)
	if err != nil {
		h.fail(w, httpx.RequestID(r), "", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleRequestActions(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, action := httpx.PathID(r.URL.Path, "/api/requests/")
	if id == "" || !httpx.IsValidUUID(id) {
		httpx.WriteError(w, httpx.RequestID(r), http.StatusNotFound, "request_not_found", "request not found")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			httpx.MethodNotAllowed(w, http.MethodGet)
			return
		}
		request, err := h.store.GetRequest(r.Context(), id, actor)
		if err != nil {
			h.fail(w, httpx.RequestID(r), "", err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, request)
	case "decisions":
		if r.Method != http.MethodPost {
			httpx.MethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleDecision(w, r, actor, id)
	case "archive":
		if r.Method != http.MethodPost {
			httpx.MethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleArchive(w, r, actor, id)
	default:
		httpx.WriteError(w, httpx.RequestID(r), http.StatusNotFound, "not_found", "unknown action")
	}
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request, actor identity.Identity, requestID string) {
	var req decisionRequest
	if !httpx.Decode(w, r, &req) {
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	if !httpx.IsValidUUID(req.RequestID) {
		httpx.WriteError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return
	}
	if !req.Outcome.Conclusive() {
		httpx.WriteError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "outcome must be approved or rejected")
		return
	}

	request, created, err := h.store.RecordDecision(r.Context(), store.DecisionInput{
		RequestID:  req.RequestID,
		EntityID:   requestID,
		Actor:      actor,
		Outcome:    req.Outcome,
		Comment:    req.Comment,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		h.fail(w, req.RequestID, "decision", err)
		return
	}
	if created {
		h.metrics.Event("decision", string(req.Outcome))
	}
	httpx.WriteJSON(w, http.StatusOK, request)
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request, actor identity.Identity, requestID string) {
	var req archiveRequest
	if !httpx.Decode(w, r, &req) {
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	if !httpx.IsValidUUID(req.RequestID) {
		httpx.WriteError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return
	}
	request, _, err := h.store.ArchiveRequest(r.Context(), store.ArchiveInput{
		RequestID: req.RequestID,
		EntityID:  requestID,
		Actor:     actor,
	})
	if err != nil {
		h.fail(w, req.RequestID, "archive", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, request)
}

func requireActor(w http.ResponseWriter, r *http.Request) (identity.Identity, bool) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, httpx.RequestID(r), http.StatusUnauthorized, "unauthorized", "authentication required")
		return identity.Identity{}, false
	}
	return actor, true
}

// fail writes the mapped error and, for named domain events, counts it.
func (h *Handler) fail(w http.ResponseWriter, requestID, event string, err error) {
	status, code, msg := mapError(err)
	if status == http.StatusInternalServerError {
		slog.Error("request handler", "error", err, "request_id", requestID)
	}
	if event != "" {
		h.metrics.Event(event, code)
	}
	httpx.WriteError(w, requestID, status, code, msg)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrRequestNotFound):
		return http.StatusNotFound, "request_not_found", "request not found"
	case errors.Is(err, store.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, workflow.ErrInvalidOutcome):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, workflow.ErrAlreadyDecided):
		return http.StatusConflict, "already_decided", "you already decided on this request"
	case errors.Is(err, workflow.ErrRequestClosed):
		return http.StatusConflict, "request_closed", "request has no open approval level"
	case errors.Is(err, store.ErrRequestArchived):
		return http.StatusConflict, "request_archived", "request is archived"
	case errors.Is(err, store.ErrIdempotencyConflict):
		return http.StatusConflict, "idempotency_conflict", "request_id was already used for another action"
	case errors.Is(err, workflow.ErrNotEligible):
		return http.StatusForbidden, "not_eligible", "you may not decide at the open level"
	case errors.Is(err, store.ErrAccessDenied):
		return http.StatusForbidden, "access_denied", "access denied"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}
