package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"urclec/internal/identity"
	"urclec/internal/platform/httpx"
	"urclec/services/admin-service/internal/models"
	"urclec/services/admin-service/internal/store"
)

type Handler struct {
	store   store.Store
	metrics *httpx.Metrics
	now     func() time.Time
}

type createUserRequest struct {
	Email          string   `json:"email"`
	FullName       string   `json:"full_name"`
	Password       string   `json:"password"`
	ChefID         string   `json:"chef_id"`
	AgencyID       string   `json:"agency_id"`
	ServicePointID string   `json:"service_point_id"`
	Roles          []string `json:"roles"`
}

type updateUserRequest struct {
	FullName       *string   `json:"full_name"`
	ChefID         *string   `json:"chef_id"`
	AgencyID       *string   `json:"agency_id"`
	ServicePointID *string   `json:"service_point_id"`
	Roles          *[]string `json:"roles"`
	Password       *string   `json:"password"`
}

type announcementRequest struct {
	Title    string     `json:"title"`
	Body     string     `json:"body"`
	Location string     `json:"location"`
	StartsAt time.Time  `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at"`
}

type creditRequest struct {
	BorrowerName  string `json:"borrower_name"`
	BorrowerPhone string `json:"borrower_phone"`
	AgencyID      string `json:"agency_id"`
	AgentID       string `json:"agent_id"`
	AmountCents   int64  `json:"amount_cents"`
	DueDate       string `json:"due_date"`
}

type creditActionRequest struct {
	RequestID   string            `json:"request_id"`
	Kind        models.ActionKind `json:"kind"`
	AmountCents int64             `json:"amount_cents"`
	PromisedFor string            `json:"promised_for"`
	Note        string            `json:"note"`
}

const dateLayout = "2006-01-02"

func NewHandler(store store.Store, metrics *httpx.Metrics) *Handler {
	return &Handler{store: store, metrics: metrics, now: time.Now}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/admin/users", h.handleUsers)
	mux.HandleFunc("/api/admin/users/", h.handleUser)
	mux.HandleFunc("/api/admin/roles", h.handleRoles)
	mux.HandleFunc("/api/admin/agencies", h.handleAgencies)
	mux.HandleFunc("/api/admin/service-points", h.handleServicePoints)
	mux.HandleFunc("/api/admin/audit", h.handleAudit)
	mux.HandleFunc("/api/announcements", h.handleAnnouncements)
	mux.HandleFunc("/api/announcements/", h.handleAnnouncementActions)
	mux.HandleFunc("/api/credits", h.handleCredits)
	mux.HandleFunc("/api/credits/", h.handleCredit)
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

func (h *Handler) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := requireRole(w, r, identity.RoleAdmin, identity.RoleHR); !ok {
			return
		}
		query := r.URL.Query()
		filter := store.UserFilter{
			AgencyID:        strings.TrimSpace(query.Get("agency_id")),
			Query:           strings.TrimSpace(query.Get("q")),
			IncludeInactive: httpx.QueryBool(r, "include_inactive"),
		}
		if raw := strings.TrimSpace(query.Get("role")); raw != "" {
			role, ok := identity.ParseRole(raw)
			if !ok {
				httpx.WriteError(w, httpx.RequestID(r), http.StatusBadRequest, "invalid_request", "unknown role")
				return
			}
			filter.Role = role
		}
		if filter.AgencyID != "" && !httpx.IsValidUUID(filter.AgencyID) {
			httpx.WriteError(w, httpx.RequestID(r), http.StatusBadRequest, "invalid_request", "agency_id must be a UUID")
			return
		}
		filter.Page, filter.PageSize = httpx.Pagination(r)
		users, total, err := h.store.ListUsers(r.Context(), filter)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, httpx.Page[models.User]{Items: users, Total: total, Page: filter.Page, PageSize: filter.PageSize})
	case http.MethodPost:
		if _, ok := requireRole(w, r, identity.RoleAdmin); !ok {
			return
		}
		var req createUserRequest
		if !httpx.Decode(w, r, &req) {
			return
		}
		if !optionalUUIDs(req.ChefID, req.AgencyID, req.ServicePointID) {
			httpx.WriteError(w, httpx.RequestID(r), http.StatusBadRequest, "invalid_request", "referenced ids must be UUIDs")
			return
		}
		user, err := h.store.CreateUser(r.Context(), store.CreateUserInput{
			Email:          req.Email,
			FullName:       req.FullName,
			Password:       req.Password,
			ChefID:         req.ChefID,
			AgencyID:       req.AgencyID,
			ServicePointID: req.ServicePointID,
			Roles:          req.Roles,
		})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.recordAudit(r, "user.create", "user", user.UserID, map[string]interface{}{"email": user.Email, "roles": user.RawRoles})
		httpx.WriteJSON(w, http.StatusCreated, user)
	default:
		httpx.MethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) handleUser(w http.ResponseWriter, r *http.Request) {
	userID, action := httpx.PathID(r.URL.Path, "/api/admin/users/")
	if !httpx.IsValidUUID(userID) {
		httpx.WriteError(w, httpx.RequestID(r), http.StatusNotFound, "not_found", "user not found")
		return
	}
	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			if _, ok := requireRole(w, r, identity.RoleAdmin, identity.RoleHR); !ok {
				return
			}
			user, err := h.store.GetUser(r.Context(), userID)
			if err != nil {
				h.fail(w, r, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, user)
		case http.MethodPatch:
			if _, ok := requireRole(w, r, identity.RoleAdmin); !ok {
				return
			}
			var req updateUserRequest
			if !httpx.Decode(w, r, &req) {
				return
			}
			for _, id := range []*string{req.ChefID, req.AgencyID, req.ServicePointID} {
				if id != nil && *id != "" && !httpx.IsValidUUID(*id) {
					httpx.WriteError(w, httpx.RequestID(r), http.StatusBadRequest, "invalid_request", "referenced ids must be UUIDs")
					return
				}
			}
			user, err := h.store.UpdateUser(r.Context(), store.UpdateUserInput{
				UserID:         userID,
				FullName:       req.FullName,
				ChefID:         req.ChefID,
				AgencyID:       req.AgencyID,
				ServicePointID: req.ServicePointID,
				Roles:          req.Roles,
				Password:       req.Password,
			})
			if err != nil {
				h.fail(w, r, err)
				return
			}
			details := map[string]interface{}{"roles": user.RawRoles, "chef_id": user.ChefID}
			if req.Password != nil {
				details["password_reset"] = true
			}
			h.recordAudit(r, "user.update", "user", userID, details)
			httpx.WriteJSON(w, http.StatusOK, user)
		default:
			httpx.MethodNotAllowed(w, http.MethodGet, http.MethodPatch)
		}
	case "activate", "deactivate":
		if r.Method != http.MethodPost {
			httpx.MethodNotAllowed(w, http.MethodPost)
			return
		}
		actor, ok := requireRole(w, r, identity.RoleAdmin)
		if !ok {
			return
		}
		active := action == "activate"
		if !active && actor.UserID == userID {
			httpx.WriteError(w, httpx.RequestID(r), http.StatusBadRequest, "invalid_request", "you cannot deactivate your own account")
			return
		}
		user, err := h.store.SetUserActive(r.Context(), userID, active)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.recordAudit(r, "user."+action, "user", userID, nil)
		httpx.WriteJSON(w, http.StatusOK, user)
	default:
		httpx.WriteError(w, httpx.RequestID(r), http.StatusNotFound, "not_found", "unknown user action")
	}
}

func (h *Handler) handleRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if _, ok := requireRole(w, r, identity.RoleAdmin, identity.RoleHR); !ok {
		return
	}
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, roles)
}

func (h *Handler) handleAgencies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := requireActor(w, r); !ok {
			return
		}
		agencies, err := h.store.ListAgencies(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, agencies)
	case http.MethodPost:
		if _, ok := requireRole(w, r, identity.RoleAdmin); !ok {
			return
		}
		var req models.Agency
		if !httpx.Decode(w, r, &req) {
			return
		}
		agency, err := h.store.CreateAgency(r.Context(), req)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.recordAudit(r, "agency.create", "agency", agency.AgencyID, map[string]interface{}{"code": agency.Code})
		httpx.WriteJSON(w, http.StatusCreated, agency)
	default:
		httpx.MethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) handleServicePoints(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := requireActor(w, r); !ok {
			return
		}
		agencyID := strings.TrimSpace(r.URL.Query().Get("agency_id"))
		if agencyID != "" && !httpx.IsValidUUID(agencyID) {
			httpx.WriteError(w, httpx.RequestID(r), http.StatusBadRequest, "invalid_request", "agency_id must be a UUID")
			return
		}
		points, err := h.store.ListServicePoints(r.Context(), agencyID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, points)
	case http.MethodPost:
		if _, ok := requireRole(w, r, identity.RoleAdmin); !ok {
			return
		}
		var req models.ServicePoint
		if !httpx.Decode(w, r, &req) {
			return
		}
		if !httpx.IsValidUUID(req.AgencyID) {
			httpx.WriteError(w, httpx.RequestID(r), http.StatusBadRequest, "invalid_request", "agency_id must be a UUID")
			return
		}
		point, err := h.store.CreateServicePoint(r.Context(), req)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.recordAudit(r, "service_point.create", "service_point", point.ServicePointID, map[string]interface{}{"agency_id": point.AgencyID})
		httpx.WriteJSON(w, http.StatusCreated, point)
	default:
		httpx.MethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if _, ok := requireRole(w, r, identity.RoleAdmin); !ok {
		return
	}
	query := r.URL.Query()
	filter := store.AuditFilter{
		Action:     strings.TrimSpace(query.Get("action")),
		ActorID:    strings.TrimSpace(query.Get("actor_id")),
		EntityType: strings.TrimSpace(query.Get("entity_type")),
	}
	if filter.ActorID != "" && !httpx.IsValidUUID(filter.ActorID) {
		httpx.WriteError(w, httpx.RequestID(r), http.StatusBadRequest, "invalid_request", "actor_id must be a UUID")
		return
	}
	filter.Page, filter.PageSize = httpx.Pagination(r)
	entries, total, err := h.store.ListAudit(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.Page[models.AuditLog]{Items: entries, Total: total, Page: filter.Page, PageSize: filter.PageSize})
}

var announcers = []identity.Role{identity.RoleAdmin, identity.RoleHR, identity.RoleManagement}

func (h *Handler) handleAnnouncements(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		includeHidden := httpx.QueryBool(r, "all") && actor.HasAnyRole(announcers...)
		items, err := h.store.ListAnnouncements(r.Context(), includeHidden, h.now())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, items)
	case http.MethodPost:
		actor, ok := requireRole(w, r, announcers...)
		if !ok {
			return
		}
		var req announcementRequest
		if !httpx.Decode(w, r, &req) {
			return
		}
		a, err := h.store.CreateAnnouncement(r.Context(), store.CreateAnnouncementInput{
			Title:     req.Title,
			Body:      req.Body,
			Location:  req.Location,
			StartsAt:  req.StartsAt,
			EndsAt:    req.EndsAt,
			CreatedBy: actor.UserID,
		})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.recordAudit(r, "announcement.create", "announcement", a.AnnouncementID, map[string]interface{}{"title": a.Title})
		httpx.WriteJSON(w, http.StatusCreated, a)
	default:
		httpx.MethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) handleAnnouncementActions(w http.ResponseWriter, r *http.Request) {
	id, action := httpx.PathID(r.URL.Path, "/api/announcements/")
	if !httpx.IsValidUUID(id) || action != "publish" {
		httpx.WriteError(w, httpx.RequestID(r), http.StatusNotFound, "not_found", "unknown announcement action")
		return
	}
	if r.Method != http.MethodPost {
		httpx.MethodNotAllowed(w, http.MethodPost)
		return
	}
	actor, ok := requireRole(w, r, announcers...)
	if !ok {
		return
	}
	a, err := h.store.PublishAnnouncement(r.Context(), id, actor.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.recordAudit(r, "announcement.publish", "announcement", id, nil)
	h.metrics.Event("announcement_publish", "ok")
	httpx.WriteJSON(w, http.StatusOK, a)
}

func (h *Handler) handleCredits(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireRole(w, r, identity.RoleAdmin, identity.RoleManagement, identity.RoleCreditAgent)
	if !ok {
		return
	}
	seesAll := actor.HasAnyRole(identity.RoleAdmin, identity.RoleManagement)
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		filter := store.CreditFilter{
			AgentID:     strings.TrimSpace(query.Get("agent_id")),
			Status:      models.CreditStatus(strings.TrimSpace(query.Get("status"))),
			OverdueOnly: httpx.QueryBool(r, "overdue"),
		}
		if !seesAll {
			filter.AgentID = actor.UserID
		}
		if filter.AgentID != "" && !httpx.IsValidUUID(filter.AgentID) {
			httpx.WriteError(w, httpx.RequestID(r), http.StatusBadRequest, "invalid_request", "agent_id must be a UUID")
			return
		}
		filter.Page, filter.PageSize = httpx.Pagination(r)
		credits, total, err := h.store.ListCredits(r.Context(), filter)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, httpx.Page[models.Credit]{Items: credits, Total: total, Page: filter.Page, PageSize: filter.PageSize})
	case http.MethodPost:
		if !actor.HasAnyRole(identity.RoleAdmin, identity.RoleCreditAgent) {
			httpx.WriteError(w, httpx.RequestID(r), http.StatusForbidden, "access_denied", "access denied")
			return
		}
		var req creditRequest
		if !httpx.Decode(w, r, &req) {
			return
		}
		// Agents open credits in their own portfolio.
		if req.AgentID == "" || !actor.HasRole(identity.RoleAdmin) {
			req.AgentID = actor.UserID
		}
		if !optionalUUIDs(req.AgentID, req.AgencyID) {
			httpx.WriteError(w, httpx.RequestID(r), http.StatusBadRequest, "invalid_request", "agent_id and agency_id must be UUIDs")
			return
		}
		due, err := time.Parse(dateLayout, strings.TrimSpace(req.DueDate))
		if err != nil {
			httpx.WriteError(w, httpx.RequestID(r), http.StatusBadRequest, "invalid_request", "due_date must be YYYY-MM-DD")
			return
		}
		credit, err := h.store.CreateCredit(r.Context(), store.CreateCreditInput{
			BorrowerName:  req.BorrowerName,
			BorrowerPhone: req.BorrowerPhone,
			AgencyID:      req.AgencyID,
			AgentID:       req.AgentID,
			AmountCents:   req.AmountCents,
			DueDate:       due,
		})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.recordAudit(r, "credit.create", "credit", credit.CreditID, map[string]interface{}{"amount_cents": credit.AmountCents, "agent_id": credit.AgentID})
		httpx.WriteJSON(w, http.StatusCreated, credit)
	default:
		httpx.MethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) handleCredit(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireRole(w, r, identity.RoleAdmin, identity.RoleManagement, identity.RoleCreditAgent)
	if !ok {
		return
	}
	id, action := httpx.PathID(r.URL.Path, "/api/credits/")
	if !httpx.IsValidUUID(id) {
		httpx.WriteError(w, httpx.RequestID(r), http.StatusNotFound, "not_found", "credit not found")
		return
	}
	switch action {
	case "":
		if r.Method != http.MethodGet {
			httpx.MethodNotAllowed(w, http.MethodGet)
			return
		}
		detail, err := h.store.GetCredit(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if !store.CanSeeCredit(actor, detail.AgentID) {
			httpx.WriteError(w, httpx.RequestID(r), http.StatusNotFound, "not_found", "credit not found")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, detail)
	case "actions":
		if r.Method != http.MethodPost {
			httpx.MethodNotAllowed(w, http.MethodPost)
			return
		}
		var req creditActionRequest
		if !httpx.Decode(w, r, &req) {
			return
		}
		if !httpx.IsValidUUID(strings.TrimSpace(req.RequestID)) {
			httpx.WriteError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
			return
		}
		if !req.Kind.Valid() {
			httpx.WriteError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "kind must be call, visit, payment, promise or note")
			return
		}
		input := store.CreditActionInput{
			RequestID:   strings.TrimSpace(req.RequestID),
			Actor:       actor,
			CreditID:    id,
			Kind:        req.Kind,
			AmountCents: req.AmountCents,
			Note:        req.Note,
		}
		if req.PromisedFor != "" {
			promised, err := time.Parse(dateLayout, req.PromisedFor)
			if err != nil {
				httpx.WriteError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "promised_for must be YYYY-MM-DD")
				return
			}
			input.PromisedFor = &promised
		}
		detail, created, err := h.store.RecordCreditAction(r.Context(), input)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if created {
			h.metrics.Event("credit_action", string(req.Kind))
			h.recordAudit(r, "credit."+string(req.Kind), "credit", id, map[string]interface{}{"amount_cents": req.AmountCents, "balance_cents": detail.BalanceCents})
		}
		httpx.WriteJSON(w, http.StatusOK, detail)
	default:
		httpx.WriteError(w, httpx.RequestID(r), http.StatusNotFound, "not_found", "unknown credit action")
	}
}

func requireActor(w http.ResponseWriter, r *http.Request) (identity.Identity, bool) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, httpx.RequestID(r), http.StatusUnauthorized, "unauthorized", "authentication required")
		return identity.Identity{}, false
	}
	return actor, true
}

func requireRole(w http.ResponseWriter, r *http.Request, roles ...identity.Role) (identity.Identity, bool) {
	actor, ok := requireActor(w, r)
	if !ok {
		return identity.Identity{}, false
	}
	if !actor.HasAnyRole(roles...) {
		httpx.WriteError(w, httpx.RequestID(r), http.StatusForbidden, "access_denied", "access denied")
		return identity.Identity{}, false
	}
	return actor, true
}

func optionalUUIDs(values ...string) bool {
	for _, value := range values {
		if value != "" && !httpx.IsValidUUID(value) {
			return false
		}
	}
	return true
}

// recordAudit is best effort: the mutation already committed.
func (h *Handler) recordAudit(r *http.Request, action, entityType, entityID string, details map[string]interface{}) {
	actor, _ := identity.FromContext(r.Context())
	entry := models.AuditLog{
		ActorID:    actor.UserID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		IP:         httpx.ClientIP(r),
		UserAgent:  r.UserAgent(),
	}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			entry.Details = raw
		}
	}
	if err := h.store.InsertAudit(r.Context(), entry); err != nil {
		slog.Warn("audit log", "error", err, "action", action)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status == http.StatusInternalServerError {
		slog.Error("admin handler", "error", err, "path", r.URL.Path)
	}
	httpx.WriteError(w, httpx.RequestID(r), status, code, msg)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found", "not found"
	case errors.Is(err, store.ErrInvalidRequest),
		errors.Is(err, store.ErrUnknownReference),
		errors.Is(err, models.ErrInvalidPayment),
		errors.Is(err, models.ErrPromiseDate):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, store.ErrAccessDenied):
		return http.StatusForbidden, "access_denied", "access denied"
	case errors.Is(err, store.ErrEmailTaken):
		return http.StatusConflict, "email_taken", "email already registered"
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, "duplicate", err.Error()
	case errors.Is(err, models.ErrOverpayment):
		return http.StatusConflict, "overpayment", err.Error()
	case errors.Is(err, models.ErrCreditClosed):
		return http.StatusConflict, "credit_closed", err.Error()
	case errors.Is(err, store.ErrIdempotencyConflict):
		return http.StatusConflict, "idempotency_conflict", "request_id was already used for another action"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}
