package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"urclec/internal/identity"
	"urclec/internal/movement"
	"urclec/internal/platform/httpx"
	"urclec/services/equipment-service/internal/models"
	"urclec/services/equipment-service/internal/store"
)

type Handler struct {
	store   store.EquipmentStore
	metrics *httpx.Metrics
}

type createEquipmentRequest struct {
	RequestID      string `json:"request_id"`
	Name           string `json:"name"`
	SerialNumber   string `json:"serial_number"`
	Category       string `json:"category"`
	CustodianID    string `json:"custodian_id"`
	AgencyID       string `json:"agency_id"`
	ServicePointID string `json:"service_point_id"`
}

type actionRequest struct {
	RequestID string `json:"request_id"`
}

type dispatchRequest struct {
	RequestID                string             `json:"request_id"`
	EquipmentID              string             `json:"equipment_id"`
	Type                     movement.Type      `json:"type"`
	DestinationResponsibleID string             `json:"destination_responsible_id"`
	ToAgencyID               string             `json:"to_agency_id"`
	ToServicePointID         string             `json:"to_service_point_id"`
	ConditionAfter           movement.Condition `json:"condition_after"`
	Comment                  string             `json:"comment"`
}

type confirmRequest struct {
	RequestID  string `json:"request_id"`
	MovementID string `json:"movement_id"`
}

type repairReturnRequest struct {
	RequestID      string             `json:"request_id"`
	MovementID     string             `json:"movement_id"`
	FinalCondition movement.Condition `json:"final_condition"`
	Comment        string             `json:"comment"`
}

type assignRequest struct {
	RequestID      string `json:"request_id"`
	EquipmentID    string `json:"equipment_id"`
	EmployeeID     string `json:"employee_id"`
	ServicePointID string `json:"service_point_id"`
	Quantity       int    `json:"quantity"`
	Comment        string `json:"comment"`
}

type withdrawRequest struct {
	RequestID string                       `json:"request_id"`
	Condition movement.AssignmentCondition `json:"condition"`
}

func NewHandler(store store.EquipmentStore, metrics *httpx.Metrics) *Handler {
	return &Handler{store: store, metrics: metrics}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/equipment", h.handleEquipment)
	mux.HandleFunc("/api/equipment/stats", h.handleStats)
	mux.HandleFunc("/api/equipment/confirm-receipt", h.handleConfirmReceipt)
	mux.HandleFunc("/api/equipment/repair-return", h.handleRepairReturn)
	mux.HandleFunc("/api/equipment/", h.handleEquipmentActions)
	mux.HandleFunc("/api/movements", h.handleMovements)
	mux.HandleFunc("/api/assignments", h.handleAssignments)
	mux.HandleFunc("/api/assignments/", h.handleAssignmentActions)
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

func (h *Handler) handleEquipment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		filter := store.EquipmentFilter{
			Condition:       movement.Condition(strings.TrimSpace(query.Get("condition"))),
			CustodianID:     strings.TrimSpace(query.Get("custodian_id")),
			IncludeArchived: httpx.QueryBool(r, "include_archived"),
		}
		if filter.CustodianID != "" && !httpx.IsValidUUID(filter.CustodianID) {
			httpx.WriteError(w, httpx.RequestID(r), http.StatusBadRequest, "invalid_request", "custodian_id must be a UUID")
			return
		}
		filter.Page, filter.PageSize = httpx.Pagination(r)
		items, total, err := h.store.ListEquipment(r.Context(), filter)
		if err != nil {
			h.fail(w, httpx.RequestID(r), "", err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, httpx.Page[movement.Equipment]{Items: items, Total: total, Page: filter.Page, PageSize: filter.PageSize})
	case http.MethodPost:
		var req createEquipmentRequest
		if !httpx.Decode(w, r, &req) {
			return
		}
		if !validUUIDs(req.RequestID) || !optionalUUIDs(req.CustodianID, req.AgencyID, req.ServicePointID) {
			httpx.WriteError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and referenced ids must be UUIDs")
			return
		}
		e, created, err := h.store.CreateEquipment(r.Context(), store.CreateEquipmentInput{
			RequestID:      req.RequestID,
			Actor:          actor,
			Name:           req.Name,
			SerialNumber:   req.SerialNumber,
			Category:       req.Category,
			CustodianID:    req.CustodianID,
			AgencyID:       req.AgencyID,
			ServicePointID: req.ServicePointID,
		})
		if err != nil {
			h.fail(w, req.RequestID, "equipment_create", err)
			return
		}
		httpx.WriteJSON(w, createdStatus(created), e)
	default:
		httpx.MethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) handleEquipmentActions(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, action := httpx.PathID(r.URL.Path, "/api/equipment/")
	if !httpx.IsValidUUID(id) {
		httpx.WriteError(w, httpx.RequestID(r), http.StatusNotFound, "equipment_not_found", "equipment not found")
		return
	}
	switch action {
	case "":
		if r.Method != http.MethodGet {
			httpx.MethodNotAllowed(w, http.MethodGet)
			return
		}
		detail, err := h.store.GetEquipment(r.Context(), id, actor)
		if err != nil {
			h.fail(w, httpx.RequestID(r), "", err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, detail)
	case "archive":
		if r.Method != http.MethodPost {
			httpx.MethodNotAllowed(w, http.MethodPost)
			return
		}
		var req actionRequest
		if !decodeAction(w, r, &req, &req.RequestID) {
			return
		}
		e, _, err := h.store.ArchiveEquipment(r.Context(), store.ArchiveInput{RequestID: req.RequestID, EquipmentID: id, Actor: actor})
		if err != nil {
			h.fail(w, req.RequestID, "equipment_archive", err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, e)
	default:
		httpx.WriteError(w, httpx.RequestID(r), http.StatusNotFound, "not_found", "unknown action")
	}
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		filter := store.MovementFilter{
			Actor:       actor,
			EquipmentID: strings.TrimSpace(query.Get("equipment_id")),
			Type:        movement.Type(strings.TrimSpace(query.Get("type"))),
			PendingOnly: httpx.QueryBool(r, "pending"),
		}
		if filter.EquipmentID != "" && !httpx.IsValidUUID(filter.EquipmentID) {
			httpx.WriteError(w, httpx.RequestID(r), http.StatusBadRequest, "invalid_request", "equipment_id must be a UUID")
			return
		}
		if filter.Type != "" && !filter.Type.Valid() {
			httpx.WriteError(w, httpx.RequestID(r), http.StatusBadRequest, "invalid_request", "unknown movement type")
			return
		}
		filter.Page, filter.PageSize = httpx.Pagination(r)
		items, total, err := h.store.ListMovements(r.Context(), filter)
		if err != nil {
			h.fail(w, httpx.RequestID(r), "", err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, httpx.Page[models.MovementView]{Items: items, Total: total, Page: filter.Page, PageSize: filter.PageSize})
	case http.MethodPost:
		var req dispatchRequest
		if !httpx.Decode(w, r, &req) {
			return
		}
		if !validUUIDs(req.RequestID, req.EquipmentID, req.DestinationResponsibleID) || !optionalUUIDs(req.ToAgencyID, req.ToServicePointID) {
			httpx.WriteError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, equipment_id and destination_responsible_id must be UUIDs")
			return
		}
		view, created, err := h.store.Dispatch(r.Context(), store.DispatchInput{
			RequestID:                req.RequestID,
			Actor:                    actor,
			EquipmentID:              req.EquipmentID,
			Type:                     req.Type,
			DestinationResponsibleID: req.DestinationResponsibleID,
			ToAgencyID:               req.ToAgencyID,
			ToServicePointID:         req.ToServicePointID,
			ConditionAfter:           req.ConditionAfter,
			Comment:                  req.Comment,
		})
		if err != nil {
			h.fail(w, req.RequestID, "movement_dispatch", err)
			return
		}
		if created {
			h.metrics.Event("movement_dispatch", string(req.Type))
		}
		httpx.WriteJSON(w, createdStatus(created), view)
	default:
		httpx.MethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) handleConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.MethodNotAllowed(w, http.MethodPost)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if !httpx.Decode(w, r, &req) {
		return
	}
	if !validUUIDs(req.RequestID, req.MovementID) {
		httpx.WriteError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and movement_id must be UUIDs")
		return
	}
	view, created, err := h.store.ConfirmReceipt(r.Context(), store.ConfirmInput{RequestID: req.RequestID, Actor: actor, MovementID: req.MovementID})
	if err != nil {
		h.fail(w, req.RequestID, "movement_confirm", err)
		return
	}
	if created {
		h.metrics.Event("movement_confirm", string(view.Type))
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleRepairReturn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.MethodNotAllowed(w, http.MethodPost)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req repairReturnRequest
	if !httpx.Decode(w, r, &req) {
		return
	}
	if !validUUIDs(req.RequestID, req.MovementID) {
		httpx.WriteError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and movement_id must be UUIDs")
		return
	}
	if !movement.ValidFinalCondition(req.FinalCondition) {
		httpx.WriteError(w, req.RequestID, http.StatusBadRequest, "invalid_request", movement.ErrInvalidFinalCondition.Error())
		return
	}
	view, created, err := h.store.InitiateReturn(r.Context(), store.ReturnInput{
		RequestID:      req.RequestID,
		Actor:          actor,
		MovementID:     req.MovementID,
		FinalCondition: req.FinalCondition,
		Comment:        req.Comment,
	})
	if err != nil {
		h.fail(w, req.RequestID, "repair_return", err)
		return
	}
	if created {
		h.metrics.Event("repair_return", string(req.FinalCondition))
	}
	httpx.WriteJSON(w, createdStatus(created), view)
}

func (h *Handler) handleAssignments(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		filter := store.AssignmentFilter{
			EquipmentID: strings.TrimSpace(query.Get("equipment_id")),
			EmployeeID:  strings.TrimSpace(query.Get("employee_id")),
			ActiveOnly:  httpx.QueryBool(r, "active"),
		}
		if !optionalUUIDs(filter.EquipmentID, filter.EmployeeID) {
			httpx.WriteError(w, httpx.RequestID(r), http.StatusBadRequest, "invalid_request", "equipment_id and employee_id must be UUIDs")
			return
		}
		// Employees only see their own assignments.
		if !store.CanManage(actor) {
			filter.EmployeeID = actor.UserID
		}
		filter.Page, filter.PageSize = httpx.Pagination(r)
		items, total, err := h.store.ListAssignments(r.Context(), filter)
		if err != nil {
			h.fail(w, httpx.RequestID(r), "", err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, httpx.Page[movement.Assignment]{Items: items, Total: total, Page: filter.Page, PageSize: filter.PageSize})
	case http.MethodPost:
		var req assignRequest
		if !httpx.Decode(w, r, &req) {
			return
		}
		if !validUUIDs(req.RequestID, req.EquipmentID, req.EmployeeID, req.ServicePointID) {
			httpx.WriteError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, equipment_id, employee_id and service_point_id must be UUIDs")
			return
		}
		a, created, err := h.store.Assign(r.Context(), store.AssignInput{
			RequestID:      req.RequestID,
			Actor:          actor,
			EquipmentID:    req.EquipmentID,
			EmployeeID:     req.EmployeeID,
			ServicePointID: req.ServicePointID,
			Quantity:       req.Quantity,
			Comment:        req.Comment,
		})
		if err != nil {
			h.fail(w, req.RequestID, "assignment_create", err)
			return
		}
		httpx.WriteJSON(w, createdStatus(created), a)
	default:
		httpx.MethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) handleAssignmentActions(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, action := httpx.PathID(r.URL.Path, "/api/assignments/")
	if !httpx.IsValidUUID(id) || action != "withdraw" {
		httpx.WriteError(w, httpx.RequestID(r), http.StatusNotFound, "not_found", "unknown assignment action")
		return
	}
	if r.Method != http.MethodPost {
		httpx.MethodNotAllowed(w, http.MethodPost)
		return
	}
	var req withdrawRequest
	if !decodeAction(w, r, &req, &req.RequestID) {
		return
	}
	a, _, err := h.store.Withdraw(r.Context(), store.WithdrawInput{
		RequestID:    req.RequestID,
		Actor:        actor,
		AssignmentID: id,
		Condition:    req.Condition,
	})
	if err != nil {
		h.fail(w, req.RequestID, "assignment_withdraw", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, a)
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

func requireActor(w http.ResponseWriter, r *http.Request) (identity.Identity, bool) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, httpx.RequestID(r), http.StatusUnauthorized, "unauthorized", "authentication required")
		return identity.Identity{}, false
	}
	return actor, true
}

// decodeAction decodes a body whose only required field is a request_id.
func decodeAction(w http.ResponseWriter, r *http.Request, target interface{}, requestID *string) bool {
	if !httpx.Decode(w, r, target) {
		return false
	}
	*requestID = strings.TrimSpace(*requestID)
	if !httpx.IsValidUUID(*requestID) {
		httpx.WriteError(w, *requestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return false
	}
	return true
}

func validUUIDs(values ...string) bool {
	for _, value := range values {
		if !httpx.IsValidUUID(strings.TrimSpace(value)) {
			return false
		}
	}
	return true
}

func optionalUUIDs(values ...string) bool {
	for _, value := range values {
		if value != "" && !httpx.IsValidUUID(value) {
			return false
		}
	}
	return true
}

func createdStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func (h *Handler) fail(w http.ResponseWriter, requestID, event string, err error) {
	status, code, msg := mapError(err)
	if status == http.StatusInternalServerError {
		slog.Error("equipment handler", "error", err, "request_id", requestID)
	}
	if event != "" {
		h.metrics.Event(event, code)
	}
	httpx.WriteError(w, requestID, status, code, msg)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrEquipmentNotFound):
		return http.StatusNotFound, "equipment_not_found", "equipment not found"
	case errors.Is(err, movement.ErrMovementNotFound):
		return http.StatusNotFound, "movement_not_found", "movement not found"
	case errors.Is(err, store.ErrAssignmentNotFound):
		return http.StatusNotFound, "assignment_not_found", "assignment not found"
	case errors.Is(err, store.ErrServicePointUnknown):
		return http.StatusBadRequest, "invalid_request", "service point not found"
	case errors.Is(err, store.ErrInvalidRequest),
		errors.Is(err, movement.ErrInvalidFinalCondition),
		errors.Is(err, movement.ErrNotRepair):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, movement.ErrNotResponsible):
		return http.StatusForbidden, "not_responsible", "you are not the receiving party"
	case errors.Is(err, store.ErrAccessDenied):
		return http.StatusForbidden, "access_denied", "access denied"
	case errors.Is(err, movement.ErrAlreadyConfirmed):
		return http.StatusConflict, "already_confirmed", "movement already confirmed"
	case errors.Is(err, movement.ErrReturnExists):
		return http.StatusConflict, "return_exists", "repair already has a return"
	case errors.Is(err, movement.ErrRepairNotConfirmed):
		return http.StatusConflict, "repair_not_confirmed", "repair not yet received"
	case errors.Is(err, movement.ErrInvalidDispatch):
		return http.StatusConflict, "invalid_state", "equipment condition does not allow this movement"
	case errors.Is(err, store.ErrMovementPending):
		return http.StatusConflict, "movement_pending", "equipment has a movement awaiting confirmation"
	case errors.Is(err, store.ErrAlreadyAssigned):
		return http.StatusConflict, "already_assigned", "equipment already has an active assignment"
	case errors.Is(err, store.ErrAssignmentClosed):
		return http.StatusConflict, "assignment_closed", "assignment already ended"
	case errors.Is(err, store.ErrEquipmentArchived):
		return http.StatusConflict, "equipment_archived", "equipment is archived"
	case errors.Is(err, store.ErrSerialTaken):
		return http.StatusConflict, "serial_taken", "serial number already registered"
	case errors.Is(err, store.ErrIdempotencyConflict):
		return http.StatusConflict, "idempotency_conflict", "request_id was already used for another action"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}
