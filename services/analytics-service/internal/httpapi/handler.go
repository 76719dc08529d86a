package httpapi

import (
	"encoding/csv"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"urclec/internal/identity"
	"urclec/internal/platform/httpx"
	"urclec/services/analytics-service/internal/store"
)

type Handler struct {
	store   store.Store
	metrics *httpx.Metrics
	now     func() time.Time
}

type window struct {
	from time.Time
	to   time.Time
}

var readers = []identity.Role{identity.RoleHR, identity.RoleManagement, identity.RoleAdmin}

const (
	defaultWindow       = 30 * 24 * time.Hour
	defaultStalledHours = 48
)

func NewHandler(store store.Store, metrics *httpx.Metrics) *Handler {
	return &Handler{store: store, metrics: metrics, now: time.Now}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/analytics/kpis", h.handleKPIs)
	mux.HandleFunc("/api/analytics/stalled", h.handleStalled)
	mux.HandleFunc("/api/analytics/export", h.handleExport)
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

func (h *Handler) handleKPIs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if !requireReader(w, r) {
		return
	}
	win, ok := h.parseWindow(w, r)
	if !ok {
		return
	}

	result, err := h.store.GetKPIs(r.Context(), win.from, win.to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleStalled(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if !requireReader(w, r) {
		return
	}
	hours := defaultStalledHours
	if raw := strings.TrimSpace(r.URL.Query().Get("hours")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.WriteError(w, httpx.RequestID(r), http.StatusBadRequest, "invalid_request", "hours must be a positive integer")
			return
		}
		hours = parsed
	}

	stalled, err := h.store.ListStalled(r.Context(), h.now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if stalled == nil {
		stalled = []store.StalledRequest{}
	}
	h.metrics.Event("stalled_report", "ok")
	httpx.WriteJSON(w, http.StatusOK, stalled)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if !requireReader(w, r) {
		return
	}
	win, ok := h.parseWindow(w, r)
	if !ok {
		return
	}

	rows, err := h.store.ListRequests(r.Context(), win.from, win.to)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=requests.csv")
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"request_id", "type", "requester", "start_date", "end_date", "status", "open_level", "archived", "created_at", "resolved_at"})
	for _, row := range rows {
		_ = writer.Write([]string{
			row.RequestID,
			row.Type,
			row.RequesterName,
			row.StartDate.Format("2006-01-02"),
			row.EndDate.Format("2006-01-02"),
			row.Status,
			row.OpenLevel,
			strconv.FormatBool(row.Archived),
			row.CreatedAt.UTC().Format(time.RFC3339),
			formatTime(row.ResolvedAt),
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		slog.Warn("csv export", "error", err)
	}
	h.metrics.Event("csv_export", "ok")
}

// parseWindow reads from/to as RFC3339, defaulting to the last 30 days.
func (h *Handler) parseWindow(w http.ResponseWriter, r *http.Request) (window, bool) {
	now := h.now()
	win := window{from: now.Add(-defaultWindow), to: now}
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(w, httpx.RequestID(r), http.StatusBadRequest, "invalid_request", "from must be RFC3339")
			return window{}, false
		}
		win.from = parsed
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(w, httpx.RequestID(r), http.StatusBadRequest, "invalid_request", "to must be RFC3339")
			return window{}, false
		}
		win.to = parsed
	}
	if win.to.Before(win.from) {
		httpx.WriteError(w, httpx.RequestID(r), http.StatusBadRequest, "invalid_request", "from must not be after to")
		return window{}, false
	}
	return win, true
}

func requireReader(w http.ResponseWriter, r *http.Request) bool {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, httpx.RequestID(r), http.StatusUnauthorized, "unauthorized", "authentication required")
		return false
	}
	if !actor.HasAnyRole(readers...) {
		httpx.WriteError(w, httpx.RequestID(r), http.StatusForbidden, "access_denied", "access denied")
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("analytics handler", "error", err, "path", r.URL.Path)
	httpx.WriteError(w, httpx.RequestID(r), http.StatusInternalServerError, "internal_error", "internal server error")
}

func formatTime(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
