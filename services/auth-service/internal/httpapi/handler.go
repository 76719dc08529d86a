package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"urclec/internal/identity"
	"urclec/internal/platform/httpx"
	"urclec/internal/platform/session"
	"urclec/services/auth-service/internal/models"
	"urclec/services/auth-service/internal/store"
)

// TokenIssuer signs access tokens for new sessions.
type TokenIssuer interface {
	Issue(sessionID, userID string, expiresAt time.Time) (string, error)
}

// Invalidator drops cached identities; nil when no cache is configured.
type Invalidator interface {
	Invalidate(ctx context.Context, sessionID string) error
}

type Handler struct {
	store       store.Store
	issuer      TokenIssuer
	invalidator Invalidator
	sessionTTL  time.Duration
	metrics     *httpx.Metrics
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresAt   string      `json:"expires_at"`
	User        models.User `json:"user"`
}

func NewHandler(store store.Store, issuer TokenIssuer, invalidator Invalidator, sessionTTL time.Duration, metrics *httpx.Metrics) *Handler {
	if sessionTTL <= 0 {
		sessionTTL = 8 * time.Hour
	}
	return &Handler{store: store, issuer: issuer, invalidator: invalidator, sessionTTL: sessionTTL, metrics: metrics}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/me", h.handleMe)
	mux.HandleFunc("/api/auth/logout", h.handleLogout)
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics.Handler())
	}
	return mux
}

// Public lets login through the session middleware alongside the probes.
func Public(r *http.Request) bool {
	return r.URL.Path == "/api/auth/login" || session.Public(r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.MethodNotAllowed(w, http.MethodGet)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.MethodNotAllowed(w, http.MethodPost)
		return
	}
	requestID := httpx.RequestID(r)

	var req loginRequest
	if !httpx.Decode(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, requestID, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	result, err := h.store.Login(r.Context(), store.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		TTL:       h.sessionTTL,
		IP:        httpx.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidCredentials) {
			h.metrics.Event("login", "invalid_credentials")
			httpx.WriteError(w, requestID, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		slog.Error("login", "error", err, "request_id", requestID)
		h.metrics.Event("login", "internal_error")
		httpx.WriteError(w, requestID, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	token, err := h.issuer.Issue(result.Session.SessionID, result.User.UserID, result.Session.ExpiresAt)
	if err != nil {
		slog.Error("issue token", "error", err, "request_id", requestID)
		httpx.WriteError(w, requestID, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	h.metrics.Event("login", "ok")
	httpx.WriteJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   result.Session.ExpiresAt.Format(time.RFC3339),
		User:        result.User,
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.MethodNotAllowed(w, http.MethodGet)
		return
	}
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, httpx.RequestID(r), http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	user, err := h.store.GetUser(r.Context(), actor.UserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			httpx.WriteError(w, httpx.RequestID(r), http.StatusUnauthorized, "unauthorized", "user is no longer active")
			return
		}
		slog.Error("me", "error", err)
		httpx.WriteError(w, httpx.RequestID(r), http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.MethodNotAllowed(w, http.MethodPost)
		return
	}
	actor, ok := identity.FromContext(r.Context())
	if !ok || actor.SessionID == "" {
		httpx.WriteError(w, httpx.RequestID(r), http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	if err := h.store.RevokeSession(r.Context(), actor.SessionID); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		slog.Error("logout", "error", err)
		httpx.WriteError(w, httpx.RequestID(r), http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	if h.invalidator != nil {
		if err := h.invalidator.Invalidate(r.Context(), actor.SessionID); err != nil {
			slog.Warn("invalidate session cache", "error", err)
		}
	}
	h.metrics.Event("logout", "ok")
	w.WriteHeader(http.StatusNoContent)
}
