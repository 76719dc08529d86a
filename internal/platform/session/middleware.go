package session

import (
	"errors"
	"log/slog"
	"net/http"

	"urclec/internal/identity"
	"urclec/internal/platform/httpx"
)

type Middleware struct {
	issuer   *Issuer
	resolver Resolver
	public   func(*http.Request) bool
}

// NewMiddleware authenticates every request except those public reports true
// for. public may be nil.
func NewMiddleware(issuer *Issuer, resolver Resolver, public func(*http.Request) bool) *Middleware {
	if public == nil {
		public = func(*http.Request) bool { return false }
	}
	return &Middleware{issuer: issuer, resolver: resolver, public: public}
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.public(r) {
			next.ServeHTTP(w, r)
			return
		}
		id, err := m.Authenticate(r)
		if err != nil {
			switch {
			case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrSessionNotFound):
				httpx.WriteError(w, httpx.RequestID(r), http.StatusUnauthorized, "unauthorized", err.Error())
			default:
				slog.Error("session lookup", "error", err)
				httpx.WriteError(w, httpx.RequestID(r), http.StatusInternalServerError, "internal_error", "internal server error")
			}
			return
		}
		httpx.AnnotateUser(r.Context(), id.UserID)
		next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
	})
}

// Authenticate resolves the identity behind the request's bearer token.
func (m *Middleware) Authenticate(r *http.Request) (identity.Identity, error) {
	token := httpx.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return identity.Identity{}, ErrInvalidToken
	}
	return m.AuthenticateToken(r, token)
}

func (m *Middleware) AuthenticateToken(r *http.Request, token string) (identity.Identity, error) {
	claims, err := m.issuer.Parse(token)
	if err != nil {
		return identity.Identity{}, err
	}
	id, err := m.resolver.Resolve(r.Context(), claims.SessionID)
	if err != nil {
		return identity.Identity{}, err
	}
	if id.UserID != claims.Subject {
		return identity.Identity{}, ErrInvalidToken
	}
	id.SessionID = claims.SessionID
	return id, nil
}

// Public matches health and metrics probes plus CORS preflights.
func Public(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	default:
		return r.Method == http.MethodOptions
	}
}
