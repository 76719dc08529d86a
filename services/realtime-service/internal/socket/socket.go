// Package socket serves the SockJS endpoint dashboards connect to.
package socket

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"

	"urclec/internal/identity"
	"urclec/internal/platform/httpx"
	"urclec/internal/platform/session"
	"urclec/services/realtime-service/internal/hub"
)

const (
	closeMissingToken  = 4001
	closeInvalidToken  = 4002
	closeInternalError = 4500
)

// sockConn is the part of sockjs.Session the endpoint uses.
type sockConn interface {
	Request() *http.Request
	Recv() (string, error)
	Send(string) error
	Close(status uint32, reason string) error
}

type Authenticator interface {
	AuthenticateToken(r *http.Request, token string) (identity.Identity, error)
}

// NewHandler mounts SockJS under prefix. Browsers cannot set headers on the
// WebSocket transport, so the access token may also come as ?token=.
func NewHandler(prefix string, auth Authenticator, h *hub.Hub, metrics *httpx.Metrics) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, func(s sockjs.Session) {
		serve(s, auth, h, metrics)
	})
}

func serve(conn sockConn, auth Authenticator, h *hub.Hub, metrics *httpx.Metrics) {
	req := conn.Request()
	token := TokenFromRequest(req)
	if token == "" {
		metrics.Event("realtime_connect", "missing_token")
		_ = conn.Close(closeMissingToken, "missing token")
		return
	}
	user, err := auth.AuthenticateToken(req, token)
	if err != nil {
		if errors.Is(err, session.ErrInvalidToken) || errors.Is(err, session.ErrSessionNotFound) {
			metrics.Event("realtime_connect", "unauthorized")
			_ = conn.Close(closeInvalidToken, "invalid session")
			return
		}
		slog.Error("realtime auth", "error", err)
		_ = conn.Close(closeInternalError, "session lookup failed")
		return
	}
	metrics.Event("realtime_connect", "ok")

	client := &hub.Client{ID: uuid.NewString(), UserID: user.UserID, Send: make(chan []byte, 16)}
	h.Register(client)
	defer h.Unregister(client)

	go func() {
		for msg := range client.Send {
			if err := conn.Send(string(msg)); err != nil {
				return
			}
		}
	}()

	for {
		msg, err := conn.Recv()
		if err != nil {
			return
		}
		if parsed, ok := hub.ParseSubscribe([]byte(msg)); ok {
			h.UpdateSubscription(client, parsed.Subscription())
		}
	}
}

func TokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := httpx.BearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
