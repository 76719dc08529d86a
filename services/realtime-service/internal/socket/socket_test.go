package socket

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"urclec/internal/identity"
	"urclec/internal/platform/session"
	"urclec/services/realtime-service/internal/hub"
)

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header string
		want   string
	}{
		{"header", "/realtime/info", "Bearer abc", "abc"},
		{"query", "/realtime/123/xyz/websocket?token=def", "", "def"},
		{"header wins", "/realtime/info?token=def", "Bearer abc", "abc"},
		{"malformed header falls back", "/realtime/info?token=def", "Token abc", "def"},
		{"none", "/realtime/info", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.url, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if got := TokenFromRequest(req); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
	if got := TokenFromRequest(nil); got != "" {
		t.Fatalf("expected empty token for nil request")
	}
}

type fakeConn struct {
	req    *http.Request
	in     chan string
	out    chan string
	closed uint32
}

func (c *fakeConn) Request() *http.Request { return c.req }

func (c *fakeConn) Recv() (string, error) {
	msg, ok := <-c.in
	if !ok {
		return "", errors.New("closed")
	}
	return msg, nil
}

func (c *fakeConn) Send(msg string) error {
	c.out <- msg
	return nil
}

func (c *fakeConn) Close(status uint32, reason string) error {
	c.closed = status
	return nil
}

type authFunc func(r *http.Request, token string) (identity.Identity, error)

func (f authFunc) AuthenticateToken(r *http.Request, token string) (identity.Identity, error) {
	return f(r, token)
}

var auth = authFunc(func(r *http.Request, token string) (identity.Identity, error) {
	if token != "good" {
		return identity.Identity{}, session.ErrSessionNotFound
	}
	return identity.Identity{UserID: "alice"}, nil
})

func newConn(url string) *fakeConn {
	return &fakeConn{req: httptest.NewRequest("GET", url, nil), in: make(chan string), out: make(chan string, 4)}
}

func TestServeRejectsBadTokens(t *testing.T) {
	h := hub.New()
	missing := newConn("/realtime/1/2/websocket")
	serve(missing, auth, h, nil)
	if missing.closed != closeMissingToken {
		t.Fatalf("expected %d, got %d", closeMissingToken, missing.closed)
	}
	bad := newConn("/realtime/1/2/websocket?token=bad")
	serve(bad, auth, h, nil)
	if bad.closed != closeInvalidToken {
		t.Fatalf("expected %d, got %d", closeInvalidToken, bad.closed)
	}
	if h.Connected() != 0 {
		t.Fatalf("rejected connections must not register")
	}
}

func TestServeRegistersAndForwards(t *testing.T) {
	h := hub.New()
	c := newConn("/realtime/1/2/websocket?token=good")
	done := make(chan struct{})
	go func() {
		serve(c, auth, h, nil)
		close(done)
	}()

	c.in <- `{"action":"subscribe","topics":["requests"]}`
	// Recv is sequential: once the ping is taken the subscription is in place.
	c.in <- "ping"
	if h.SendTo([]string{"alice"}, hub.TopicEquipment, []byte("skip")) != 0 {
		t.Fatalf("equipment events should be filtered")
	}
	if h.SendTo([]string{"alice"}, hub.TopicRequests, []byte("refresh")) != 1 {
		t.Fatalf("expected delivery to alice")
	}
	select {
	case msg := <-c.out:
		if msg != "refresh" {
			t.Fatalf("unexpected message %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("message not forwarded")
	}

	close(c.in)
	<-done
	if h.Connected() != 0 {
		t.Fatalf("client should unregister on disconnect")
	}
}
