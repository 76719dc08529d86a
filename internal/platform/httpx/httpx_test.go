package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"urclec/internal/identity"
)

func TestDecodeRejectsUnknownFields(t *testing.T) {
	var target struct {
		Outcome string `json:"outcome"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"outcome":"approved","extra":1}`))
	req.Header.Set("X-Request-ID", "r-1")
	rec := httptest.NewRecorder()

	if Decode(rec, req, &target) {
		t.Fatalf("expected decode failure")
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Error.Code != "invalid_json" || resp.RequestID != "r-1" {
		t.Fatalf("unexpected error body %+v", resp)
	}
}

func TestPathID(t *testing.T) {
	cases := []struct {
		path, id, action string
	}{
		{"/api/requests/abc/decisions", "abc", "decisions"},
		{"/api/requests/abc", "abc", ""},
		{"/api/requests/abc/", "abc", ""},
		{"/api/requests/", "", ""},
	}
	for _, tt := range cases {
		id, action := PathID(tt.path, "/api/requests/")
		if id != tt.id || action != tt.action {
			t.Fatalf("PathID(%q)=(%q,%q), want (%q,%q)", tt.path, id, action, tt.id, tt.action)
		}
	}
}

func TestPagination(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?page=0&page_size=500", nil)
	page, size := Pagination(req)
	if page != 1 || size != 100 {
		t.Fatalf("got page=%d size=%d", page, size)
	}
	req = httptest.NewRequest(http.MethodGet, "/?page=3&page_size=abc", nil)
	page, size = Pagination(req)
	if page != 3 || size != 20 {
		t.Fatalf("got page=%d size=%d", page, size)
	}
}

func TestBearerToken(t *testing.T) {
	if got := BearerToken("Bearer abc"); got != "abc" {
		t.Fatalf("got %q", got)
	}
	for _, header := range []string{"", "abc", "Basic abc", "Bearer a b"} {
		if got := BearerToken(header); got != "" {
			t.Fatalf("BearerToken(%q)=%q", header, got)
		}
	}
}

func TestLoggingMiddlewareRecordsUser(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	metrics := NewMetrics("test")

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AnnotateUser(r.Context(), "u-42")
		w.WriteHeader(http.StatusConflict)
	})
	rec := httptest.NewRecorder()
	LoggingMiddleware(logger, metrics, inner).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/requests", nil))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if line["user_id"] != "u-42" || line["status"] != float64(http.StatusConflict) {
		t.Fatalf("unexpected log line %v", line)
	}

	mrec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(mrec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(mrec.Body)
	if !strings.Contains(string(body), `urclec_http_requests_total{method="POST",service="test",status_code="409"} 1`) {
		t.Fatalf("metrics missing request counter:\n%s", body)
	}
}

func TestLoggingMiddlewareKeepsFlusher(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatalf("wrapped writer lost http.Flusher")
		}
		_, _ = w.Write([]byte("chunk"))
		flusher.Flush()
	})
	rec := httptest.NewRecorder()
	LoggingMiddleware(logger, nil, inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/realtime/info", nil))
	if !rec.Flushed {
		t.Fatalf("flush did not reach the underlying writer")
	}
	if _, ok := interface{}(&statusWriter{ResponseWriter: rec}).(http.Hijacker); !ok {
		t.Fatalf("statusWriter should implement http.Hijacker")
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 1, IPBurst: 2})
	defer limiter.Stop()
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := []int{}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}

	spoofed := httptest.NewRequest(http.MethodGet, "/", nil)
	spoofed.RemoteAddr = "10.0.0.1:5556"
	spoofed.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, spoofed)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("forwarded header from an untrusted peer should not reset the limit: %d", rec.Code)
	}

	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "10.0.0.2:5555"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("other client limited: %d", rec.Code)
	}
}

func TestClientIPTrustedProxies(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.168.1.7 ", ""})
	if err != nil {
		t.Fatalf("parse proxies: %v", err)
	}
	if _, err := ParseTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Fatalf("expected parse error")
	}

	cases := []struct {
		name      string
		remote    string
		forwarded string
		want      string
	}{
		{"direct client", "203.0.113.5:4000", "", "203.0.113.5"},
		{"untrusted peer header ignored", "203.0.113.5:4000", "198.51.100.1", "203.0.113.5"},
		{"trusted proxy", "10.1.2.3:4000", "198.51.100.1", "198.51.100.1"},
		{"proxy chain", "10.1.2.3:4000", "198.51.100.1, 192.168.1.7", "198.51.100.1"},
		{"client spoofs left hop", "10.1.2.3:4000", "1.2.3.4, 198.51.100.1", "198.51.100.1"},
		{"only proxies", "10.1.2.3:4000", "10.9.9.9", "10.1.2.3"},
	}
	for _, tc := range cases {
		limiter := NewRateLimiter(RateLimitConfig{TrustedProxies: proxies})
		var got string
		handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = ClientIP(r)
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remote
		if tc.forwarded != "" {
			req.Header.Set("X-Forwarded-For", tc.forwarded)
		}
		handler.ServeHTTP(httptest.NewRecorder(), req)
		limiter.Stop()
		if got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}

	bare := httptest.NewRequest(http.MethodGet, "/", nil)
	bare.RemoteAddr = "203.0.113.5:4000"
	bare.Header.Set("X-Forwarded-For", "198.51.100.1")
	if got := ClientIP(bare); got != "203.0.113.5" {
		t.Fatalf("without the limiter ClientIP should use the peer, got %s", got)
	}
}

func TestRateLimiterPerUser(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{UserPerMinute: 1, UserBurst: 1})
	defer limiter.Stop()
	handler := limiter.UserMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	ctx := identity.WithIdentity(context.Background(), identity.Identity{UserID: "u-1"})
	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))
	if first.Code != http.StatusNoContent || second.Code != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %d %d", first.Code, second.Code)
	}

	anon := httptest.NewRecorder()
	handler.ServeHTTP(anon, httptest.NewRequest(http.MethodGet, "/", nil))
	if anon.Code != http.StatusNoContent {
		t.Fatalf("anonymous request limited: %d", anon.Code)
	}
}
