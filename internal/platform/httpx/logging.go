package httpx

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush and Hijack keep streaming and WebSocket handlers working behind the
// access log.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

type accessLogKey struct{}

type accessLog struct {
	userID string
}

// AnnotateUser attaches the authenticated user to the access log line of the
// request carried by ctx. Middleware further down the chain calls it once
// the session is resolved.
func AnnotateUser(ctx context.Context, userID string) {
	if entry, ok := ctx.Value(accessLogKey{}).(*accessLog); ok {
		entry.userID = userID
	}
}

// LoggingMiddleware writes one access log line per request and feeds the
// request counters. metrics may be nil.
func LoggingMiddleware(logger *slog.Logger, metrics *Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		entry := &accessLog{}
		writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(writer, r.WithContext(context.WithValue(r.Context(), accessLogKey{}, entry)))
		duration := time.Since(start)

		if metrics != nil {
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(writer.status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method).Observe(duration.Seconds())
		}

		level := slog.LevelInfo
		if writer.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", duration.Milliseconds(),
			"request_id", RequestID(r),
			"user_id", entry.userID,
		)
	})
}
