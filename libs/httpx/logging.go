package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

type statusCapturingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusCapturingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusCapturingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

type logAttrs struct {
	mu    sync.Mutex
	attrs []any
}

// AddLogAttr attaches a key/value to the access log line of the current
// request. It is a no-op outside WithAccessLog.
func AddLogAttr(ctx context.Context, key string, value any) {
	la, _ := ctx.Value(ctxKeyLogAttrs).(*logAttrs)
	if la == nil {
		return
	}
	la.mu.Lock()
	la.attrs = append(la.attrs, key, value)
	la.mu.Unlock()
}

func WithAccessLog(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusCapturingResponseWriter{ResponseWriter: w}
			la := &logAttrs{}

			next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), ctxKeyLogAttrs, la)))

			args := []any{
				"request_id", RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"bytes", sw.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			la.mu.Lock()
			args = append(args, la.attrs...)
			la.mu.Unlock()
			logger.Info("http request", args...)
		})
	}
}
