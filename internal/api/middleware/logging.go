// logging.go — журнал HTTP-запросов File Allocator через slog.
// Каждый запрос получает request_id (из X-Request-ID или новый UUID),
// в запись попадают шаблон маршрута и субъект из JWT.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader — заголовок идентификатора запроса.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLen — более длинный входящий идентификатор заменяется новым.
const maxRequestIDLen = 128

// responseWriter перехватывает статус-код и размер ответа.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap нужен http.ResponseController (flush при отдаче среза).
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// logEntry — поля записи, которые заполняются ниже по цепочке middleware.
type logEntry struct {
	requestID string
	subject   string
	role      string
}

type logEntryKey struct{}

func logEntryFromContext(ctx context.Context) *logEntry {
	entry, _ := ctx.Value(logEntryKey{}).(*logEntry)
	return entry
}

// RequestIDFromContext возвращает идентификатор текущего запроса.
func RequestIDFromContext(ctx context.Context) string {
	if entry := logEntryFromContext(ctx); entry != nil {
		return entry.requestID
	}
	return ""
}

func requestID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
	if id == "" || len(id) > maxRequestIDLen {
		return uuid.NewString()
	}
	return id
}

// isProbe — запросы Kubernetes и Prometheus пишутся на уровне DEBUG.
func isProbe(path string) bool {
	return strings.HasPrefix(path, "/health/") || path == "/metrics"
}

// RequestLogger возвращает middleware журнала запросов.
// Уровень: INFO (1xx-3xx), WARN (4xx), ERROR (5xx); health и metrics — DEBUG.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := &logEntry{requestID: requestID(r)}
			w.Header().Set(RequestIDHeader, entry.requestID)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), logEntryKey{}, entry)))

			level := slog.LevelInfo
			switch {
			case wrapped.statusCode >= 500:
				level = slog.LevelError
			case wrapped.statusCode >= 400:
				level = slog.LevelWarn
			case isProbe(r.URL.Path):
				level = slog.LevelDebug
			}

			attrs := []slog.Attr{
				slog.String("http_request_id", entry.requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", routePattern(r)),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
			}
			if entry.subject != "" {
				attrs = append(attrs, slog.String("subject", entry.subject), slog.String("role", entry.role))
			}
			attrs = append(attrs, slog.String("remote_addr", r.RemoteAddr))
			logger.LogAttrs(r.Context(), level, "HTTP запрос", attrs...)
		})
	}
}
