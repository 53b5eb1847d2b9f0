package log

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Logger records one entry per request on a child logger called name. The level
// follows the status: errors for 5xx, warnings for 4xx, debug for health and metrics
// polling, info otherwise. Websocket upgrades are logged as 101 once the stream ends.
func Logger(l *zap.Logger, name string) func(next http.Handler) http.Handler {
	if l == nil {
		panic("log.Logger received a nil *zap.Logger")
	}
	logger := l.WithOptions(zap.AddCallerSkip(1)).Named(name)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logRequest(logger, r, ww, time.Since(start))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// ConditionalLogger enables Logger at debug level only.
func ConditionalLogger(logLevel string, l *zap.Logger, name string) func(next http.Handler) http.Handler {
	if l == nil {
		panic("log.ConditionalLogger received a nil *zap.Logger")
	}
	if strings.EqualFold(logLevel, "debug") {
		return Logger(l, name)
	}
	return func(next http.Handler) http.Handler {
		return next
	}
}

func logRequest(logger *zap.Logger, r *http.Request, ww middleware.WrapResponseWriter, latency time.Duration) {
	code := ww.Status()
	if code == 0 && isUpgrade(r) {
		// hijacked by the websocket upgrader
		code = http.StatusSwitchingProtocols
	}

	msg := fmt.Sprintf("%s %s", r.Method, r.URL.Path)
	fields := []zap.Field{
		zap.String("type", "http_request"),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("http_method", r.Method),
		zap.String("http_path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("http_status_code", code),
		zap.String("http_status_class", statusClass(code)),
		zap.Int64("response_bytes", int64(ww.BytesWritten())),
		zap.Duration("latency", latency),
	}

	switch {
	case code >= 500:
		logger.Error(msg, fields...)
	case code >= 400:
		logger.Warn(msg, fields...)
	case isQuiet(r.Method, r.URL.Path):
		logger.Debug(msg, fields...)
	default:
		logger.Info(msg, fields...)
	}
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func isQuiet(method string, path string) bool {
	return method == http.MethodGet && (path == "/health" || path == "/metrics")
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return fmt.Sprintf("%dxx", code/100)
}
