package middleware

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestLogger logs each HTTP request. Successful requests log at DEBUG,
// 5xx responses at WARN. Health probes are not logged. A nil logger disables it.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ping" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			level := zapcore.DebugLevel
			if wrapped.status >= http.StatusInternalServerError {
				level = zapcore.WarnLevel
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.status),
				zap.Int("bytes", wrapped.bytes),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if strings.HasPrefix(r.URL.Path, "/api/webhooks/") {
				fields = append(fields, zap.Bool("webhook", true))
			}
			logger.Log(level, "HTTP request", fields...)
		})
	}
}

// statusRecorder keeps the first status written; later WriteHeader calls are dropped.
type statusRecorder struct {
	http.ResponseWriter
	status        int
	bytes         int
	headerWritten bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if rw.headerWritten {
		return
	}
	rw.status = code
	rw.headerWritten = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if !rw.headerWritten {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}
