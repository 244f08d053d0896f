package middleware

import (
	"time"

	"github.com/annel0/voxel-lod/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDKey - ключ trace-ID в gin.Context и заголовок ответа
const TraceIDKey = "trace_id"

// RequestLogger снабжает запрос trace-ID и пишет краткий лог компонента api.
// Запросы к skipPaths (например, /health) пишутся только на DEBUG.
type RequestLogger struct {
	logger    *logging.Logger
	skipPaths map[string]bool
}

func NewRequestLogger(skipPaths ...string) *RequestLogger {
	rl := &RequestLogger{logger: logging.GetAPILogger(), skipPaths: make(map[string]bool)}
	for _, p := range skipPaths {
		rl.skipPaths[p] = true
	}
	return rl
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// trace-id из OpenTelemetry, если span уже создан
		span := trace.SpanFromContext(c.Request.Context())
		var traceID string
		if span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		} else {
			traceID = uuid.NewString()
		}
		c.Set(TraceIDKey, traceID)
		c.Header("X-Trace-Id", traceID)

		start := time.Now()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		if rl.skipPaths[path] {
			rl.logger.Debug("[HTTP] %s %s %d %s trace=%s", method, path, status, latency, traceID)
			return
		}
		if status >= 500 {
			rl.logger.Error("[HTTP] %s %s %d %s ip=%s trace=%s", method, path, status, latency, c.ClientIP(), traceID)
			return
		}
		rl.logger.Info("[HTTP] %s %s %d %s ip=%s trace=%s", method, path, status, latency, c.ClientIP(), traceID)
	}
}
