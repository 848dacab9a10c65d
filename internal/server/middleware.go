package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ocrd-io/ocrd/internal/metrics"
)

// HeaderRequestID is echoed back on every response. Inbound values are
// honored so upstream proxies can correlate their own logs.
const HeaderRequestID = "X-Request-ID"

const ctxKeyRequestID = "request_id"

// Context keys handlers use to enrich the access log.
const (
	logKeyFileName         = "file_name"
	logKeyFileSize         = "file_size"
	logKeyBackendStatus    = "backend_status_code"
	logKeyBackendClass     = "backend_error_class"
	logKeyBackendLatencyMS = "backend_latency_ms"
)

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxKeyRequestID, id)
		c.Writer.Header().Set(HeaderRequestID, id)
		c.Next()
	}
}

func requestIDFrom(c *gin.Context) string {
	return c.GetString(ctxKeyRequestID)
}

// accessLog emits one structured line per request and feeds the API metrics.
func accessLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.IncAPIRequest(route, c.Request.Method, status)
		metrics.ObserveAPIDuration(route, elapsed.Seconds())

		args := []any{
			"request_id", requestIDFrom(c),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status_code", status,
			"duration_ms", elapsed.Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		for _, k := range []string{logKeyFileName, logKeyFileSize, logKeyBackendStatus, logKeyBackendClass, logKeyBackendLatencyMS} {
			if v, ok := c.Get(k); ok {
				args = append(args, k, v)
			}
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request", args...)
			return
		}
		logger.Info("request", args...)
	}
}
