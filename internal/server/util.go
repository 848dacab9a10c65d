package server

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
)

// Error codes carried by every non-2xx response body.
const (
	codeInvalidRequest       = "invalid_request"
	codePayloadTooLarge      = "payload_too_large"
	codeUnsupportedMediaType = "unsupported_media_type"
	codeBackendTimeout       = "backend_timeout"
	codeBackendError         = "backend_error"
	codeInternalError        = "internal_error"
)

type errorResponse struct {
	RequestID string `json:"request_id"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

func writeError(c *gin.Context, status int, code, msg string) {
	writeJSON(c, status, errorResponse{
		RequestID: requestIDFrom(c),
		ErrorCode: code,
		Message:   msg,
	})
	c.Abort()
}
