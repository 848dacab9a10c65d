package client

import "fmt"

// OCRResult is the decoded response of POST /v1/ocr.
type OCRResult struct {
	RequestID    string `json:"request_id"`
	Model        string `json:"model"`
	Markdown     string `json:"markdown"`
	ProcessingMS int64  `json:"processing_ms"`
}

// Readiness is the decoded response of GET /readyz. Status is "ready" or
// "unavailable".
type Readiness struct {
	Status string `json:"status"`
	Model  string `json:"model,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Ready reports whether the backend answered the readiness check.
func (r Readiness) Ready() bool { return r.Status == "ready" }

// APIError is a non-2xx API response decoded from the error contract.
type APIError struct {
	StatusCode int    `json:"-"`
	RequestID  string `json:"request_id"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.ErrorCode == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	if e.RequestID != "" {
		return fmt.Sprintf("%s: %s (request %s)", e.ErrorCode, e.Message, e.RequestID)
	}
	return fmt.Sprintf("%s: %s", e.ErrorCode, e.Message)
}
