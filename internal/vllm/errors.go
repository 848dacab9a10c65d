package vllm

import (
	"fmt"
	"time"
)

// Machine-readable classes attached to backend errors. They surface in API
// error bodies and access logs as backend_error_class.
const (
	ClassConnection     = "vllm_connection_error"
	ClassRequestTimeout = "vllm_request_timeout"
	ClassStartupTimeout = "vllm_startup_timeout"
	ClassBadStatus      = "vllm_bad_status"
	ClassBadPayload     = "vllm_bad_payload"
)

// Error describes a failed interaction with the inference backend.
type Error struct {
	Message    string
	Class      string
	StatusCode int           // backend HTTP status when one was received
	Latency    time.Duration // time spent on the attempt
	Detail     string        // extra context, e.g. the last readiness failure
	Err        error         // wrapped cause
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Detail)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline, either on a single
// request or on the whole startup wait.
func (e *Error) Timeout() bool {
	return e.Class == ClassRequestTimeout || e.Class == ClassStartupTimeout
}
