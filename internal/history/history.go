package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// EventType defines the kind of launch lifecycle event.
type EventType string

const (
	EventLaunchStarted EventType = "launch_started"
	EventBackendReady  EventType = "backend_ready"
	EventBackendExited EventType = "backend_exited"
	EventLaunchTimeout EventType = "launch_timeout"
	EventHandoff       EventType = "handoff"
)

// Record identifies the launch an event belongs to and captures its state
// at the moment the event fired.
type Record struct {
	LaunchID    string `json:"launch_id"`
	Command     string `json:"command"`
	PID         int    `json:"pid"`
	APIPort     int    `json:"api_port"`
	BackendPort int    `json:"backend_port"`
	Probes      int    `json:"probes"`
	Detail      string `json:"detail,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// NewEvent stamps rec with the current UTC time.
func NewEvent(t EventType, rec Record) Event {
	return Event{Type: t, OccurredAt: time.Now().UTC(), Record: rec}
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// sendTimeout bounds one delivery attempt per sink.
const sendTimeout = 5 * time.Second

// Recorder fans launch events out to the configured sinks. Deliveries are
// best-effort: a failing sink is logged and never fails the launch path.
type Recorder struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRecorder creates a recorder over sinks. A recorder with no sinks is
// valid and records nothing.
func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sinks: sinks, logger: logger}
}

// Record delivers e to every sink.
func (r *Recorder) Record(e Event) {
	for _, s := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := s.Send(ctx, e); err != nil {
			r.logger.Warn("history sink send failed", "type", string(e.Type), "error", err)
		}
		cancel()
	}
}

// Close closes every sink that supports it.
func (r *Recorder) Close() error {
	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
