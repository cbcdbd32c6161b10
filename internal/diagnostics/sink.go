// Package diagnostics streams per-stage pipeline events to pluggable sinks:
// the structured log and any connected websocket observers.
package diagnostics

import (
	"time"

	"memfuse/internal/logging"
)

// Event is a single per-stage diagnostics record. Events for one query are
// emitted in stage order.
type Event struct {
	TraceID    string        `json:"trace_id"`
	Stage      string        `json:"stage"`
	Duration   time.Duration `json:"duration"`
	Candidates int           `json:"candidates"`
	Note       string        `json:"note,omitempty"`
	Time       time.Time     `json:"time"`
}

// Sink receives diagnostics events. Implementations must not block the
// pipeline; slow consumers drop events.
type Sink interface {
	Emit(event Event)
}

// LogSink writes events to the structured log at debug level
type LogSink struct {
	logger logging.Logger
}

// NewLogSink creates a log-backed sink
func NewLogSink(logger logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &LogSink{logger: logger.WithComponent("diagnostics")}
}

// Emit logs the event
func (s *LogSink) Emit(event Event) {
	s.logger.Debug("stage complete",
		"trace_id", event.TraceID,
		"stage", event.Stage,
		"duration_ms", event.Duration.Milliseconds(),
		"candidates", event.Candidates,
		"note", event.Note,
	)
}

// MultiSink fans events out to several sinks
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks; nil entries are skipped
func NewMultiSink(sinks ...Sink) *MultiSink {
	ms := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			ms.sinks = append(ms.sinks, s)
		}
	}
	return ms
}

// Emit forwards the event to every sink
func (m *MultiSink) Emit(event Event) {
	for _, s := range m.sinks {
		s.Emit(event)
	}
}

// NoopSink discards all events
type NoopSink struct{}

// Emit discards the event
func (NoopSink) Emit(Event) {}
