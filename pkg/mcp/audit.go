package mcp

import (
	"log/slog"
	"time"
)

// AuditEvent is a fire-and-forget record of one tool invocation.
type AuditEvent struct {
	Tool      string    `json:"tool"`
	Outcome   string    `json:"outcome"` // "ok" or the failure code
	Args      string    `json:"args,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditSink receives invocation events. Emit must never block the caller
// and must never surface errors into the request path.
type AuditSink interface {
	Emit(event AuditEvent)
}

// ChannelSink buffers events on a channel for a background consumer.
// When the buffer is full the event is dropped with a debug log.
type ChannelSink struct {
	events chan AuditEvent
	log    *slog.Logger
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int, log *slog.Logger) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	if log == nil {
		log = slog.Default()
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
		log:    log,
	}
}

// Emit enqueues the event without blocking.
func (s *ChannelSink) Emit(event AuditEvent) {
	select {
	case s.events <- event:
	default:
		s.log.Debug("audit buffer full, event dropped", "tool", event.Tool)
	}
}

// Events exposes the stream for a consumer.
func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(AuditEvent) {}
