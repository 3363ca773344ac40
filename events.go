package sessioncore

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Lifecycle event names emitted by the engine. Delivery is fire-and-forget
// and at-least-once; idempotent consumption is the subscriber's job.
const (
	EventSessionCreated    = "session.created"
	EventSessionExtended   = "session.extended"
	EventSessionDestroyed  = "session.destroyed"
	EventSessionEvicted    = "session.evicted"
	EventSessionExpired    = "session.expired"
	EventMemoryWarning     = "session.memory_warning"
	EventContextPropagated = "session.context_propagated"
	EventRecoveryInitiated = "session.recovery_initiated"
	EventUsageAggregated   = "session.usage_aggregated"
)

// LifecycleEvent is the payload published on the event bus for every
// observable session transition.
type LifecycleEvent struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	Event          string         `json:"event"`
	SessionID      string         `json:"session_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	OrganizationID string         `json:"organization_id,omitempty"`
	Module         string         `json:"module,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// EventSink receives lifecycle events. Implementations must not block for
// long; the dispatcher delivers from a single goroutine.
type EventSink interface {
	Emit(ctx context.Context, event LifecycleEvent)
}

// NoOpSink discards all events.
type NoOpSink struct{}

// Emit discards the event.
func (NoOpSink) Emit(context.Context, LifecycleEvent) {}

// ChannelSink forwards events to a buffered channel, typically for tests or
// in-process subscribers.
type ChannelSink struct {
	events chan LifecycleEvent
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan LifecycleEvent, buffer),
	}
}

// Emit forwards the event, giving up when ctx is done.
func (s *ChannelSink) Emit(ctx context.Context, event LifecycleEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan LifecycleEvent {
	return s.events
}

// JSONWriterSink writes events as JSON lines to an io.Writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink creates a JSONWriterSink over w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

// Emit writes one JSON line per event. Marshal failures are dropped.
func (s *JSONWriterSink) Emit(ctx context.Context, event LifecycleEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
