// Package audit fans audit entries out to an external sink. Emission is
// fire-and-forget: the primary store append is the durability boundary,
// and sink failures are observability-only.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Event is one audit record as it is handed to an external sink.
type Event map[string]any

// Sink delivers audit events to an external destination. Emit errors
// are reported to the caller so SafeEmit can log them, but they must
// never block or roll back the primary audit append.
type Sink interface {
	Emit(event Event) error
}

// NoopSink discards every event.
type NoopSink struct{}

func (NoopSink) Emit(Event) error { return nil }

// SafeEmit delivers an event to the sink and swallows any failure,
// logging it at warn level. This is the only way the service layer
// talks to a sink.
func SafeEmit(sink Sink, event Event) {
	if sink == nil {
		return
	}
	if err := sink.Emit(event); err != nil {
		slog.Warn("audit sink emit failed", "error", err)
	}
}

func encodeEvent(event Event) ([]byte, error) {
	encoded, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal audit event: %w", err)
	}
	return encoded, nil
}
