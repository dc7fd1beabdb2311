package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/revittco/electrumlink/internal/store"
)

// Recorder persists events to the event log and publishes them on the bus.
type Recorder struct {
	store     store.EventStore
	bus       *Bus
	sessionID string
}

// NewRecorder creates a Recorder. The bus parameter is optional (nil-safe).
func NewRecorder(s store.EventStore, bus *Bus, sessionID string) *Recorder {
	return &Recorder{store: s, bus: bus, sessionID: sessionID}
}

// Emit implements Sink. A failed insert is logged and the event is still
// published.
func (r *Recorder) Emit(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if e.SessionID == "" {
		e.SessionID = r.sessionID
	}

	rec := &store.ConnectionEvent{
		ID:        e.ID,
		SessionID: e.SessionID,
		Type:      string(e.Type),
		Endpoint:  e.Endpoint,
		Detail:    e.Detail,
		Timestamp: e.Time,
	}
	// The caller's context may already be cancelled during shutdown.
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.InsertEvent(insertCtx, rec); err != nil {
		slog.Warn("record connection event", "type", e.Type, "error", err)
	}
	if r.bus != nil {
		r.bus.Publish(e)
	}
}

// FromRecord converts a stored row back to an Event.
func FromRecord(rec store.ConnectionEvent) Event {
	return Event{
		ID:        rec.ID,
		SessionID: rec.SessionID,
		Type:      Type(rec.Type),
		Endpoint:  rec.Endpoint,
		Detail:    rec.Detail,
		Time:      rec.Timestamp,
	}
}
