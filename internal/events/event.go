package events

import (
	"context"
	"log/slog"
	"time"
)

// Type names a connection lifecycle event.
type Type string

const (
	Connecting        Type = "connecting"
	Connected         Type = "connected"
	Identified        Type = "identified"
	Disconnected      Type = "disconnected"
	ConnectFailed     Type = "connect_failed"
	Timeout           Type = "timeout"
	PingFailed        Type = "ping_failed"
	Malformed         Type = "malformed"
	EndpointsReplaced Type = "endpoints_replaced"
	Paused            Type = "paused"
	Resumed           Type = "resumed"
)

// Event is one connection lifecycle occurrence.
type Event struct {
	ID        string    `json:"id,omitempty"`
	SessionID string    `json:"session_id"`
	Type      Type      `json:"type"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Time      time.Time `json:"timestamp"`
}

// Sink receives events. Emit is called from the connection loop and from
// callers of the client; implementations must not block for long.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) {})

// LogSink writes events through slog. Failures log at warn, the rest at
// info; malformed frames log at debug since a hostile server can flood them.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ctx context.Context, e Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	switch e.Type {
	case ConnectFailed, Timeout, PingFailed:
		level = slog.LevelWarn
	case Malformed:
		level = slog.LevelDebug
	}
	attrs := []any{"type", string(e.Type)}
	if e.Endpoint != "" {
		attrs = append(attrs, "endpoint", e.Endpoint)
	}
	if e.Detail != "" {
		attrs = append(attrs, "detail", e.Detail)
	}
	if e.SessionID != "" {
		attrs = append(attrs, "session", e.SessionID)
	}
	logger.Log(ctx, level, "electrum connection event", attrs...)
}

// Multi fans one event out to several sinks in order.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}
