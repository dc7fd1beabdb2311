package store

import (
	"context"
	"time"
)

// Store is the composite interface for all data access.
type Store interface {
	ServerStore
	EventStore
	SessionStore
	Tx(ctx context.Context, fn func(Store) error) error
	Ping(ctx context.Context) error
	Close() error
}

// ServerStore manages the persisted endpoint pool.
type ServerStore interface {
	CreateServer(ctx context.Context, s *Server) error
	GetServer(ctx context.Context, id string) (*Server, error)
	GetServerByAddress(ctx context.Context, host string, port int) (*Server, error)
	ListServers(ctx context.Context) ([]Server, error)
	UpdateServer(ctx context.Context, s *Server) error
	DeleteServer(ctx context.Context, id string) error
	// ReplaceServers deletes every row and inserts servers in order.
	ReplaceServers(ctx context.Context, servers []Server) error
}

// EventStore manages the connection event log.
type EventStore interface {
	InsertEvent(ctx context.Context, e *ConnectionEvent) error
	QueryEvents(ctx context.Context, f EventFilter) ([]ConnectionEvent, int, error)
	PruneEvents(ctx context.Context, before time.Time) (int, error)
}

// SessionStore manages client session records.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	EndSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context, limit int) ([]Session, error)
	CleanupStaleSessions(ctx context.Context, before time.Time) (int, error)
}
