package store

import (
	"net"
	"strconv"
	"time"
)

// Server is one persisted endpoint of the pool. Position orders the pool.
type Server struct {
	ID        string    `json:"id"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Position  int       `json:"position"`
	Disabled  bool      `json:"disabled"`
	Source    string    `json:"source"` // "default", "yaml" or "api"
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Address returns host:port.
func (s Server) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ConnectionEvent is one entry of the connection lifecycle log.
type ConnectionEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFilter specifies query parameters for listing connection events.
type EventFilter struct {
	SessionID *string    `json:"session_id,omitempty"`
	Type      *string    `json:"type,omitempty"`
	Endpoint  *string    `json:"endpoint,omitempty"`
	After     *time.Time `json:"after,omitempty"`
	Before    *time.Time `json:"before,omitempty"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

// Session is one run of the client, from start to shutdown.
type Session struct {
	ID              string     `json:"id"`
	ClientName      string     `json:"client_name"`
	ProtocolVersion string     `json:"protocol_version"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}
