package client

import "errors"

var (
	// ErrTimeout is returned when no reply arrives within the current
	// timeout tier. The connection it was sent on is marked down.
	ErrTimeout = errors.New("request timed out")

	// ErrClosed is returned by calls blocked or made after the client stopped.
	ErrClosed = errors.New("client closed")

	// ErrNotStarted is returned by Close on a client that was never started.
	ErrNotStarted = errors.New("client not started")

	// ErrAlreadyStarted is returned by a second Start or Run.
	ErrAlreadyStarted = errors.New("client already started")

	// errSuperseded aborts a connection set up against an endpoint list
	// that was replaced in the meantime.
	errSuperseded = errors.New("endpoint list replaced during setup")
)
