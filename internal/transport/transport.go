package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/revittco/electrumlink/internal/endpoint"
)

// ErrClosed is returned by reads and writes on a closed connection.
var ErrClosed = errors.New("connection closed")

const (
	initialBufSize = 1024 * 1024
	// Transaction and history payloads can be large.
	maxLineSize = 32 * 1024 * 1024
)

// Dialer opens connections to endpoints.
type Dialer struct {
	// TLS wraps the socket in TLS using the platform's default trust store
	// unless TLSConfig overrides it.
	TLS       bool
	TLSConfig *tls.Config
}

// Dial connects to ep. timeout bounds the dial and handshake and becomes
// the initial read timeout of the returned Conn.
func (d Dialer) Dial(ctx context.Context, ep endpoint.Endpoint, timeout time.Duration) (*Conn, error) {
	nd := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}

	var (
		raw net.Conn
		err error
	)
	if d.TLS {
		cfg := d.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		} else {
			cfg = cfg.Clone()
		}
		if cfg.ServerName == "" {
			cfg.ServerName = ep.Host
		}
		td := &tls.Dialer{NetDialer: nd, Config: cfg}
		raw, err = td.DialContext(ctx, "tcp", ep.Address())
	} else {
		raw, err = nd.DialContext(ctx, "tcp", ep.Address())
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep, err)
	}
	return newConn(raw, ep, timeout), nil
}

// Conn is one live socket with its line reader and writer. All three share
// a lifetime: Close releases them together.
type Conn struct {
	endpoint endpoint.Endpoint
	raw      net.Conn
	scanner  *bufio.Scanner

	readTimeout atomic.Int64

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    atomic.Bool
}

func newConn(raw net.Conn, ep endpoint.Endpoint, readTimeout time.Duration) *Conn {
	sc := bufio.NewScanner(raw)
	sc.Buffer(make([]byte, 0, initialBufSize), maxLineSize)
	c := &Conn{endpoint: ep, raw: raw, scanner: sc}
	c.readTimeout.Store(int64(readTimeout))
	return c
}

// NewConn wraps an established socket. Used by tests and by callers that
// dial through their own means.
func NewConn(raw net.Conn, ep endpoint.Endpoint, readTimeout time.Duration) *Conn {
	return newConn(raw, ep, readTimeout)
}

// Endpoint returns the endpoint this connection was dialed to.
func (c *Conn) Endpoint() endpoint.Endpoint {
	return c.endpoint
}

// SetReadTimeout changes the per-read timeout. Zero disables it.
func (c *Conn) SetReadTimeout(d time.Duration) {
	c.readTimeout.Store(int64(d))
}

// ReadLine blocks until a full newline-terminated frame arrives and returns
// it without the terminator. The returned slice is only valid until the
// next call. io.EOF is returned when the peer closes cleanly.
func (c *Conn) ReadLine() ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if d := time.Duration(c.readTimeout.Load()); d > 0 {
		if err := c.raw.SetReadDeadline(time.Now().Add(d)); err != nil {
			return nil, err
		}
	}
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return c.scanner.Bytes(), nil
}

// WriteLine writes data followed by a newline. Concurrent writers are
// serialized so frames never interleave.
func (c *Conn) WriteLine(data []byte, timeout time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if timeout > 0 {
		if err := c.raw.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, data...)
	buf = append(buf, '\n')
	_, err := c.raw.Write(buf)
	return err
}

// Close is idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.raw.Close()
	})
	return err
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}
