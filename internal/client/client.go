package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/revittco/electrumlink/internal/endpoint"
	"github.com/revittco/electrumlink/internal/events"
	"github.com/revittco/electrumlink/internal/jsonrpc"
	"github.com/revittco/electrumlink/internal/ping"
	"github.com/revittco/electrumlink/internal/registry"
	"github.com/revittco/electrumlink/internal/subscription"
	"github.com/revittco/electrumlink/internal/timeout"
	"github.com/revittco/electrumlink/internal/transport"
)

// ConnState is the lifecycle state of the client's single connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Dialer opens a transport connection. transport.Dialer implements it.
type Dialer interface {
	Dial(ctx context.Context, ep endpoint.Endpoint, timeout time.Duration) (*transport.Conn, error)
}

// Options configures a Client. Zero values take the defaults noted.
type Options struct {
	// ClientName and ProtocolVersion are announced in the server.version
	// handshake. Defaults: "electrumlink", "1.4".
	ClientName      string
	ProtocolVersion string

	// Pool is used as-is when set; otherwise one is built from Endpoints
	// with a random starting index.
	Pool      *endpoint.Pool
	Endpoints []endpoint.Endpoint

	// Dialer defaults to TLS with the platform trust store.
	Dialer Dialer

	Tiers        timeout.Tiers // default timeout.DefaultTiers()
	PingInterval time.Duration // default 10s
	Cooldown     time.Duration // default 5s

	Sink      events.Sink // default events.LogSink
	Metrics   *Metrics    // default unregistered instruments
	SessionID string      // default a new uuid

	// OnHandshake, when set, receives the server's reply to the version
	// announcement of every connection. It runs on the read loop and must
	// not block.
	OnHandshake func(ep endpoint.Endpoint, resp jsonrpc.Response)
}

const (
	DefaultClientName      = "electrumlink"
	DefaultProtocolVersion = "1.4"
	DefaultPingInterval    = 10 * time.Second
	DefaultCooldown        = 5 * time.Second
)

// Client maintains one logical JSON-RPC session over a pool of
// interchangeable servers.
type Client struct {
	opts     Options
	pool     *endpoint.Pool
	timeouts *timeout.Controller
	dialer   Dialer
	sink     events.Sink
	metrics  *Metrics

	pending *registry.Registry
	subs    *subscription.Manager
	pinger  *ping.Scheduler

	nextID atomic.Uint64
	state  atomic.Int32

	// mu guards the live connection and its generation. The generation
	// increments on every bind so stale timeouts can be told apart.
	mu      sync.Mutex
	conn    *transport.Conn
	gen     uint64
	healthy bool
	server  ServerInfo

	// cancelSetup aborts the dial of a session that has not bound yet.
	cancelSetup context.CancelFunc

	gate *gate

	started  atomic.Bool
	stopOnce sync.Once
	stopped  chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// New validates opts and creates an idle client. Call Start or Run to
// begin connecting.
func New(opts Options) (*Client, error) {
	if opts.ClientName == "" {
		opts.ClientName = DefaultClientName
	}
	if opts.ProtocolVersion == "" {
		opts.ProtocolVersion = DefaultProtocolVersion
	}
	if opts.Tiers == (timeout.Tiers{}) {
		opts.Tiers = timeout.DefaultTiers()
	}
	if err := opts.Tiers.Validate(); err != nil {
		return nil, err
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Dialer == nil {
		opts.Dialer = transport.Dialer{TLS: true}
	}
	if opts.Sink == nil {
		opts.Sink = events.LogSink{}
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}

	pool := opts.Pool
	if pool == nil {
		var err error
		pool, err = endpoint.NewPool(opts.Endpoints)
		if err != nil {
			return nil, fmt.Errorf("endpoint pool: %w", err)
		}
	}

	c := &Client{
		opts:     opts,
		pool:     pool,
		timeouts: timeout.NewController(opts.Tiers),
		dialer:   opts.Dialer,
		sink:     opts.Sink,
		metrics:  opts.Metrics,
		pending:  registry.New(),
		subs:     subscription.NewManager(),
		pinger:   ping.New(),
		gate:     newGate(),
		stopped:  make(chan struct{}),
	}
	c.metrics.setTimeout(c.timeouts.Current())
	return c, nil
}

// SessionID identifies this client run in events and the store.
func (c *Client) SessionID() string {
	return c.opts.SessionID
}

// ServerInfo is what the connected server reported in the handshake.
type ServerInfo struct {
	Software string `json:"software,omitempty"`
	Protocol string `json:"protocol,omitempty"`
}

// Status is a point-in-time snapshot of the client.
type Status struct {
	SessionID     string        `json:"session_id"`
	State         string        `json:"state"`
	Endpoint      string        `json:"endpoint"`
	Server        ServerInfo    `json:"server"`
	Endpoints     []string      `json:"endpoints"`
	Tier          string        `json:"tier"`
	Timeout       time.Duration `json:"timeout_ns"`
	Failures      int           `json:"failures"`
	Attempts      int           `json:"attempts"`
	Active        bool          `json:"active"`
	Subscriptions int           `json:"subscriptions"`
	Pending       int           `json:"pending"`
}

// Status returns a snapshot of the connection state and bookkeeping.
func (c *Client) Status() Status {
	eps := c.pool.Endpoints()
	addrs := make([]string, len(eps))
	for i, e := range eps {
		addrs[i] = e.Address()
	}
	c.mu.Lock()
	server := c.server
	c.mu.Unlock()
	return Status{
		SessionID:     c.opts.SessionID,
		State:         c.State().String(),
		Endpoint:      c.pool.Current().Address(),
		Server:        server,
		Endpoints:     addrs,
		Tier:          c.timeouts.Tier().String(),
		Timeout:       c.timeouts.Current(),
		Failures:      c.pool.Failures(),
		Attempts:      c.pool.Attempts(),
		Active:        c.gate.isActive(),
		Subscriptions: c.subs.Len(),
		Pending:       c.pending.Len(),
	}
}

// State returns the connection state.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

// Connected reports whether a connection is established.
func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// Endpoints returns the current pool.
func (c *Client) Endpoints() []endpoint.Endpoint {
	return c.pool.Endpoints()
}

// Start runs the connection loop in the background until Close.
func (c *Client) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		cancel()
		return ErrAlreadyStarted
	}
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		if err := c.Run(ctx); err != nil {
			slog.Error("electrum client loop", "error", err)
		}
	}()
	return nil
}

// Close stops a client started with Start and waits for the loop to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return ErrNotStarted
	}
	cancel()
	<-done
	return nil
}

// SetActive pauses or resumes the connection loop. A paused loop finishes
// its current connection and then waits before dialing again; the position
// in the endpoint rotation is kept.
func (c *Client) SetActive(active bool) {
	if !c.gate.set(active) {
		return
	}
	typ := events.Resumed
	if !active {
		typ = events.Paused
	}
	c.emit(context.Background(), typ, "", "")
}

// Active reports whether the loop is allowed to connect.
func (c *Client) Active() bool {
	return c.gate.isActive()
}

// ReplaceEndpoints hot-swaps the pool. An identical list is a no-op; a
// different one restarts rotation at index 0 and drops the live connection.
func (c *Client) ReplaceEndpoints(eps []endpoint.Endpoint) (bool, error) {
	changed, err := c.pool.Replace(eps)
	if err != nil || !changed {
		return false, err
	}
	c.emit(context.Background(), events.EndpointsReplaced, "", fmt.Sprintf("%d endpoints", len(eps)))
	c.dropConnection()
	return true, nil
}

func (c *Client) emit(ctx context.Context, typ events.Type, ep, detail string) {
	c.sink.Emit(ctx, events.Event{
		SessionID: c.opts.SessionID,
		Type:      typ,
		Endpoint:  ep,
		Detail:    detail,
		Time:      time.Now().UTC(),
	})
}

// gate suspends the loop between iterations while inactive.
type gate struct {
	mu     sync.Mutex
	active bool
	wake   chan struct{}
}

func newGate() *gate {
	return &gate{active: true, wake: make(chan struct{})}
}

// set reports whether the value changed.
func (g *gate) set(active bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == active {
		return false
	}
	g.active = active
	if active {
		close(g.wake)
		g.wake = make(chan struct{})
	}
	return true
}

func (g *gate) isActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

func (g *gate) wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.active {
			g.mu.Unlock()
			return nil
		}
		wake := g.wake
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}
