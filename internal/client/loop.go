package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/revittco/electrumlink/internal/endpoint"
	"github.com/revittco/electrumlink/internal/events"
	"github.com/revittco/electrumlink/internal/jsonrpc"
	"github.com/revittco/electrumlink/internal/registry"
	"github.com/revittco/electrumlink/internal/subscription"
	"github.com/revittco/electrumlink/internal/transport"
)

// Run drives the connection loop until ctx is cancelled: connect, announce,
// arm the keepalive, replay subscriptions, read until the connection drops,
// cool down, advance to the next endpoint. It only returns on shutdown.
func (c *Client) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer c.stopOnce.Do(func() { close(c.stopped) })

	cooldown := backoff.WithContext(backoff.NewConstantBackOff(c.opts.Cooldown), ctx)
	for {
		if err := c.gate.wait(ctx); err != nil {
			return nil
		}

		c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if c.gate.isActive() {
			if !sleep(ctx, cooldown.NextBackOff()) {
				return nil
			}
		}
		next := c.pool.Advance()
		slog.Debug("advancing endpoint", "endpoint", next.String(), "attempts", c.pool.Attempts())
	}
}

// session runs one connection from dial to teardown. A replacement of the
// endpoint list during setup cancels the dial and abandons the attempt.
func (c *Client) session(ctx context.Context) {
	ep, epoch := c.pool.CurrentAt()
	addr := ep.Address()
	c.state.Store(int32(StateConnecting))
	c.emit(ctx, events.Connecting, addr, "")

	setup, cancelSetup := context.WithCancel(ctx)
	defer cancelSetup()
	c.mu.Lock()
	c.cancelSetup = cancelSetup
	c.mu.Unlock()

	conn, err := c.dialer.Dial(setup, ep, c.timeouts.Current())
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		if ctx.Err() != nil {
			return
		}
		if setup.Err() != nil {
			slog.Info("connection attempt superseded", "endpoint", addr)
			return
		}
		c.metrics.connectFailures.Inc()
		c.emit(ctx, events.ConnectFailed, addr, err.Error())
		c.recordFailure()
		return
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	gen, replay, err := c.bind(conn, epoch)
	if err != nil {
		_ = conn.Close()
		c.state.Store(int32(StateDisconnected))
		if errors.Is(err, errSuperseded) {
			slog.Info("connection attempt superseded", "endpoint", addr)
			return
		}
		c.metrics.connectFailures.Inc()
		c.emit(ctx, events.ConnectFailed, addr, fmt.Sprintf("handshake: %v", err))
		c.recordFailure()
		return
	}
	c.metrics.setConnected(true)
	c.emit(ctx, events.Connected, addr, "")

	c.pinger.Arm(c.opts.PingInterval, func(pctx context.Context) { c.ping(pctx, gen) })
	if len(replay) > 0 {
		c.renew(gen, replay)
	}

	err = c.readLoop(conn)

	c.pinger.Stop()
	healthy := c.unbind(gen)
	_ = conn.Close()
	c.metrics.setConnected(false)

	detail := "closed by server"
	if err != nil && !errors.Is(err, io.EOF) {
		detail = err.Error()
	}
	if ctx.Err() != nil {
		detail = "shutdown"
	}
	c.emit(ctx, events.Disconnected, addr, detail)

	// A connection that never completed a round-trip counts as a failed
	// attempt so the timeout tier keeps escalating.
	if !healthy && ctx.Err() == nil {
		c.recordFailure()
	}
}

// bind sends the version announcement on a fresh connection and then
// publishes it: the registry is cleared, the generation advances, and the
// subscriptions to replay are snapshotted under the same lock Subscribe
// takes so each one is sent exactly once on the new connection. The pool
// epoch is checked under c.mu on both sides of the write; ReplaceEndpoints
// bumps it before taking c.mu, so either bind sees the change or the
// replacement sees the published connection and closes it.
func (c *Client) bind(conn *transport.Conn, epoch uint64) (uint64, []subscription.Subscription, error) {
	hello := jsonrpc.NewRequest(c.newID(), "server.version",
		[]any{c.opts.ClientName, c.opts.ProtocolVersion})
	data, err := jsonrpc.EncodeRequest(hello)
	if err != nil {
		return 0, nil, err
	}
	helloKey := registry.Single(hello.ID)

	c.mu.Lock()
	if c.pool.Epoch() != epoch {
		c.cancelSetup = nil
		c.mu.Unlock()
		return 0, nil, errSuperseded
	}
	dropped := c.pending.Clear()
	c.server = ServerInfo{}
	c.pending.Register(helloKey, c.handshakeReply(conn.Endpoint()))
	c.mu.Unlock()

	if dropped > 0 {
		slog.Debug("abandoned pending requests", "count", dropped)
	}
	if err := conn.WriteLine(data, c.timeouts.Current()); err != nil {
		c.pending.Forget(helloKey)
		return 0, nil, err
	}

	c.mu.Lock()
	c.cancelSetup = nil
	if c.pool.Epoch() != epoch {
		c.mu.Unlock()
		c.pending.Forget(helloKey)
		return 0, nil, errSuperseded
	}
	c.gen++
	c.conn = conn
	c.healthy = false
	gen := c.gen
	replay := c.subs.All()
	c.mu.Unlock()

	c.state.Store(int32(StateConnected))
	return gen, replay, nil
}

// handshakeReply records what the server said about itself.
func (c *Client) handshakeReply(ep endpoint.Endpoint) registry.Callback {
	return func(m jsonrpc.Message) {
		if m.Response == nil {
			return
		}
		resp := *m.Response
		if err := resp.Err(); err != nil {
			slog.Warn("server rejected version announcement", "endpoint", ep.String(), "error", err)
		} else if info, ok := parseServerInfo(resp.Result); ok {
			c.mu.Lock()
			c.server = info
			c.mu.Unlock()
			c.emit(context.Background(), events.Identified, ep.Address(),
				fmt.Sprintf("%s (protocol %s)", info.Software, info.Protocol))
		}
		if c.opts.OnHandshake != nil {
			c.opts.OnHandshake(ep, resp)
		}
	}
}

func parseServerInfo(raw json.RawMessage) (ServerInfo, bool) {
	var pair []string
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
		return ServerInfo{}, false
	}
	return ServerInfo{Software: pair[0], Protocol: pair[1]}, true
}

// unbind detaches the connection of generation gen and reports whether it
// completed at least one round-trip.
func (c *Client) unbind(gen uint64) bool {
	c.mu.Lock()
	healthy := c.healthy
	if c.gen == gen {
		c.conn = nil
	}
	c.mu.Unlock()
	c.state.Store(int32(StateDisconnected))
	return healthy
}

func (c *Client) readLoop(conn *transport.Conn) error {
	for {
		conn.SetReadTimeout(c.readTimeout())
		line, err := conn.ReadLine()
		if err != nil {
			return err
		}
		c.route(line)
	}
}

// readTimeout leaves room for one ping interval on top of the current tier
// so an otherwise idle connection is not torn down between keepalives.
func (c *Client) readTimeout() time.Duration {
	return c.timeouts.Current() + c.opts.PingInterval
}

// route dispatches one inbound frame.
func (c *Client) route(line []byte) {
	msg, err := jsonrpc.Decode(line)
	if err != nil {
		c.metrics.malformed.Inc()
		c.emit(context.Background(), events.Malformed, c.currentAddr(), err.Error())
		return
	}

	if !msg.IsBatch() && msg.Response.ID == jsonrpc.NoID {
		c.push(msg.Response)
		return
	}

	key := registry.KeyFor(msg)
	if !c.pending.Resolve(key, msg) {
		slog.Debug("dropping unmatched response", "id", key.ID, "batch", key.Batch)
	}
}

func (c *Client) push(r *jsonrpc.Response) {
	if r.Method == "" {
		c.metrics.malformed.Inc()
		c.emit(context.Background(), events.Malformed, c.currentAddr(), "response without id or method")
		return
	}
	sub, ok := c.subs.Get(r.Method)
	if !ok {
		slog.Debug("push without subscription", "method", r.Method)
		return
	}
	c.metrics.pushes.WithLabelValues(r.Method).Inc()
	sub.Callback(*r)
}

// ping runs one keepalive round. A timeout marks the connection down
// through the regular request path.
func (c *Client) ping(ctx context.Context, gen uint64) {
	_, err := c.call(ctx, "server.ping", nil, events.PingFailed)
	if err == nil || ctx.Err() != nil || errors.Is(err, ErrTimeout) || errors.Is(err, ErrClosed) {
		return
	}
	c.markDown(gen, events.PingFailed, err.Error())
}

// markDown closes the connection of generation gen if it is still the live
// one. The read loop then observes the closure and tears down.
func (c *Client) markDown(gen uint64, typ events.Type, detail string) bool {
	c.mu.Lock()
	conn := c.conn
	current := c.gen == gen && conn != nil
	c.mu.Unlock()
	if !current {
		slog.Debug("ignoring stale connection failure", "type", string(typ), "detail", detail)
		return false
	}
	c.emit(context.Background(), typ, conn.Endpoint().Address(), detail)
	_ = conn.Close()
	return true
}

// dropConnection closes whatever connection is live and cancels a dial or
// handshake still in progress.
func (c *Client) dropConnection() {
	c.mu.Lock()
	conn, cancel := c.conn, c.cancelSetup
	c.cancelSetup = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) currentAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ""
	}
	return c.conn.Endpoint().Address()
}

func (c *Client) recordFailure() {
	attempts := c.pool.RecordFailure()
	c.timeouts.ObserveAttempts(attempts)
	c.metrics.setTimeout(c.timeouts.Current())
}

func (c *Client) observeRoundTrip(gen uint64, rtt time.Duration) {
	c.timeouts.ObserveRoundTrip(rtt)
	c.pool.MarkHealthy()
	c.metrics.observeRoundTrip(rtt)
	c.metrics.setTimeout(c.timeouts.Current())

	c.mu.Lock()
	if c.gen == gen {
		c.healthy = true
	}
	c.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d == backoff.Stop {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
