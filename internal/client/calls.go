package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/revittco/electrumlink/internal/events"
	"github.com/revittco/electrumlink/internal/jsonrpc"
	"github.com/revittco/electrumlink/internal/registry"
	"github.com/revittco/electrumlink/internal/subscription"
	"github.com/revittco/electrumlink/internal/transport"
)

func (c *Client) newID() string {
	return strconv.FormatUint(c.nextID.Add(1), 10)
}

// reserveIDs takes n consecutive ids in one step so concurrent batches
// never interleave their members.
func (c *Client) reserveIDs(n int) []string {
	last := c.nextID.Add(uint64(n))
	ids := make([]string, n)
	for i := range ids {
		ids[i] = strconv.FormatUint(last-uint64(n-1-i), 10)
	}
	return ids
}

// Send issues a correlated request and blocks until its reply arrives or
// the current timeout tier elapses. A timeout marks the connection down and
// returns an error wrapping ErrTimeout. Server-side errors are returned in
// the Response, not as err.
func (c *Client) Send(ctx context.Context, method string, params ...any) (*jsonrpc.Response, error) {
	return c.call(ctx, method, params, events.Timeout)
}

// call is Send with the event type reported when the wait times out.
func (c *Client) call(ctx context.Context, method string, params []any, onTimeout events.Type) (*jsonrpc.Response, error) {
	req := jsonrpc.NewRequest(c.newID(), method, params)
	data, err := jsonrpc.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.await(ctx, registry.Single(req.ID), data, method, onTimeout)
	if err != nil {
		return nil, err
	}
	return msg.Response, nil
}

// SendBatch issues calls as one batch frame and blocks until the whole
// batch reply arrives or the current timeout tier elapses.
func (c *Client) SendBatch(ctx context.Context, calls []jsonrpc.Call) (jsonrpc.Batch, error) {
	if len(calls) == 0 {
		return nil, errors.New("send batch: no calls")
	}
	reqs := make([]jsonrpc.Request, len(calls))
	ids := c.reserveIDs(len(calls))
	for i, call := range calls {
		reqs[i] = jsonrpc.NewRequest(ids[i], call.Method, call.Params)
	}
	data, err := jsonrpc.EncodeBatch(reqs)
	if err != nil {
		return nil, err
	}
	msg, err := c.await(ctx, registry.BatchOf(ids), data, fmt.Sprintf("batch of %d", len(calls)), events.Timeout)
	if err != nil {
		return nil, err
	}
	return msg.Batch, nil
}

// Notify writes a request without waiting for or correlating a reply.
func (c *Client) Notify(method string, params ...any) error {
	req := jsonrpc.NewRequest(c.newID(), method, params)
	data, err := jsonrpc.EncodeRequest(req)
	if err != nil {
		return err
	}
	c.post(nil, nil, data)
	return nil
}

// Subscribe registers sub, replacing any earlier subscription for the same
// method, and sends it if connected. The callback receives the initial reply
// and every later push; the subscription is replayed after each reconnect.
func (c *Client) Subscribe(sub subscription.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	req := jsonrpc.NewRequest(c.newID(), sub.Method, sub.Params)
	data, err := jsonrpc.EncodeRequest(req)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.subs.Put(sub)
	conn := c.conn
	if conn != nil {
		c.pending.Register(registry.Single(req.ID), initialReply(sub))
	}
	c.mu.Unlock()

	c.write(conn, data)
	return nil
}

// Unsubscribe forgets the local subscription for method. The server keeps
// pushing until the connection is replaced; those pushes are dropped.
func (c *Client) Unsubscribe(method string) bool {
	return c.subs.Remove(method)
}

// renew resends every subscription on connection gen under fresh ids.
func (c *Client) renew(gen uint64, subs []subscription.Subscription) {
	for _, sub := range subs {
		req := jsonrpc.NewRequest(c.newID(), sub.Method, sub.Params)
		data, err := jsonrpc.EncodeRequest(req)
		if err != nil {
			slog.Warn("encode subscription", "method", sub.Method, "error", err)
			continue
		}

		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		conn := c.conn
		c.pending.Register(registry.Single(req.ID), initialReply(sub))
		c.mu.Unlock()

		c.write(conn, data)
	}
	slog.Debug("renewed subscriptions", "count", len(subs))
}

func initialReply(sub subscription.Subscription) registry.Callback {
	return func(m jsonrpc.Message) {
		if m.Response != nil {
			sub.Callback(*m.Response)
		}
	}
}

// await registers a one-shot callback under key, writes data, and waits.
// On timeout the entry is left for the next reconnect to clear.
func (c *Client) await(
	ctx context.Context, key registry.Key, data []byte, label string, onTimeout events.Type,
) (jsonrpc.Message, error) {
	ch := make(chan jsonrpc.Message, 1)
	start := time.Now()
	gen := c.post(&key, func(m jsonrpc.Message) { ch <- m }, data)

	wait := c.timeouts.Current()
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case m := <-ch:
		c.observeRoundTrip(gen, time.Since(start))
		return m, nil
	case <-timer.C:
		c.metrics.timeouts.Inc()
		c.markDown(gen, onTimeout, fmt.Sprintf("%s: no reply after %s", label, wait))
		return jsonrpc.Message{}, fmt.Errorf("%s: %w after %s", label, ErrTimeout, wait)
	case <-ctx.Done():
		c.pending.Forget(key)
		return jsonrpc.Message{}, ctx.Err()
	case <-c.stopped:
		c.pending.Forget(key)
		return jsonrpc.Message{}, ErrClosed
	}
}

// post registers cb under key (when key is set) and writes data on the live
// connection. It returns the generation the entry belongs to.
func (c *Client) post(key *registry.Key, cb registry.Callback, data []byte) uint64 {
	c.mu.Lock()
	gen, conn := c.gen, c.conn
	if key != nil {
		c.pending.Register(*key, cb)
	}
	c.mu.Unlock()

	c.write(conn, data)
	return gen
}

// write sends data from its own goroutine so a stalled socket never blocks
// the caller or the read loop. Failures are only logged; the caller finds
// out through its own timeout.
func (c *Client) write(conn *transport.Conn, data []byte) {
	if conn == nil {
		slog.Debug("write dropped: not connected")
		return
	}
	go func() {
		if err := conn.WriteLine(data, c.timeouts.Current()); err != nil {
			slog.Debug("write failed", "endpoint", conn.Endpoint().String(), "error", err)
		}
	}()
}
