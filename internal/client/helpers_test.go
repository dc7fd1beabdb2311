package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/revittco/electrumlink/internal/endpoint"
	"github.com/revittco/electrumlink/internal/events"
	"github.com/revittco/electrumlink/internal/timeout"
	"github.com/revittco/electrumlink/internal/transport"
)

// rpcReq is a request as the mock server sees it.
type rpcReq struct {
	ID     string            `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// handler answers the requests of one frame. batch is true for array frames.
type handler func(sc *serverConn, reqs []rpcReq, batch bool)

// mockServer is an in-process line-delimited JSON-RPC server.
type mockServer struct {
	t       *testing.T
	ln      net.Listener
	ep      endpoint.Endpoint
	handler handler

	mu    sync.Mutex
	conns []*serverConn
}

type serverConn struct {
	index int
	conn  net.Conn

	wmu sync.Mutex

	mu       sync.Mutex
	received []rpcReq
}

func newMockServer(t *testing.T, h handler) *mockServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &mockServer{t: t, ln: ln, ep: endpointOf(t, ln.Addr()), handler: h}
	go s.accept()
	t.Cleanup(s.close)
	return s
}

func endpointOf(t *testing.T, addr net.Addr) endpoint.Endpoint {
	t.Helper()
	host, port, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return endpoint.Endpoint{Host: host, Port: p}
}

// refusingEndpoint returns an address nothing listens on.
func refusingEndpoint(t *testing.T) endpoint.Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ep := endpointOf(t, ln.Addr())
	require.NoError(t, ln.Close())
	return ep
}

func (s *mockServer) accept() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		sc := &serverConn{index: len(s.conns), conn: c}
		s.conns = append(s.conns, sc)
		s.mu.Unlock()
		go s.serve(sc)
	}
}

func (s *mockServer) serve(sc *serverConn) {
	defer sc.conn.Close()
	scanner := bufio.NewScanner(sc.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		var reqs []rpcReq
		batch := len(line) > 0 && line[0] == '['
		if batch {
			if err := json.Unmarshal(line, &reqs); err != nil {
				continue
			}
		} else {
			var r rpcReq
			if err := json.Unmarshal(line, &r); err != nil {
				continue
			}
			reqs = []rpcReq{r}
		}
		sc.mu.Lock()
		sc.received = append(sc.received, reqs...)
		sc.mu.Unlock()
		if s.handler != nil {
			s.handler(sc, reqs, batch)
		}
	}
}

func (s *mockServer) close() {
	_ = s.ln.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range s.conns {
		_ = sc.conn.Close()
	}
}

func (s *mockServer) accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *mockServer) conn(i int) *serverConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.conns) {
		return nil
	}
	return s.conns[i]
}

func (sc *serverConn) write(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	sc.writeRaw(string(data))
}

func (sc *serverConn) writeRaw(line string) {
	sc.wmu.Lock()
	defer sc.wmu.Unlock()
	_, _ = sc.conn.Write([]byte(line + "\n"))
}

func (sc *serverConn) reply(id string, result any) {
	sc.write(reply(id, result))
}

func reply(id string, result any) map[string]any {
	return map[string]any{"jsonrpc": "2.0", "id": id, "result": result}
}

func (sc *serverConn) count(method string) int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	n := 0
	for _, r := range sc.received {
		if r.Method == method {
			n++
		}
	}
	return n
}

func (sc *serverConn) requests() []rpcReq {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return append([]rpcReq(nil), sc.received...)
}

func (sc *serverConn) find(method string) (rpcReq, bool) {
	for _, r := range sc.requests() {
		if r.Method == method {
			return r, true
		}
	}
	return rpcReq{}, false
}

// echoHandler answers everything except methods listed in silent. "echo"
// returns its first param; other methods return their own name. Batches are
// answered in reverse order.
func echoHandler(silent ...string) handler {
	skip := make(map[string]bool, len(silent))
	for _, m := range silent {
		skip[m] = true
	}
	result := func(r rpcReq) any {
		switch r.Method {
		case "server.version":
			return []string{"mock 1.0", "1.4"}
		case "server.ping":
			return nil
		case "blockchain.headers.subscribe":
			return map[string]any{"height": 100, "hex": "00"}
		case "echo":
			if len(r.Params) > 0 {
				return r.Params[0]
			}
			return nil
		default:
			return r.Method
		}
	}
	return func(sc *serverConn, reqs []rpcReq, batch bool) {
		if batch {
			out := make([]map[string]any, 0, len(reqs))
			for i := len(reqs) - 1; i >= 0; i-- {
				out = append(out, reply(reqs[i].ID, result(reqs[i])))
			}
			sc.write(out)
			return
		}
		r := reqs[0]
		if skip[r.Method] {
			return
		}
		sc.reply(r.ID, result(r))
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Emit(_ context.Context, e events.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) count(typ events.Type) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

var fastTiers = timeout.Tiers{
	Small:           300 * time.Millisecond,
	Medium:          600 * time.Millisecond,
	Max:             time.Second,
	SmallThreshold:  200 * time.Millisecond,
	MediumThreshold: 500 * time.Millisecond,
}

// newTestClient builds a client over plain TCP that starts at index 0 and
// never pings unless the caller overrides PingInterval.
func newTestClient(t *testing.T, log *eventLog, mutate func(*Options), eps ...endpoint.Endpoint) *Client {
	t.Helper()
	pool, err := endpoint.NewPoolAt(eps, 0)
	require.NoError(t, err)

	var sink events.Sink = events.Discard
	if log != nil {
		sink = log
	}
	opts := Options{
		Pool:         pool,
		Dialer:       transport.Dialer{},
		Tiers:        fastTiers,
		PingInterval: time.Hour,
		Cooldown:     20 * time.Millisecond,
		Sink:         sink,
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func startClient(t *testing.T, c *Client) {
	t.Helper()
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Close() })
}

func waitConnected(t *testing.T, c *Client) {
	t.Helper()
	require.Eventually(t, c.Connected, 3*time.Second, 5*time.Millisecond, "client never connected")
}

// gatedDialer blocks dials to gate. When honorCtx is false it ignores
// cancellation and completes the dial once release is closed.
type gatedDialer struct {
	gate     endpoint.Endpoint
	honorCtx bool
	entered  chan struct{}
	release  chan struct{}
	once     sync.Once
	next     transport.Dialer
}

func newGatedDialer(gate endpoint.Endpoint, honorCtx bool) *gatedDialer {
	return &gatedDialer{
		gate:     gate,
		honorCtx: honorCtx,
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (d *gatedDialer) Dial(ctx context.Context, ep endpoint.Endpoint, timeout time.Duration) (*transport.Conn, error) {
	if ep != d.gate {
		return d.next.Dial(ctx, ep, timeout)
	}
	d.once.Do(func() { close(d.entered) })
	if d.honorCtx {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.release:
		}
		return d.next.Dial(ctx, ep, timeout)
	}
	<-d.release
	return d.next.Dial(context.Background(), ep, timeout)
}
