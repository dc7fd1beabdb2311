package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revittco/electrumlink/internal/endpoint"
	"github.com/revittco/electrumlink/internal/events"
	"github.com/revittco/electrumlink/internal/jsonrpc"
	"github.com/revittco/electrumlink/internal/subscription"
	"github.com/revittco/electrumlink/internal/timeout"
)

func TestHandshakeIsFirstFrame(t *testing.T) {
	srv := newMockServer(t, echoHandler())
	c := newTestClient(t, nil, func(o *Options) {
		o.ClientName = "wallet"
		o.ProtocolVersion = "1.4"
	}, srv.ep)
	startClient(t, c)
	waitConnected(t, c)

	_, err := c.Send(context.Background(), "server.banner")
	require.NoError(t, err)

	reqs := srv.conn(0).requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, "server.version", reqs[0].Method)
	require.Len(t, reqs[0].Params, 2)
	assert.JSONEq(t, `"wallet"`, string(reqs[0].Params[0]))
	assert.JSONEq(t, `"1.4"`, string(reqs[0].Params[1]))
}

func TestHandshakeReplyIsRecorded(t *testing.T) {
	srv := newMockServer(t, echoHandler())
	log := &eventLog{}
	var mu sync.Mutex
	var seen []endpoint.Endpoint
	c := newTestClient(t, log, func(o *Options) {
		o.OnHandshake = func(ep endpoint.Endpoint, resp jsonrpc.Response) {
			mu.Lock()
			seen = append(seen, ep)
			mu.Unlock()
		}
	}, srv.ep)
	startClient(t, c)
	waitConnected(t, c)

	// The hook runs last, after the status and the event are recorded.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, srv.ep, seen[0])
	assert.Equal(t, ServerInfo{Software: "mock 1.0", Protocol: "1.4"}, c.Status().Server)
	assert.Equal(t, 1, log.count(events.Identified))
}

func TestSend_CorrelatesConcurrentRequests(t *testing.T) {
	// Replies are delayed in reverse arrival order so they come back
	// shuffled relative to the requests.
	srv := newMockServer(t, func(sc *serverConn, reqs []rpcReq, batch bool) {
		r := reqs[0]
		if r.Method != "echo" {
			echoHandler()(sc, reqs, batch)
			return
		}
		var n int
		_ = json.Unmarshal(r.Params[0], &n)
		go func() {
			time.Sleep(time.Duration(50-n) * time.Millisecond)
			sc.reply(r.ID, n)
		}()
	})
	c := newTestClient(t, nil, func(o *Options) {
		o.Tiers = timeout.DefaultTiers()
	}, srv.ep)
	startClient(t, c)
	waitConnected(t, c)

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := c.Send(context.Background(), "echo", i)
			if err != nil {
				errs <- err
				return
			}
			var got int
			if err := json.Unmarshal(resp.Result, &got); err != nil {
				errs <- err
				return
			}
			if got != i {
				errs <- fmt.Errorf("request %d got reply %d", i, got)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 0, c.Status().Pending)
}

func TestSendBatch_ResolvesOutOfOrderReply(t *testing.T) {
	srv := newMockServer(t, echoHandler())
	c := newTestClient(t, nil, nil, srv.ep)
	startClient(t, c)
	waitConnected(t, c)

	batch, err := c.SendBatch(context.Background(), []jsonrpc.Call{
		{Method: "server.banner"},
		{Method: "server.features"},
		{Method: "echo", Params: []any{"x"}},
	})
	require.NoError(t, err)
	require.Len(t, batch, 3)

	// The mock answers in reverse order.
	assert.JSONEq(t, `"x"`, string(batch[0].Result))
	assert.JSONEq(t, `"server.banner"`, string(batch[2].Result))
	ids := batch.IDs()
	r, ok := batch.ByID(ids[1])
	require.True(t, ok)
	assert.JSONEq(t, `"server.features"`, string(r.Result))

	_, err = c.SendBatch(context.Background(), nil)
	assert.Error(t, err)
}

func TestSend_TimeoutMarksConnectionDown(t *testing.T) {
	srv := newMockServer(t, echoHandler("server.ping"))
	log := &eventLog{}
	c := newTestClient(t, log, nil, srv.ep)
	startClient(t, c)
	waitConnected(t, c)

	start := time.Now()
	_, err := c.Send(context.Background(), "server.ping")
	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), fastTiers.Small)

	require.Eventually(t, func() bool { return srv.accepted() >= 2 }, 3*time.Second, 5*time.Millisecond,
		"timeout did not force a reconnect")
	assert.GreaterOrEqual(t, log.count(events.Timeout), 1)
}

func TestReconnect_AbandonsPendingAndReplaysSubscriptionsOnce(t *testing.T) {
	var hangID sync.Map
	srv := newMockServer(t, func(sc *serverConn, reqs []rpcReq, batch bool) {
		if reqs[0].Method == "hang" {
			hangID.Store(sc.index, reqs[0].ID)
			return
		}
		echoHandler()(sc, reqs, batch)
	})
	c := newTestClient(t, nil, func(o *Options) {
		o.Tiers = timeout.Tiers{
			Small: 1500 * time.Millisecond, Medium: 2 * time.Second, Max: 3 * time.Second,
			SmallThreshold: time.Second, MediumThreshold: 2 * time.Second,
		}
	}, srv.ep)
	startClient(t, c)
	waitConnected(t, c)

	var mu sync.Mutex
	var got []jsonrpc.Response
	require.NoError(t, c.Subscribe(subscription.Subscription{
		Method: "blockchain.headers.subscribe",
		Callback: func(r jsonrpc.Response) {
			mu.Lock()
			got = append(got, r)
			mu.Unlock()
		},
	}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 3*time.Second, 5*time.Millisecond)

	result := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "hang")
		result <- err
	}()
	require.Eventually(t, func() bool { _, ok := hangID.Load(0); return ok }, 3*time.Second, 5*time.Millisecond)

	// Drop the first connection from the server side.
	_ = srv.conn(0).conn.Close()
	require.Eventually(t, func() bool {
		sc := srv.conn(1)
		return sc != nil && sc.count("blockchain.headers.subscribe") == 1
	}, 3*time.Second, 5*time.Millisecond, "subscription not replayed")

	// A reply carrying the abandoned id on the new connection must be dropped.
	id, _ := hangID.Load(0)
	srv.conn(1).reply(id.(string), "late")

	select {
	case err := <-result:
		require.ErrorIs(t, err, ErrTimeout)
	case <-time.After(5 * time.Second):
		t.Fatal("pending request never completed")
	}

	// The stale timeout must not tear down the replacement connection.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, srv.accepted())
	assert.Equal(t, 1, srv.conn(0).count("blockchain.headers.subscribe"))
	assert.Equal(t, 1, srv.conn(1).count("blockchain.headers.subscribe"))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 2, "replayed subscription should deliver its initial reply")
}

func TestSubscribe_InitialReplyAndPushShareCallback(t *testing.T) {
	srv := newMockServer(t, func(sc *serverConn, reqs []rpcReq, batch bool) {
		echoHandler()(sc, reqs, batch)
		if reqs[0].Method == "blockchain.headers.subscribe" {
			sc.writeRaw(`{"jsonrpc":"2.0","method":"blockchain.headers.subscribe","params":[{"height":101,"hex":"01"}]}`)
		}
	})
	c := newTestClient(t, nil, nil, srv.ep)
	startClient(t, c)
	waitConnected(t, c)

	got := make(chan jsonrpc.Response, 4)
	require.NoError(t, c.Subscribe(subscription.Subscription{
		Method:   "blockchain.headers.subscribe",
		Callback: func(r jsonrpc.Response) { got <- r },
	}))

	first := <-got
	assert.False(t, first.IsPush())
	assert.JSONEq(t, `{"height":100,"hex":"00"}`, string(first.Payload()))

	select {
	case second := <-got:
		assert.True(t, second.IsPush())
		assert.JSONEq(t, `[{"height":101,"hex":"01"}]`, string(second.Payload()))
	case <-time.After(3 * time.Second):
		t.Fatal("push not delivered")
	}
	assert.Equal(t, 1, c.Status().Subscriptions)
}

func TestSubscribe_WhileDisconnectedSendsOnConnect(t *testing.T) {
	srv := newMockServer(t, echoHandler())
	c := newTestClient(t, nil, nil, srv.ep)

	got := make(chan jsonrpc.Response, 1)
	require.NoError(t, c.Subscribe(subscription.Subscription{
		Method:   "blockchain.headers.subscribe",
		Callback: func(r jsonrpc.Response) { got <- r },
	}))
	assert.Error(t, c.Subscribe(subscription.Subscription{Method: "x"}))

	startClient(t, c)
	select {
	case <-got:
	case <-time.After(3 * time.Second):
		t.Fatal("stored subscription not sent after connect")
	}
	assert.Equal(t, 1, srv.conn(0).count("blockchain.headers.subscribe"))
}

func TestScenario_RefusedThenAccepted(t *testing.T) {
	a := refusingEndpoint(t)
	srv := newMockServer(t, echoHandler())
	c := newTestClient(t, nil, nil, a, srv.ep)
	startClient(t, c)
	waitConnected(t, c)

	st := c.Status()
	assert.Equal(t, srv.ep.Address(), st.Endpoint)
	// The refused endpoint counts as one failed connection attempt. No full
	// pass of the two-endpoint pool failed, so the pass counter that drives
	// the tier stays at zero.
	assert.Equal(t, 1, st.Failures, "attempt counter incremented once")
	assert.Equal(t, 0, st.Attempts, "no failed full pass")
	assert.Equal(t, "small", st.Tier)
}

func TestTierEscalatesAndResets(t *testing.T) {
	log := &eventLog{}
	c := newTestClient(t, log, nil, refusingEndpoint(t), refusingEndpoint(t))
	startClient(t, c)

	require.Eventually(t, func() bool { return c.Status().Tier == "medium" }, 3*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return c.Status().Tier == "max" }, 3*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return c.Status().Attempts == endpoint.MaxAttempts }, 3*time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, log.count(events.ConnectFailed), 4)

	srv := newMockServer(t, echoHandler())
	changed, err := c.ReplaceEndpoints([]endpoint.Endpoint{srv.ep})
	require.NoError(t, err)
	require.True(t, changed)
	waitConnected(t, c)

	_, err = c.Send(context.Background(), "server.ping")
	require.NoError(t, err)
	st := c.Status()
	assert.Equal(t, "small", st.Tier)
	assert.Equal(t, 0, st.Attempts)
}

func TestReplaceEndpoints(t *testing.T) {
	srvA := newMockServer(t, echoHandler())
	srvB := newMockServer(t, echoHandler())
	log := &eventLog{}
	c := newTestClient(t, log, nil, srvA.ep)
	startClient(t, c)
	waitConnected(t, c)

	changed, err := c.ReplaceEndpoints([]endpoint.Endpoint{srvA.ep})
	require.NoError(t, err)
	assert.False(t, changed)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, srvA.accepted(), "identical list must not reconnect")

	changed, err = c.ReplaceEndpoints([]endpoint.Endpoint{srvB.ep, srvA.ep})
	require.NoError(t, err)
	require.True(t, changed)
	require.Eventually(t, func() bool { return srvB.accepted() == 1 && c.Connected() }, 3*time.Second, 5*time.Millisecond)

	st := c.Status()
	assert.Equal(t, srvB.ep.Address(), st.Endpoint)
	assert.Equal(t, []string{srvB.ep.Address(), srvA.ep.Address()}, st.Endpoints)
	assert.Equal(t, 1, srvA.accepted())
	assert.Equal(t, 1, log.count(events.EndpointsReplaced))

	_, err = c.ReplaceEndpoints(nil)
	assert.ErrorIs(t, err, endpoint.ErrEmptyPool)
}

func TestReplaceEndpoints_DuringDialBindsNewList(t *testing.T) {
	old := newMockServer(t, echoHandler())
	fresh := newMockServer(t, echoHandler())
	d := newGatedDialer(old.ep, false)
	c := newTestClient(t, nil, func(o *Options) { o.Dialer = d }, old.ep)
	startClient(t, c)

	select {
	case <-d.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("dial to the old endpoint never started")
	}
	changed, err := c.ReplaceEndpoints([]endpoint.Endpoint{fresh.ep})
	require.NoError(t, err)
	require.True(t, changed)
	close(d.release)

	require.Eventually(t, func() bool { return fresh.accepted() == 1 && c.Connected() }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, fresh.ep.Address(), c.Status().Endpoint)

	require.Eventually(t, func() bool { return old.accepted() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, old.conn(0).count("server.version"), "superseded connection must not be announced")
	assert.Equal(t, 0, c.Status().Failures, "superseded attempt is not a failure")
}

func TestReplaceEndpoints_CancelsBlockedDial(t *testing.T) {
	old := newMockServer(t, echoHandler())
	fresh := newMockServer(t, echoHandler())
	d := newGatedDialer(old.ep, true)
	c := newTestClient(t, nil, func(o *Options) { o.Dialer = d }, old.ep)
	startClient(t, c)

	select {
	case <-d.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("dial to the old endpoint never started")
	}
	changed, err := c.ReplaceEndpoints([]endpoint.Endpoint{fresh.ep})
	require.NoError(t, err)
	require.True(t, changed)

	require.Eventually(t, func() bool { return fresh.accepted() == 1 && c.Connected() }, 3*time.Second, 5*time.Millisecond)
	assert.Zero(t, old.accepted())
}

func TestReserveIDs_ConcurrentBatchesAreContiguous(t *testing.T) {
	c := newTestClient(t, nil, nil, refusingEndpoint(t))
	const batches, size = 32, 4

	got := make([][]string, batches)
	var wg sync.WaitGroup
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.newID()
			got[i] = c.reserveIDs(size)
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, ids := range got {
		require.Len(t, ids, size)
		first, err := strconv.ParseUint(ids[0], 10, 64)
		require.NoError(t, err)
		for j, id := range ids {
			assert.Equal(t, strconv.FormatUint(first+uint64(j), 10), id)
			assert.False(t, seen[id], "id %s handed out twice", id)
			seen[id] = true
		}
	}
}

func TestPingFailureReconnects(t *testing.T) {
	srv := newMockServer(t, echoHandler("server.ping"))
	log := &eventLog{}
	c := newTestClient(t, log, func(o *Options) {
		o.PingInterval = 50 * time.Millisecond
	}, srv.ep)
	startClient(t, c)

	require.Eventually(t, func() bool { return srv.accepted() >= 2 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return log.count(events.PingFailed) >= 1 }, 3*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, srv.conn(0).count("server.ping"), 1)
}

func TestPingKeepsHealthyConnection(t *testing.T) {
	srv := newMockServer(t, echoHandler())
	c := newTestClient(t, nil, func(o *Options) {
		o.PingInterval = 30 * time.Millisecond
	}, srv.ep)
	startClient(t, c)
	waitConnected(t, c)

	require.Eventually(t, func() bool { return srv.conn(0).count("server.ping") >= 3 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, srv.accepted())
	assert.Equal(t, 0, c.Status().Failures)
}

func TestSetActive_PausesBetweenIterations(t *testing.T) {
	srv := newMockServer(t, echoHandler())
	log := &eventLog{}
	c := newTestClient(t, log, nil, srv.ep)

	c.SetActive(false)
	c.SetActive(false)
	startClient(t, c)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, srv.accepted())
	assert.False(t, c.Status().Active)

	c.SetActive(true)
	waitConnected(t, c)
	assert.Equal(t, 1, log.count(events.Paused))
	assert.Equal(t, 1, log.count(events.Resumed))
}

func TestNotifyDoesNotRegister(t *testing.T) {
	srv := newMockServer(t, echoHandler("blockchain.transaction.broadcast"))
	c := newTestClient(t, nil, nil, srv.ep)
	startClient(t, c)
	waitConnected(t, c)

	require.NoError(t, c.Notify("blockchain.transaction.broadcast", "00ff"))
	require.Eventually(t, func() bool {
		return srv.conn(0).count("blockchain.transaction.broadcast") == 1
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, c.Status().Pending)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	srv := newMockServer(t, func(sc *serverConn, reqs []rpcReq, batch bool) {
		if reqs[0].Method == "server.banner" {
			sc.writeRaw("this is not json")
			sc.writeRaw(`{"jsonrpc":"2.0","id":null,"result":1}`)
		}
		echoHandler()(sc, reqs, batch)
	})
	log := &eventLog{}
	c := newTestClient(t, log, nil, srv.ep)
	startClient(t, c)
	waitConnected(t, c)

	resp, err := c.Send(context.Background(), "server.banner")
	require.NoError(t, err)
	assert.JSONEq(t, `"server.banner"`, string(resp.Result))
	assert.Equal(t, 2, log.count(events.Malformed))
	assert.Equal(t, 1, srv.accepted())
}

func TestLifecycleErrors(t *testing.T) {
	srv := newMockServer(t, echoHandler())
	c := newTestClient(t, nil, nil, srv.ep)

	assert.ErrorIs(t, c.Close(), ErrNotStarted)
	require.NoError(t, c.Start())
	assert.ErrorIs(t, c.Start(), ErrAlreadyStarted)
	waitConnected(t, c)

	require.NoError(t, c.Close())
	assert.False(t, c.Connected())

	_, err := c.Send(context.Background(), "server.ping")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRun_ReturnsOnCancel(t *testing.T) {
	srv := newMockServer(t, echoHandler())
	c := newTestClient(t, nil, nil, srv.ep)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	waitConnected(t, c)

	assert.ErrorIs(t, c.Run(ctx), ErrAlreadyStarted)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSend_ContextCancelled(t *testing.T) {
	srv := newMockServer(t, echoHandler("hang"))
	c := newTestClient(t, nil, nil, srv.ep)
	startClient(t, c)
	waitConnected(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Send(ctx, "hang")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 0, c.Status().Pending)
	assert.Equal(t, 1, srv.accepted())
}
