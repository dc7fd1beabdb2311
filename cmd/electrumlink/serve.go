package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/revittco/electrumlink/internal/api"
	"github.com/revittco/electrumlink/internal/client"
	"github.com/revittco/electrumlink/internal/config"
	"github.com/revittco/electrumlink/internal/electrum"
	"github.com/revittco/electrumlink/internal/endpoint"
	"github.com/revittco/electrumlink/internal/events"
	"github.com/revittco/electrumlink/internal/jsonrpc"
	"github.com/revittco/electrumlink/internal/store"
	"github.com/revittco/electrumlink/internal/transport"
)

func cmdServe(args []string) error {
	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlags(cfg, args)
	logger := newLogger(cfg)

	db, err := openStore(ctx, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	fileCfg, err := prepareServers(ctx, cfg, db)
	if err != nil {
		return err
	}
	svc := config.NewService(db)
	eps, err := svc.Endpoints(ctx)
	if err != nil {
		return err
	}
	if len(eps) == 0 {
		return errors.New("no enabled servers: add some to the config file or re-enable one")
	}

	sessionID, err := startSession(ctx, cfg, db, fileCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.EndSession(context.Background(), sessionID); err != nil {
			logger.Warn("end session", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bus := events.NewBus()
	var c *client.Client
	c, err = client.New(client.Options{
		ClientName:      fileCfg.ClientName(),
		ProtocolVersion: fileCfg.ProtocolVersion(),
		Endpoints:       eps,
		Dialer:          transport.Dialer{TLS: fileCfg.UseTLS()},
		Tiers:           fileCfg.Timeouts,
		PingInterval:    fileCfg.PingInterval,
		Cooldown:        fileCfg.Cooldown,
		Sink: events.Multi{
			events.LogSink{Logger: logger},
			events.NewRecorder(db, bus, sessionID),
		},
		Metrics:   client.NewMetrics(reg),
		SessionID: sessionID,
		OnHandshake: func(ep endpoint.Endpoint, resp jsonrpc.Response) {
			checkServerProtocol(c, fileCfg.MinProtocol(), ep, resp)
		},
	})
	if err != nil {
		return err
	}

	results := electrum.NewCache(c, fileCfg.CacheCapacity(), fileCfg.CacheTTL())
	go results.Start()
	defer results.Stop()

	err = electrum.SubscribeHeaders(c,
		func(h electrum.Header) { logger.Info("chain tip", "height", h.Height) },
		func(err error) { logger.Warn("undecodable header notification", "error", err) },
	)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error {
		router := api.NewRouter(api.RouterDeps{
			Events:   db,
			Servers:  svc,
			Client:   c,
			Caller:   results,
			Cache:    results,
			Bus:      bus,
			Gatherer: reg,
		})
		return serveHTTP(gctx, cfg.HTTPAddr, router)
	})

	logger.Info("electrumlink started",
		"session_id", sessionID,
		"servers", len(eps),
		"admin", adminURL(cfg.HTTPAddr),
	)
	return g.Wait()
}

// startSession records this run and closes sessions a crashed process left
// open. Old connection events are pruned on the way.
func startSession(ctx context.Context, cfg *Config, db store.Store, fileCfg *config.FileConfig) (string, error) {
	if n, err := db.CleanupStaleSessions(ctx, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("cleanup sessions: %w", err)
	} else if n > 0 {
		slog.Info("closed stale sessions", "count", n)
	}
	if cfg.EventRetention > 0 {
		if n, err := db.PruneEvents(ctx, time.Now().UTC().Add(-cfg.EventRetention)); err != nil {
			slog.Warn("prune events", "error", err)
		} else if n > 0 {
			slog.Info("pruned connection events", "count", n)
		}
	}

	sess := &store.Session{
		ID:              uuid.NewString(),
		ClientName:      fileCfg.ClientName(),
		ProtocolVersion: fileCfg.ProtocolVersion(),
		StartedAt:       time.Now().UTC(),
	}
	if err := db.CreateSession(ctx, sess); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return sess.ID, nil
}

// checkServerProtocol drops a server whose handshake reply names a
// protocol older than minimum. It runs on the client's read loop, so the
// pool swap happens on its own goroutine.
func checkServerProtocol(c *client.Client, minimum string, ep endpoint.Endpoint, resp jsonrpc.Response) {
	if resp.Err() != nil {
		return
	}
	info, err := electrum.ParseServerInfo(resp.Result)
	if err != nil {
		slog.Warn("unreadable version reply", "endpoint", ep.String(), "error", err)
		return
	}
	if err := electrum.CheckProtocol(minimum, info.Protocol); err != nil {
		slog.Warn("dropping server", "endpoint", ep.String(), "software", info.Software, "error", err)
		go dropEndpoint(c, ep.Address())
	}
}

// dropEndpoint removes addr from the live pool unless it is the last one.
func dropEndpoint(c *client.Client, addr string) {
	current := c.Endpoints()
	kept := make([]endpoint.Endpoint, 0, len(current))
	for _, ep := range current {
		if ep.Address() != addr {
			kept = append(kept, ep)
		}
	}
	if len(kept) == 0 || len(kept) == len(current) {
		return
	}
	if _, err := c.ReplaceEndpoints(kept); err != nil {
		slog.Warn("replace endpoints", "error", err)
	}
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
