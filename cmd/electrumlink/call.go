package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/revittco/electrumlink/internal/client"
	"github.com/revittco/electrumlink/internal/config"
	"github.com/revittco/electrumlink/internal/events"
	"github.com/revittco/electrumlink/internal/jsonrpc"
	"github.com/revittco/electrumlink/internal/transport"
)

const callDeadline = 2 * time.Minute

var errNotConnected = errors.New("not connected yet")

// cmdCall runs one correlated request against the persisted pool and
// prints the result. Connection failures and timeouts are retried.
func cmdCall(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// One-shot output stays quiet unless asked otherwise.
	if os.Getenv("ELECTRUMLINK_LOG_LEVEL") == "" {
		cfg.LogLevel = slog.LevelWarn
	}
	if os.Getenv("ELECTRUMLINK_LOG_FORMAT") == "" {
		cfg.LogFormat = "text"
	}
	rest := applyFlags(cfg, args)
	if len(rest) == 0 {
		return fmt.Errorf("call: method required\n%s", usage)
	}
	method := rest[0]
	params, err := parseParams(rest[1:])
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelDeadline := context.WithTimeout(ctx, callDeadline)
	defer cancelDeadline()

	db, err := openStore(ctx, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	fileCfg, err := prepareServers(ctx, cfg, db)
	if err != nil {
		return err
	}
	eps, err := config.NewService(db).Endpoints(ctx)
	if err != nil {
		return err
	}

	c, err := client.New(client.Options{
		ClientName:      fileCfg.ClientName(),
		ProtocolVersion: fileCfg.ProtocolVersion(),
		Endpoints:       eps,
		Dialer:          transport.Dialer{TLS: fileCfg.UseTLS()},
		Tiers:           fileCfg.Timeouts,
		PingInterval:    fileCfg.PingInterval,
		Cooldown:        fileCfg.Cooldown,
		Sink:            events.LogSink{Logger: logger},
	})
	if err != nil {
		return err
	}
	if err := c.Start(); err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	resp, err := callWithRetry(ctx, c, method, params)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

// callWithRetry waits for a connection and sends the request, backing off
// between attempts. Server errors are final.
func callWithRetry(ctx context.Context, c *client.Client, method string, params []any) (*jsonrpc.Response, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 250 * time.Millisecond
	eb.MaxInterval = 5 * time.Second
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(eb, ctx)

	var resp *jsonrpc.Response
	op := func() error {
		if !c.Connected() {
			return errNotConnected
		}
		r, err := c.Send(ctx, method, params...)
		switch {
		case err == nil:
			resp = r
			return nil
		case errors.Is(err, client.ErrTimeout):
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	notify := func(err error, wait time.Duration) {
		if !errors.Is(err, errNotConnected) {
			slog.Warn("call failed, retrying", "method", method, "error", err, "wait", wait)
		}
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return resp, nil
}

// parseParams accepts either one JSON array or a sequence of JSON values.
// Arguments that are not valid JSON are taken as strings.
func parseParams(args []string) ([]any, error) {
	if len(args) == 1 && len(args[0]) > 0 && args[0][0] == '[' {
		var list []any
		if err := json.Unmarshal([]byte(args[0]), &list); err != nil {
			return nil, fmt.Errorf("parse params: %w", err)
		}
		return list, nil
	}
	params := make([]any, 0, len(args))
	for _, a := range args {
		var v any
		if err := json.Unmarshal([]byte(a), &v); err != nil {
			v = a
		}
		params = append(params, v)
	}
	return params, nil
}

func printResponse(resp *jsonrpc.Response) error {
	if err := resp.Err(); err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(resp.Result, &v); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(out))
	return err
}
