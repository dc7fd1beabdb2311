package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/revittco/electrumlink/internal/config"
	"github.com/revittco/electrumlink/internal/electrum"
	"github.com/revittco/electrumlink/internal/endpoint"
	"github.com/revittco/electrumlink/internal/jsonrpc"
	"github.com/revittco/electrumlink/internal/transport"
)

const (
	probeTimeout     = 10 * time.Second
	probeConcurrency = 8
)

type probeResult struct {
	ep      endpoint.Endpoint
	info    electrum.ServerInfo
	latency time.Duration
	err     error
}

func cmdProbe(args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlags(cfg, args)
	newLogger(cfg)

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
	if len(eps) == 0 {
		return errors.New("no enabled servers to probe")
	}

	dialer := transport.Dialer{TLS: fileCfg.UseTLS()}
	results := make([]probeResult, len(eps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)
	for i, ep := range eps {
		g.Go(func() error {
			results[i] = probeOne(gctx, dialer, ep, fileCfg)
			return nil
		})
	}
	_ = g.Wait()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tSOFTWARE\tPROTOCOL\tLATENCY\tSTATUS")
	for _, r := range results {
		if r.err != nil {
			fmt.Fprintf(w, "%s\t-\t-\t-\t%v\n", r.ep, r.err)
			continue
		}
		status := "ok"
		if err := electrum.CheckProtocol(fileCfg.MinProtocol(), r.info.Protocol); err != nil {
			status = err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ep, r.info.Software, r.info.Protocol,
			r.latency.Round(time.Millisecond), status)
	}
	return w.Flush()
}

// probeOne opens a connection, announces itself, and times the reply.
func probeOne(ctx context.Context, dialer transport.Dialer, ep endpoint.Endpoint, fileCfg *config.FileConfig) probeResult {
	res := probeResult{ep: ep}
	start := time.Now()

	conn, err := dialer.Dial(ctx, ep, probeTimeout)
	if err != nil {
		res.err = err
		return res
	}
	defer func() { _ = conn.Close() }()

	req := jsonrpc.NewRequest("0", electrum.MethodServerVersion,
		[]any{fileCfg.ClientName(), fileCfg.ProtocolVersion()})
	data, err := jsonrpc.EncodeRequest(req)
	if err != nil {
		res.err = err
		return res
	}
	if err := conn.WriteLine(data, probeTimeout); err != nil {
		res.err = err
		return res
	}

	conn.SetReadTimeout(probeTimeout)
	for {
		line, err := conn.ReadLine()
		if err != nil {
			res.err = err
			return res
		}
		msg, err := jsonrpc.Decode(line)
		if err != nil || msg.IsBatch() || msg.Response.ID != req.ID {
			continue
		}
		res.latency = time.Since(start)
		if err := msg.Response.Err(); err != nil {
			res.err = err
			return res
		}
		res.info, res.err = electrum.ParseServerInfo(msg.Response.Result)
		return res
	}
}
