package config

import (
	"context"
	"log/slog"

	"github.com/revittco/electrumlink/internal/store"
)

// defaultServers are public SSL servers seeded on first run.
var defaultServers = []store.Server{
	{Host: "electrum.blockstream.info", Port: 50002},
	{Host: "electrum.emzy.de", Port: 50002},
	{Host: "electrum.bitaroo.net", Port: 50002},
	{Host: "fortress.qtornado.com", Port: 443},
	{Host: "electrum.acinq.co", Port: 50002},
}

// SeedDefaultServers inserts the built-in servers when the table is empty.
func SeedDefaultServers(ctx context.Context, s store.Store) error {
	existing, err := s.ListServers(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	return s.Tx(ctx, func(tx store.Store) error {
		for i, d := range defaultServers {
			srv := d
			srv.Position = i
			srv.Source = "default"
			if err := tx.CreateServer(ctx, &srv); err != nil {
				return err
			}
			slog.Info("seeded default server", "address", srv.Address())
		}
		return nil
	})
}

// DefaultFile is the electrumlink.yaml written by init.
const DefaultFile = `# electrumlink configuration
client:
  name: electrumlink
  protocol_version: "1.4"
tls: true
ping_interval: 10s
cooldown: 5s
timeouts:
  small: 10s
  medium: 60s
  max: 300s
  small_threshold: 10s
  medium_threshold: 60s
result_cache:
  capacity: 1024
  ttl: 10m
# Servers listed here are upserted on every start and take rotation
# positions after the built-in defaults. Remove an entry to prune it.
servers: []
`
