package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/revittco/electrumlink/internal/endpoint"
	"github.com/revittco/electrumlink/internal/store"
	"github.com/revittco/electrumlink/internal/timeout"
)

// FileConfig represents the top-level electrumlink.yaml structure.
type FileConfig struct {
	Client       clientConfig   `yaml:"client"`
	TLS          *bool          `yaml:"tls,omitempty"`
	PingInterval time.Duration  `yaml:"ping_interval"`
	Cooldown     time.Duration  `yaml:"cooldown"`
	Timeouts     timeout.Tiers  `yaml:"timeouts"`
	ResultCache  cacheConfig    `yaml:"result_cache"`
	Servers      []serverConfig `yaml:"servers"`
}

type clientConfig struct {
	Name            string `yaml:"name"`
	ProtocolVersion string `yaml:"protocol_version"`
	MinProtocol     string `yaml:"min_protocol,omitempty"`
}

type cacheConfig struct {
	Capacity uint64        `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

type serverConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// Defaults used when a field is left out of the file.
const (
	DefaultClientName      = "electrumlink"
	DefaultProtocolVersion = "1.4"
	DefaultPingInterval    = 10 * time.Second
	DefaultCooldown        = 5 * time.Second
	DefaultCacheCapacity   = 1024
	DefaultCacheTTL        = 10 * time.Minute
)

// LoadFile reads, parses, and validates a YAML config file.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates YAML config data and fills in defaults.
func Parse(data []byte) (*FileConfig, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file exists.
func Default() *FileConfig {
	cfg := &FileConfig{}
	cfg.applyDefaults()
	return cfg
}

func (c *FileConfig) applyDefaults() {
	if c.Client.Name == "" {
		c.Client.Name = DefaultClientName
	}
	if c.Client.ProtocolVersion == "" {
		c.Client.ProtocolVersion = DefaultProtocolVersion
	}
	if c.TLS == nil {
		tls := true
		c.TLS = &tls
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.Cooldown == 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.Timeouts == (timeout.Tiers{}) {
		c.Timeouts = timeout.DefaultTiers()
	}
	if c.ResultCache.Capacity == 0 {
		c.ResultCache.Capacity = DefaultCacheCapacity
	}
	if c.ResultCache.TTL == 0 {
		c.ResultCache.TTL = DefaultCacheTTL
	}
}

// ClientName returns the name announced in the version handshake.
func (c *FileConfig) ClientName() string { return c.Client.Name }

// ProtocolVersion returns the protocol version announced in the handshake.
func (c *FileConfig) ProtocolVersion() string { return c.Client.ProtocolVersion }

// MinProtocol returns the oldest acceptable server protocol. It defaults to
// the announced version.
func (c *FileConfig) MinProtocol() string {
	if c.Client.MinProtocol != "" {
		return c.Client.MinProtocol
	}
	return c.Client.ProtocolVersion
}

// UseTLS reports whether connections are wrapped in TLS.
func (c *FileConfig) UseTLS() bool { return c.TLS == nil || *c.TLS }

// CacheCapacity and CacheTTL size the immutable result cache.
func (c *FileConfig) CacheCapacity() uint64   { return c.ResultCache.Capacity }
func (c *FileConfig) CacheTTL() time.Duration { return c.ResultCache.TTL }

// Endpoints returns the enabled servers listed in the file, in order.
func (c *FileConfig) Endpoints() []endpoint.Endpoint {
	out := make([]endpoint.Endpoint, 0, len(c.Servers))
	for _, s := range c.Servers {
		if !s.Disabled {
			out = append(out, endpoint.Endpoint{Host: s.Host, Port: s.Port})
		}
	}
	return out
}

// Apply upserts servers from config into the store. Items from YAML are
// tagged with source="yaml" and placed after any existing rows in file
// order. Stale yaml-sourced rows that no longer appear in the file are
// deleted automatically.
func Apply(ctx context.Context, s store.Store, cfg *FileConfig) error {
	return s.Tx(ctx, func(tx store.Store) error {
		return applyServers(ctx, tx, cfg.Servers)
	})
}

func applyServers(ctx context.Context, tx store.Store, items []serverConfig) error {
	existing, err := tx.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("list servers: %w", err)
	}
	next := 0
	for _, s := range existing {
		if s.Source != "yaml" && s.Position >= next {
			next = s.Position + 1
		}
	}

	inFile := make(map[string]bool, len(items))
	for i, item := range items {
		srv := &store.Server{
			Host:     item.Host,
			Port:     item.Port,
			Position: next + i,
			Disabled: item.Disabled,
			Source:   "yaml",
		}
		inFile[srv.Address()] = true

		found, err := tx.GetServerByAddress(ctx, item.Host, item.Port)
		if err != nil {
			if err := tx.CreateServer(ctx, srv); err != nil {
				return fmt.Errorf("create server %s: %w", srv.Address(), err)
			}
			continue
		}
		srv.ID = found.ID
		if err := tx.UpdateServer(ctx, srv); err != nil {
			return fmt.Errorf("update server %s: %w", srv.Address(), err)
		}
	}
	return pruneStaleServers(ctx, tx, inFile)
}

func pruneStaleServers(ctx context.Context, tx store.Store, inFile map[string]bool) error {
	all, err := tx.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("list servers for prune: %w", err)
	}
	for _, s := range all {
		if s.Source == "yaml" && !inFile[s.Address()] {
			slog.Info("pruning stale yaml server", "address", s.Address())
			if err := tx.DeleteServer(ctx, s.ID); err != nil {
				return fmt.Errorf("delete stale server %s: %w", s.Address(), err)
			}
		}
	}
	return nil
}
