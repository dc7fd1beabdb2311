package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/revittco/electrumlink/internal/endpoint"
)

// ValidationError holds all validation failures for a config file.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s", strings.Join(e.Errors, "; "))
}

// validate checks the parsed config for correctness.
func validate(cfg *FileConfig) error {
	var errs []string

	if err := validateVersion(cfg.Client.ProtocolVersion); err != nil {
		errs = append(errs, fmt.Sprintf("client.protocol_version: %v", err))
	}
	if cfg.Client.MinProtocol != "" {
		if err := validateVersion(cfg.Client.MinProtocol); err != nil {
			errs = append(errs, fmt.Sprintf("client.min_protocol: %v", err))
		}
	}
	if cfg.PingInterval < 0 {
		errs = append(errs, "ping_interval must not be negative")
	}
	if cfg.Cooldown < 0 {
		errs = append(errs, "cooldown must not be negative")
	}
	if err := cfg.Timeouts.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("timeouts: %v", err))
	}
	if cfg.ResultCache.TTL < 0 {
		errs = append(errs, "result_cache.ttl must not be negative")
	}

	seen := make(map[string]bool, len(cfg.Servers))
	for i, s := range cfg.Servers {
		ep := endpoint.Endpoint{Host: s.Host, Port: s.Port}
		if err := ep.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("servers[%d]: %v", i, err))
			continue
		}
		if seen[ep.Address()] {
			errs = append(errs, fmt.Sprintf("servers[%d]: duplicate server %q", i, ep.Address()))
		}
		seen[ep.Address()] = true
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func validateVersion(v string) error {
	if _, err := version.NewVersion(v); err != nil {
		return fmt.Errorf("invalid version %q", v)
	}
	return nil
}

// ValidateServers checks a replacement server list: at least one entry,
// every endpoint dialable, no duplicates.
func ValidateServers(eps []endpoint.Endpoint) error {
	if len(eps) == 0 {
		return &ValidationError{Errors: []string{"servers: at least one server is required"}}
	}
	var errs []string
	seen := make(map[string]bool, len(eps))
	for i, ep := range eps {
		if err := ep.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("servers[%d]: %v", i, err))
			continue
		}
		if seen[ep.Address()] {
			errs = append(errs, fmt.Sprintf("servers[%d]: duplicate server %q", i, ep.Address()))
		}
		seen[ep.Address()] = true
	}
	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}
