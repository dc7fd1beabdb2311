package config

import (
	"context"
	"fmt"

	"github.com/revittco/electrumlink/internal/endpoint"
	"github.com/revittco/electrumlink/internal/store"
)

// Service provides server list access with validation, wrapping the store.
type Service struct {
	store store.ServerStore
}

// NewService creates a config Service.
func NewService(s store.ServerStore) *Service {
	return &Service{store: s}
}

// Servers returns every persisted server in rotation order.
func (s *Service) Servers(ctx context.Context) ([]store.Server, error) {
	return s.store.ListServers(ctx)
}

// Endpoints returns the enabled servers in rotation order.
func (s *Service) Endpoints(ctx context.Context) ([]endpoint.Endpoint, error) {
	servers, err := s.store.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	return EnabledEndpoints(servers), nil
}

// ReplaceServers validates eps and persists them as the whole list, tagged
// source="api". It returns the stored rows.
func (s *Service) ReplaceServers(ctx context.Context, eps []endpoint.Endpoint) ([]store.Server, error) {
	if err := ValidateServers(eps); err != nil {
		return nil, err
	}
	rows := make([]store.Server, len(eps))
	for i, ep := range eps {
		rows[i] = store.Server{Host: ep.Host, Port: ep.Port, Source: "api"}
	}
	if err := s.store.ReplaceServers(ctx, rows); err != nil {
		return nil, fmt.Errorf("replace servers: %w", err)
	}
	return s.store.ListServers(ctx)
}

// EnabledEndpoints converts stored rows to endpoints, skipping disabled ones.
func EnabledEndpoints(servers []store.Server) []endpoint.Endpoint {
	out := make([]endpoint.Endpoint, 0, len(servers))
	for _, s := range servers {
		if !s.Disabled {
			out = append(out, endpoint.Endpoint{Host: s.Host, Port: s.Port})
		}
	}
	return out
}
