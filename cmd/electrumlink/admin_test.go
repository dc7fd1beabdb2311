package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/revittco/electrumlink/internal/api"
	"github.com/revittco/electrumlink/internal/client"
	"github.com/revittco/electrumlink/internal/config"
	"github.com/revittco/electrumlink/internal/endpoint"
	"github.com/revittco/electrumlink/internal/store/sqlite"
)

func TestAdminURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty uses default", in: "", want: "http://127.0.0.1:8090"},
		{name: "port only", in: ":8090", want: "http://127.0.0.1:8090"},
		{name: "ipv4 wildcard", in: "0.0.0.0:9000", want: "http://127.0.0.1:9000"},
		{name: "ipv6 wildcard", in: "[::]:9000", want: "http://127.0.0.1:9000"},
		{name: "ipv6 loopback", in: "[::1]:8090", want: "http://[::1]:8090"},
		{name: "named host", in: "admin.local:8090", want: "http://admin.local:8090"},
		{name: "url trailing slash", in: "https://admin.local/", want: "https://admin.local"},
		{name: "padded", in: "  127.0.0.1:8090 ", want: "http://127.0.0.1:8090"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := adminURL(tt.in); got != tt.want {
				t.Fatalf("adminURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

type stubController struct {
	mu     sync.Mutex
	active bool
}

func (s *stubController) Status() client.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return client.Status{
		SessionID: "sess-admin",
		State:     "connected",
		Endpoint:  "electrum.example:50002",
		Endpoints: []string{"electrum.example:50002", "backup.example:50002"},
		Server:    client.ServerInfo{Software: "ElectrumX 1.16.0", Protocol: "1.4"},
		Tier:      "small",
		Active:    s.active,
	}
}

func (s *stubController) SetActive(active bool) {
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
}

func (s *stubController) ReplaceEndpoints([]endpoint.Endpoint) (bool, error) { return false, nil }

func newAdminServer(t *testing.T) (*stubController, *adminClient) {
	t.Helper()
	db, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "admin.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctrl := &stubController{active: true}
	srv := httptest.NewServer(api.NewRouter(api.RouterDeps{
		Events:  db,
		Servers: config.NewService(db),
		Client:  ctrl,
	}))
	t.Cleanup(srv.Close)
	return ctrl, newAdminClient(srv.URL)
}

func TestAdminPauseResume(t *testing.T) {
	ctrl, a := newAdminServer(t)
	ctx := context.Background()

	st, err := a.status(ctx, "pause")
	if err != nil {
		t.Fatal(err)
	}
	if st.Active || ctrl.Status().Active {
		t.Fatal("pause did not reach the client")
	}

	var out bytes.Buffer
	printStatus(&out, st)
	for _, want := range []string{"session sess-admin", "of 2", "ElectrumX 1.16.0 (protocol 1.4)", "no (paused)"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("status output missing %q:\n%s", want, out.String())
		}
	}

	st, err = a.status(ctx, "resume")
	if err != nil {
		t.Fatal(err)
	}
	if !st.Active || !ctrl.Status().Active {
		t.Fatal("resume did not reach the client")
	}

	st, err = a.status(ctx, "status")
	if err != nil {
		t.Fatal(err)
	}
	if st.SessionID != "sess-admin" || st.Cache != nil {
		t.Fatalf("status = %+v", st)
	}
}

func TestAdminErrors(t *testing.T) {
	_, a := newAdminServer(t)
	var out struct{}
	err := a.do(context.Background(), "POST", "/api/v1/call", &out)
	if err == nil || !strings.Contains(err.Error(), "/api/v1/call") {
		t.Fatalf("missing route err = %v", err)
	}

	down := newAdminClient("127.0.0.1:1")
	if _, err := down.status(context.Background(), "status"); err == nil || !strings.Contains(err.Error(), "is serve running") {
		t.Fatalf("unreachable err = %v", err)
	}
}
