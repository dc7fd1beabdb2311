package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/revittco/electrumlink/internal/client"
	"github.com/revittco/electrumlink/internal/electrum"
)

const adminTimeout = 10 * time.Second

// adminURL turns the serve listen address into the base URL the admin
// commands dial. Wildcard listen hosts are reached over loopback.
func adminURL(addr string) string {
	a := strings.TrimRight(strings.TrimSpace(addr), "/")
	switch {
	case a == "":
		return "http://" + defaultHTTPAddr
	case strings.HasPrefix(a, "http://"), strings.HasPrefix(a, "https://"):
		return a
	}
	host, port, err := net.SplitHostPort(a)
	if err != nil {
		return "http://" + a
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// adminStatus mirrors GET /api/v1/status.
type adminStatus struct {
	client.Status
	Cache *electrum.CacheStats `json:"result_cache,omitempty"`
}

// adminClient talks to the admin API of a running serve.
type adminClient struct {
	base string
	http *http.Client
}

func newAdminClient(addr string) *adminClient {
	return &adminClient{base: adminURL(addr), http: &http.Client{Timeout: adminTimeout}}
}

func (a *adminClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("reach %s (is serve running?): %w", a.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		msg := e.Error
		if msg == "" {
			msg = resp.Status
		}
		if e.Details != "" {
			msg += ": " + e.Details
		}
		return fmt.Errorf("%s %s: %s", method, path, msg)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// status, pause and resume all answer with the status snapshot.
func (a *adminClient) status(ctx context.Context, verb string) (adminStatus, error) {
	method, path := http.MethodGet, "/api/v1/status"
	switch verb {
	case "pause":
		method, path = http.MethodPost, "/api/v1/pause"
	case "resume":
		method, path = http.MethodPost, "/api/v1/resume"
	}
	var st adminStatus
	err := a.do(ctx, method, path, &st)
	return st, err
}

func cmdAdmin(verb string, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlags(cfg, args)

	ctx, cancel := context.WithTimeout(context.Background(), adminTimeout)
	defer cancel()
	st, err := newAdminClient(cfg.HTTPAddr).status(ctx, verb)
	if err != nil {
		return err
	}
	printStatus(os.Stdout, st)
	return nil
}

func printStatus(w io.Writer, st adminStatus) {
	active := "yes"
	if !st.Active {
		active = "no (paused)"
	}
	server := "-"
	if st.Server.Software != "" {
		server = fmt.Sprintf("%s (protocol %s)", st.Server.Software, st.Server.Protocol)
	}
	fmt.Fprintf(w, "electrumlink %s (session %s)\n", st.State, st.SessionID)
	fmt.Fprintf(w, "  Endpoint:       %s of %d\n", st.Endpoint, len(st.Endpoints))
	fmt.Fprintf(w, "  Server:         %s\n", server)
	fmt.Fprintf(w, "  Active:         %s\n", active)
	fmt.Fprintf(w, "  Timeout tier:   %s (%s)\n", st.Tier, st.Timeout)
	fmt.Fprintf(w, "  Failures:       %d (%d full passes)\n", st.Failures, st.Attempts)
	fmt.Fprintf(w, "  Subscriptions:  %d\n", st.Subscriptions)
	fmt.Fprintf(w, "  Pending:        %d\n", st.Pending)
	if st.Cache != nil {
		fmt.Fprintf(w, "  Result cache:   %d entries, %d hits, %d misses\n",
			st.Cache.Entries, st.Cache.Hits, st.Cache.Misses)
	}
}
