package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/revittco/electrumlink/internal/store"
)

func cmdServers(args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlags(cfg, args)

	db, err := openStore(ctx, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	servers, err := db.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("list servers: %w", err)
	}
	sessions, err := db.ListSessions(ctx, 1)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	recent, total, err := db.QueryEvents(ctx, store.EventFilter{Limit: 20})
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}

	fmt.Printf("Servers (db: %s)\n", cfg.DBDSN)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  #\tADDRESS\tSOURCE\tSTATE")
	for _, s := range servers {
		state := "enabled"
		if s.Disabled {
			state = "disabled"
		}
		fmt.Fprintf(w, "  %d\t%s\t%s\t%s\n", s.Position, s.Address(), s.Source, state)
	}
	_ = w.Flush()

	if len(sessions) > 0 {
		s := sessions[0]
		ended := "running"
		if s.EndedAt != nil {
			ended = "ended " + s.EndedAt.Local().Format(time.DateTime)
		}
		fmt.Printf("\nLast session %s: started %s, %s\n", s.ID, s.StartedAt.Local().Format(time.DateTime), ended)
	}

	fmt.Printf("\nRecent events (%d of %d)\n", len(recent), total)
	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, e := range recent {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", e.Timestamp.Local().Format(time.DateTime), e.Type, e.Endpoint, e.Detail)
	}
	return w.Flush()
}
