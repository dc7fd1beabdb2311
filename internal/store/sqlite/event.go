package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/revittco/electrumlink/internal/store"
)

func (d *DB) InsertEvent(ctx context.Context, e *store.ConnectionEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	_, err := d.q.ExecContext(ctx, `
		INSERT INTO connection_events (id, session_id, type, endpoint, detail, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Type, e.Endpoint, e.Detail, formatTime(e.Timestamp),
	)
	return err
}

func (d *DB) QueryEvents(
	ctx context.Context, f store.EventFilter,
) ([]store.ConnectionEvent, int, error) {
	where, args := buildEventWhere(f)

	var total int
	if err := d.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM connection_events"+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.q.QueryContext(ctx, `
		SELECT id, session_id, type, endpoint, detail, timestamp
		FROM connection_events`+where+`
		ORDER BY timestamp DESC, rowid DESC LIMIT ? OFFSET ?`,
		append(args, limit, f.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []store.ConnectionEvent
	for rows.Next() {
		var e store.ConnectionEvent
		var ts string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.Endpoint, &e.Detail, &ts); err != nil {
			return nil, 0, err
		}
		e.Timestamp = parseTime(ts)
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (d *DB) PruneEvents(ctx context.Context, before time.Time) (int, error) {
	res, err := d.q.ExecContext(ctx,
		`DELETE FROM connection_events WHERE timestamp < ?`, formatTime(before))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func buildEventWhere(f store.EventFilter) (string, []any) {
	var conds []string
	var args []any
	if f.SessionID != nil {
		conds = append(conds, "session_id = ?")
		args = append(args, *f.SessionID)
	}
	if f.Type != nil {
		conds = append(conds, "type = ?")
		args = append(args, *f.Type)
	}
	if f.Endpoint != nil {
		conds = append(conds, "endpoint = ?")
		args = append(args, *f.Endpoint)
	}
	if f.After != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, formatTime(*f.After))
	}
	if f.Before != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, formatTime(*f.Before))
	}
	return whereClause(conds), args
}
