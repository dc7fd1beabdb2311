package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/revittco/electrumlink/internal/store"
)

func (d *DB) CreateSession(ctx context.Context, s *store.Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}

	_, err := d.q.ExecContext(ctx, `
		INSERT INTO sessions (id, client_name, protocol_version, started_at, ended_at)
		VALUES (?, ?, ?, ?, NULL)`,
		s.ID, s.ClientName, s.ProtocolVersion, formatTime(s.StartedAt),
	)
	return mapConstraintError(err)
}

func (d *DB) GetSession(ctx context.Context, id string) (*store.Session, error) {
	row := d.q.QueryRowContext(ctx, `
		SELECT id, client_name, protocol_version, started_at, ended_at
		FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return s, err
}

func (d *DB) EndSession(ctx context.Context, id string) error {
	res, err := d.q.ExecContext(ctx, `
		UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		formatTime(time.Now().UTC()), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (d *DB) ListSessions(ctx context.Context, limit int) ([]store.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.q.QueryContext(ctx, `
		SELECT id, client_name, protocol_version, started_at, ended_at
		FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// CleanupStaleSessions ends sessions left open by a process that exited
// without shutting down.
func (d *DB) CleanupStaleSessions(ctx context.Context, before time.Time) (int, error) {
	res, err := d.q.ExecContext(ctx, `
		UPDATE sessions SET ended_at = ?
		WHERE ended_at IS NULL AND started_at < ?`,
		formatTime(time.Now().UTC()), formatTime(before),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanSession(row rowScanner) (*store.Session, error) {
	var s store.Session
	var startedAt string
	var endedAt *string
	if err := row.Scan(&s.ID, &s.ClientName, &s.ProtocolVersion, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	s.StartedAt = parseTime(startedAt)
	s.EndedAt = parseTimePtr(endedAt)
	return &s, nil
}
