package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/revittco/electrumlink/internal/store"
)

const serverColumns = `id, host, port, position, disabled, source, created_at, updated_at`

func (d *DB) CreateServer(ctx context.Context, s *store.Server) error {
	return insertServer(ctx, d.q, s)
}

func insertServer(ctx context.Context, q queryable, s *store.Server) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.Source == "" {
		s.Source = "api"
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO servers (`+serverColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Host, s.Port, s.Position, s.Disabled, s.Source,
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	return mapConstraintError(err)
}

func (d *DB) GetServer(ctx context.Context, id string) (*store.Server, error) {
	row := d.q.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE id = ?`, id)
	return scanServer(row)
}

func (d *DB) GetServerByAddress(ctx context.Context, host string, port int) (*store.Server, error) {
	row := d.q.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE host = ? AND port = ?`, host, port)
	return scanServer(row)
}

func (d *DB) ListServers(ctx context.Context) ([]store.Server, error) {
	rows, err := d.q.QueryContext(ctx,
		`SELECT `+serverColumns+` FROM servers ORDER BY position, host, port`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (d *DB) UpdateServer(ctx context.Context, s *store.Server) error {
	s.UpdatedAt = time.Now().UTC()
	if s.Source == "" {
		s.Source = "api"
	}

	res, err := d.q.ExecContext(ctx, `
		UPDATE servers
		SET host = ?, port = ?, position = ?, disabled = ?, source = ?, updated_at = ?
		WHERE id = ?`,
		s.Host, s.Port, s.Position, s.Disabled, s.Source, formatTime(s.UpdatedAt), s.ID,
	)
	if err != nil {
		return mapConstraintError(err)
	}
	return checkRowsAffected(res)
}

func (d *DB) DeleteServer(ctx context.Context, id string) error {
	res, err := d.q.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (d *DB) ReplaceServers(ctx context.Context, servers []store.Server) error {
	return d.withTx(ctx, func(q queryable) error {
		if _, err := q.ExecContext(ctx, `DELETE FROM servers`); err != nil {
			return fmt.Errorf("clear servers: %w", err)
		}
		for i := range servers {
			servers[i].ID = ""
			servers[i].Position = i
			if err := insertServer(ctx, q, &servers[i]); err != nil {
				return fmt.Errorf("insert %s: %w", servers[i].Address(), err)
			}
		}
		return nil
	})
}

func scanServer(row rowScanner) (*store.Server, error) {
	var s store.Server
	var createdAt, updatedAt string
	err := row.Scan(
		&s.ID, &s.Host, &s.Port, &s.Position, &s.Disabled, &s.Source,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return &s, nil
}
