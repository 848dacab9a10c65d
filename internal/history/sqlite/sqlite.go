package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ocrd-io/ocrd/internal/history"
)

// Sink writes launch events to a SQLite database. It also serves the
// history listing, which reads the same table back.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = db.Exec("PRAGMA busy_timeout=3000;")

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS launch_history(
			occurred_at TIMESTAMP NOT NULL,
			event TEXT NOT NULL,
			launch_id TEXT NOT NULL,
			command TEXT NOT NULL,
			pid INTEGER NOT NULL,
			api_port INTEGER NOT NULL,
			backend_port INTEGER NOT NULL,
			probes INTEGER NOT NULL,
			detail TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_launch_history_launch ON launch_history(launch_id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	rec := e.Record
	detail := any(nil)
	if rec.Detail != "" {
		detail = rec.Detail
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO launch_history(occurred_at, event, launch_id, command, pid, api_port, backend_port, probes, detail)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC().Format(time.RFC3339Nano), string(e.Type), rec.LaunchID, rec.Command,
		rec.PID, rec.APIPort, rec.BackendPort, rec.Probes, detail)
	return err
}

// Recent returns up to limit events, newest first. limit <= 0 means 50.
func (s *Sink) Recent(ctx context.Context, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, event, launch_id, command, pid, api_port, backend_port, probes, COALESCE(detail, '')
		FROM launch_history
		ORDER BY occurred_at DESC, rowid DESC
		LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			e  history.Event
			ts string
			et string
		)
		if err := rows.Scan(&ts, &et, &e.Record.LaunchID, &e.Record.Command, &e.Record.PID,
			&e.Record.APIPort, &e.Record.BackendPort, &e.Record.Probes, &e.Record.Detail); err != nil {
			return nil, err
		}
		e.Type = history.EventType(et)
		e.OccurredAt = parseTimestamp(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// parseTimestamp tolerates both our RFC3339 inserts and sqlite's own
// datetime text formats.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
