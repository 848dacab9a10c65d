package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/ocrd-io/ocrd/internal/history"
)

// Sink sends launch events to ClickHouse using the official Go client.
// The target table is expected to exist; event inserts into a missing
// table surface as Send errors.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(addr, table string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &Sink{conn: conn, table: table}, nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, launch_id, command, pid, api_port, backend_port, probes, detail) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	err := s.conn.Exec(ctx, query,
		string(e.Type),
		e.OccurredAt,
		e.Record.LaunchID,
		e.Record.Command,
		int64(e.Record.PID),
		int64(e.Record.APIPort),
		int64(e.Record.BackendPort),
		int64(e.Record.Probes),
		e.Record.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}
