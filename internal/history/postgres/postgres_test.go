package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ocrd-io/ocrd/internal/history"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	rec := history.Record{
		LaunchID:    "launch-pg-1",
		Command:     "sleep 600",
		PID:         12345,
		APIPort:     8000,
		BackendPort: 8001,
	}

	if err := sink.Send(ctx, history.NewEvent(history.EventLaunchStarted, rec)); err != nil {
		t.Fatalf("Failed to send launch_started event: %v", err)
	}

	rec.Probes = 7
	rec.Detail = "exit status 1"
	if err := sink.Send(ctx, history.NewEvent(history.EventBackendExited, rec)); err != nil {
		t.Fatalf("Failed to send backend_exited event: %v", err)
	}

	rows, err := sink.db.QueryContext(ctx, "SELECT COUNT(*) FROM launch_history WHERE launch_id = $1", rec.LaunchID)
	if err != nil {
		t.Fatalf("Failed to query launch_history: %v", err)
	}
	defer func() { _ = rows.Close() }()

	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			t.Fatalf("Failed to scan count: %v", err)
		}
	}
	if count != 2 {
		t.Errorf("Expected 2 events in history, got %d", count)
	}

	var detail string
	row := sink.db.QueryRowContext(ctx,
		"SELECT detail FROM launch_history WHERE launch_id = $1 AND event = $2", rec.LaunchID, "backend_exited")
	if err := row.Scan(&detail); err != nil {
		t.Fatalf("Failed to read detail back: %v", err)
	}
	if detail != "exit status 1" {
		t.Errorf("detail = %q", detail)
	}
}

func TestPostgresSink_EmptyDSN(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
