package migrate

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunCreatesTelemetryTables(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := NewRunner(db).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, table := range []string{"metrics", "logs", "alerts", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT table_name FROM information_schema.tables WHERE table_name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestRunIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	r := NewRunner(db)

	if err := r.Run(ctx); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := r.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	latest, err := Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	cur, pending, err := r.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if cur != latest || pending != 0 {
		t.Errorf("Status = (%d, %d), want (%d, 0)", cur, pending, latest)
	}
}

func TestStatusBeforeRun(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	latest, err := Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest < 1 {
		t.Fatalf("Latest = %d, want at least one embedded migration", latest)
	}

	cur, pending, err := NewRunner(db).Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if cur != 0 || pending != latest {
		t.Errorf("Status = (%d, %d), want (0, %d)", cur, pending, latest)
	}
}
