package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/tinytelemetry/pulse/internal/duckdb/migrate"
)

// DefaultQueryTimeout bounds every statement issued by the store.
const DefaultQueryTimeout = 30 * time.Second

// Store owns the DuckDB connection holding metrics, logs and alerts.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dbPath       string
	QueryTimeout time.Duration
}

// NewStore opens or creates a DuckDB database and migrates it to the latest
// schema. An empty dbPath opens an in-memory database.
func NewStore(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	dsn := ""
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("duckdb: mkdir: %w", err)
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("duckdb: open: %w", err)
	}
	// Each connection to an in-memory DSN would see its own database.
	if dsn == "" {
		db.SetMaxOpenConns(1)
	}

	qt := DefaultQueryTimeout
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		qt = queryTimeout[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), qt)
	defer cancel()
	if err := migrate.NewRunner(db).Run(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:           db,
		dbPath:       dbPath,
		QueryTimeout: qt,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying handle for ad-hoc inspection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// DBPath returns the database file path, or "" for an in-memory store.
func (s *Store) DBPath() string {
	return s.dbPath
}

// queryCtx derives a context bounded by the store's query timeout.
func (s *Store) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, s.QueryTimeout)
}

// TableRowCounts returns the number of rows in each telemetry table.
func (s *Store) TableRowCounts(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	counts := make(map[string]int64, len(telemetryTables))
	for _, table := range telemetryTables {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("duckdb: count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

var telemetryTables = []string{"metrics", "logs", "alerts"}
