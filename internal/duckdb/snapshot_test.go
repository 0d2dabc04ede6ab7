package duckdb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tinytelemetry/pulse/internal/model"
)

func TestSnapshotTo_CopiesTelemetry(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "pulse.duckdb"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()
	insertTestEntries(t, store,
		model.MetricEntry(model.Metric{Name: "cpu", Value: 0.5, Timestamp: 1000}),
		model.MetricEntry(model.Metric{Name: "cpu", Value: 0.6, Timestamp: 2000}),
	)

	snapshotPath := filepath.Join(dir, "snapshots", "snap.duckdb")
	if err := store.SnapshotTo(context.Background(), snapshotPath); err != nil {
		t.Fatalf("SnapshotTo: %v", err)
	}
	if _, err := os.Stat(snapshotPath + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}

	snap, err := NewStore(snapshotPath)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer snap.Close()
	counts, err := snap.TableRowCounts(context.Background())
	if err != nil {
		t.Fatalf("TableRowCounts: %v", err)
	}
	if counts["metrics"] != 2 {
		t.Errorf("snapshot counts = %v, want 2 metrics", counts)
	}
}

func TestSnapshotTo_InMemoryStore(t *testing.T) {
	store := newTestStore(t)

	err := store.SnapshotTo(context.Background(), filepath.Join(t.TempDir(), "snap.duckdb"))
	if !errors.Is(err, ErrInMemoryStore) {
		t.Fatalf("err = %v, want ErrInMemoryStore", err)
	}
}
