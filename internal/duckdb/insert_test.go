package duckdb

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/pulse/internal/journal"
	"github.com/tinytelemetry/pulse/internal/model"
)

func rowCount(t *testing.T, store *Store, table string) int64 {
	t.Helper()
	counts, err := store.TableRowCounts(context.Background())
	if err != nil {
		t.Fatalf("TableRowCounts: %v", err)
	}
	return counts[table]
}

func testLog(msg string) model.Entry {
	return model.LogEntry(model.Log{Level: model.LevelInfo, Message: msg, Timestamp: time.Now().UnixMilli()})
}

func TestInsertBuffer_AddAndStop(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store, InsertBufferConfig{FlushInterval: time.Hour})

	for i := 0; i < 10; i++ {
		if err := buf.Add(testLog("test message")); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	buf.Stop()

	if got := rowCount(t, store, "logs"); got != 10 {
		t.Errorf("after Stop, logs = %d, want 10", got)
	}
}

func TestInsertBuffer_BatchThreshold(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store, InsertBufferConfig{BatchSize: 50, FlushInterval: time.Hour})

	for i := 0; i < 120; i++ {
		_ = buf.Add(model.MetricEntry(model.Metric{Name: "batch", Value: float64(i), Timestamp: int64(i)}))
	}

	buf.Stop()

	if got := rowCount(t, store, "metrics"); got != 120 {
		t.Errorf("after batch insert, metrics = %d, want 120", got)
	}
}

func TestInsertBuffer_SyncMakesWritesVisible(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store, InsertBufferConfig{FlushInterval: time.Hour})
	defer buf.Stop()

	for i := 0; i < 5; i++ {
		_ = buf.Add(testLog("visible"))
	}
	if err := buf.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if got := rowCount(t, store, "logs"); got != 5 {
		t.Errorf("after Sync, logs = %d, want 5", got)
	}
}

func TestInsertBuffer_ConcurrentAdd(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store, InsertBufferConfig{BatchSize: 64})

	var wg sync.WaitGroup
	numGoroutines := 10
	entriesPerGoroutine := 50

	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < entriesPerGoroutine; i++ {
				_ = buf.Add(testLog("concurrent test"))
			}
		}()
	}

	wg.Wait()
	buf.Stop()

	expected := int64(numGoroutines * entriesPerGoroutine)
	if got := rowCount(t, store, "logs"); got != expected {
		t.Errorf("concurrent insert logs = %d, want %d", got, expected)
	}
}

func TestInsertBuffer_StopIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store)

	_ = buf.Add(testLog("idempotent stop"))

	buf.Stop()
	buf.Stop()

	if got := rowCount(t, store, "logs"); got != 1 {
		t.Errorf("after double Stop, logs = %d, want 1", got)
	}
}

func TestInsertBuffer_AddAfterStop(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store)
	buf.Stop()

	if err := buf.Add(testLog("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Add after Stop = %v, want ErrClosed", err)
	}
	if err := buf.Sync(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Sync after Stop = %v, want ErrClosed", err)
	}
}

func TestInsertBuffer_CommitsJournal(t *testing.T) {
	store := newTestStore(t)
	j, err := journal.Open(filepath.Join(t.TempDir(), "spool.journal"))
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	buf := NewInsertBuffer(store, InsertBufferConfig{FlushInterval: time.Hour, Journal: j})

	for i := 0; i < 3; i++ {
		_ = buf.Add(testLog("journaled"))
	}
	if err := buf.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := j.Committed(); got != 3 {
		t.Errorf("Committed = %d, want 3", got)
	}
	buf.Stop()
}
