package duckdb

import (
	"context"
	"testing"
	"time"

	"github.com/tinytelemetry/pulse/internal/model"
)

func TestRetentionCleaner_StopIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	cleaner := NewRetentionCleaner(store, RetentionConfig{RetentionDays: 1})
	if cleaner == nil {
		t.Fatal("expected non-nil retention cleaner")
	}

	cleaner.Stop()
	cleaner.Stop()
}

func TestRetentionCleaner_DisabledIsNil(t *testing.T) {
	store := newTestStore(t)
	cleaner := NewRetentionCleaner(store, RetentionConfig{RetentionDays: 0})
	if cleaner != nil {
		t.Fatal("expected nil cleaner when retention is disabled")
	}
	cleaner.Stop()
}

func TestRetentionCleaner_StartupCleanup(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	insertTestEntries(t, store,
		model.LogEntry(model.Log{Level: model.LevelInfo, Message: "stale", Timestamp: model.Millis(now.Add(-72 * time.Hour))}),
		model.LogEntry(model.Log{Level: model.LevelInfo, Message: "fresh", Timestamp: model.Millis(now)}),
	)

	cleaner := NewRetentionCleaner(store, RetentionConfig{RetentionDays: 2})
	defer cleaner.Stop()

	got, err := store.QueryLogs(context.Background(), model.LogQuery{})
	if err != nil {
		t.Fatalf("QueryLogs: %v", err)
	}
	if len(got) != 1 || got[0].Message != "fresh" {
		t.Errorf("remaining logs = %+v, want only fresh", got)
	}
}
