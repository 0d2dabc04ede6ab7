package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tinytelemetry/pulse/internal/model"
)

func openTestJournal(t *testing.T, path string) *Journal {
	t.Helper()
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func replayNames(t *testing.T, j *Journal) []string {
	t.Helper()
	var names []string
	err := j.Replay(func(_ uint64, e model.Entry) error {
		switch e.Kind {
		case model.KindMetric:
			names = append(names, e.Metric.Name)
		case model.KindLog:
			names = append(names, e.Log.Message)
		case model.KindAlert:
			names = append(names, e.Alert.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	return names
}

func TestAppendReplayCommit(t *testing.T) {
	j := openTestJournal(t, filepath.Join(t.TempDir(), "spool.journal"))

	seq1, err := j.Append(model.MetricEntry(model.Metric{Name: "first", Value: 1, Timestamp: 10}))
	if err != nil {
		t.Fatalf("Append first: %v", err)
	}
	seq2, err := j.Append(model.LogEntry(model.Log{Level: model.LevelError, Message: "second", Timestamp: 11}))
	if err != nil {
		t.Fatalf("Append second: %v", err)
	}
	if seq2 <= seq1 {
		t.Fatalf("sequence did not advance: seq1=%d seq2=%d", seq1, seq2)
	}

	if err := j.Commit(seq1); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := j.Committed(); got != seq1 {
		t.Errorf("Committed = %d, want %d", got, seq1)
	}

	names := replayNames(t, j)
	if len(names) != 1 || names[0] != "second" {
		t.Fatalf("Replay = %v, want [second]", names)
	}
}

func TestReopenCompactsCommitted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.journal")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, id := range []string{"a1", "a2", "a3"} {
		if _, err := j.Append(model.AlertEntry(model.Alert{ID: id})); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := j.Commit(2); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j2 := openTestJournal(t, path)
	names := replayNames(t, j2)
	if len(names) != 1 || names[0] != "a3" {
		t.Fatalf("Replay after reopen = %v, want [a3]", names)
	}

	seq, err := j2.Append(model.AlertEntry(model.Alert{ID: "a4"}))
	if err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	if seq != 4 {
		t.Errorf("sequence after reopen = %d, want 4", seq)
	}
}

func TestOpenIgnoresPartialTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.journal")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := j.Append(model.LogEntry(model.Log{Level: model.LevelInfo, Message: "ok"})); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate torn write.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString(`{"seq":999,"entry":`); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close torn writer: %v", err)
	}

	j2 := openTestJournal(t, path)
	names := replayNames(t, j2)
	if len(names) != 1 || names[0] != "ok" {
		t.Fatalf("Replay after torn write = %v, want [ok]", names)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("Open with blank path should fail")
	}
}

func TestAppendAfterClose(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "spool.journal"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = j.Close()
	_ = j.Close()

	if _, err := j.Append(model.MetricEntry(model.Metric{Name: "late"})); err == nil {
		t.Fatal("Append after Close should fail")
	}
}
