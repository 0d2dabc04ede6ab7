package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeSnapshotter struct {
	dbPath string

	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSnapshotter) DBPath() string { return f.dbPath }

func (f *fakeSnapshotter) SnapshotTo(_ context.Context, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, []byte("snapshot"), 0644)
}

func (f *fakeSnapshotter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type blockingUploader struct {
	started chan struct{}
}

func (u *blockingUploader) UploadFile(ctx context.Context, _ string) error {
	close(u.started)
	<-ctx.Done()
	return ctx.Err()
}

// steppingClock returns a new second on every call.
func steppingClock() func() time.Time {
	t := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestNew_Validation(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name  string
		store Snapshotter
		cfg   Config
	}{
		{"nil store", nil, Config{Dir: dir}},
		{"in-memory store", &fakeSnapshotter{}, Config{Dir: dir}},
		{"missing dir", &fakeSnapshotter{dbPath: "/data/pulse.duckdb"}, Config{}},
		{"bad bucket", &fakeSnapshotter{dbPath: "/data/pulse.duckdb"}, Config{Dir: dir, BucketURL: "https://bucket"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.store, tc.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	m, err := New(&fakeSnapshotter{dbPath: "/data/pulse.duckdb"}, Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Stop()
	if m.cfg.Interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", m.cfg.Interval, DefaultInterval)
	}
	if m.cfg.KeepLast != DefaultKeepLast {
		t.Errorf("keep = %d, want %d", m.cfg.KeepLast, DefaultKeepLast)
	}
	if m.uploader != nil {
		t.Error("uploader set without bucket")
	}
}

func TestRunOnce_WritesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	m, err := New(&fakeSnapshotter{dbPath: "/data/pulse.duckdb"}, Config{Dir: dir, KeepLast: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Stop()
	m.now = steppingClock()

	// Unrelated files in the dir are left alone.
	other := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(other, nil, 0644); err != nil {
		t.Fatal(err)
	}

	var paths []string
	for i := 0; i < 3; i++ {
		p, err := m.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce %d: %v", i, err)
		}
		if !strings.HasPrefix(filepath.Base(p), "pulse-") {
			t.Errorf("snapshot name = %q", filepath.Base(p))
		}
		paths = append(paths, p)
	}

	if _, err := os.Stat(paths[0]); !os.IsNotExist(err) {
		t.Errorf("oldest snapshot should be pruned, stat err = %v", err)
	}
	for _, p := range paths[1:] {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("snapshot %s missing: %v", p, err)
		}
	}
	if _, err := os.Stat(other); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}
}

func TestRunOnce_SnapshotError(t *testing.T) {
	boom := errors.New("disk full")
	m, err := New(&fakeSnapshotter{dbPath: "/data/pulse.duckdb", err: boom}, Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Stop()

	if _, err := m.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestStart_SnapshotsImmediately(t *testing.T) {
	store := &fakeSnapshotter{dbPath: "/data/pulse.duckdb"}
	m, err := New(store, Config{Dir: t.TempDir(), Interval: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.Start()
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for store.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no startup snapshot")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStop_CancelsUpload(t *testing.T) {
	m, err := New(&fakeSnapshotter{dbPath: "/data/pulse.duckdb"}, Config{Dir: t.TempDir(), Interval: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	up := &blockingUploader{started: make(chan struct{})}
	m.uploader = up
	m.Start()

	select {
	case <-up.started:
	case <-time.After(2 * time.Second):
		t.Fatal("upload never started")
	}

	done := make(chan struct{})
	go func() {
		m.Stop()
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the upload")
	}
}
