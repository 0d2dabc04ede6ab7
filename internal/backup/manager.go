package backup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	DefaultInterval = 6 * time.Hour
	DefaultKeepLast = 24

	filePrefix = "pulse-"
	fileSuffix = ".duckdb"
	// Lexical order of the stamp matches chronological order.
	stampLayout = "20060102T150405.000Z"
)

// Manager snapshots a store on a fixed interval, uploads each snapshot when
// a bucket is configured and keeps the newest KeepLast files locally.
type Manager struct {
	store    Snapshotter
	cfg      Config
	uploader Uploader
	now      func() time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New validates cfg and returns a manager; call Start to begin the schedule.
func New(store Snapshotter, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, errors.New("backup: nil snapshotter")
	}
	if strings.TrimSpace(store.DBPath()) == "" {
		return nil, errors.New("backup: store is in-memory, nothing to snapshot")
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("backup: dir is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = DefaultKeepLast
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("backup: create dir: %w", err)
	}

	var uploader Uploader
	if strings.TrimSpace(cfg.BucketURL) != "" {
		s3u, err := NewS3Uploader(cfg.BucketURL, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("backup: %w", err)
		}
		uploader = s3u
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:    store,
		cfg:      cfg,
		uploader: uploader,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start takes one snapshot immediately and then one per interval.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.loop()
}

func (m *Manager) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := m.RunOnce(m.ctx); err != nil && m.ctx.Err() == nil {
			log.Printf("backup: snapshot failed: %v", err)
		}
		select {
		case <-ticker.C:
		case <-m.ctx.Done():
			return
		}
	}
}

// RunOnce writes one snapshot, uploads it when configured and prunes old
// local copies. It returns the snapshot path.
func (m *Manager) RunOnce(ctx context.Context) (string, error) {
	name := filePrefix + m.now().UTC().Format(stampLayout) + fileSuffix
	path := filepath.Join(m.cfg.Dir, name)

	if err := m.store.SnapshotTo(ctx, path); err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	log.Printf("backup: wrote %s", path)

	if m.uploader != nil {
		if err := m.uploader.UploadFile(ctx, path); err != nil {
			return path, fmt.Errorf("upload %s: %w", name, err)
		}
		log.Printf("backup: uploaded %s", name)
	}

	if err := prune(m.cfg.Dir, m.cfg.KeepLast); err != nil {
		return path, fmt.Errorf("prune: %w", err)
	}
	return path, nil
}

// Stop cancels any in-flight snapshot or upload and waits for the loop.
// It is safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
	})
}

// prune removes all but the newest keep snapshots in dir.
func prune(dir string, keep int) error {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return err
	}
	if len(matches) <= keep {
		return nil
	}

	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	for _, old := range matches[keep:] {
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
