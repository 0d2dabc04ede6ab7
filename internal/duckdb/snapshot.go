package duckdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrInMemoryStore is returned when snapshotting a store with no backing file.
var ErrInMemoryStore = errors.New("duckdb: in-memory store cannot be snapshotted")

// SnapshotTo checkpoints the database and copies its file to dstPath. The
// checkpoint runs under the write lock; the copy does not.
func (s *Store) SnapshotTo(ctx context.Context, dstPath string) error {
	if s.dbPath == "" {
		return ErrInMemoryStore
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("duckdb: create snapshot dir: %w", err)
	}

	if err := s.checkpoint(ctx); err != nil {
		return err
	}
	if err := copyFile(s.dbPath, dstPath); err != nil {
		return fmt.Errorf("duckdb: copy snapshot: %w", err)
	}
	return nil
}

func (s *Store) checkpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("duckdb: checkpoint: %w", err)
	}
	return nil
}

// copyFile writes through a temp file so dstPath is never left half-written.
func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := dstPath + ".tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return err
	}

	_, err = io.Copy(dst, src)
	if err == nil {
		err = dst.Sync()
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dstPath)
}
