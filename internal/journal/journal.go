// Package journal is a durable append-only spool of telemetry entries.
//
// Entries are stored one JSON object per line; commit progress lives in a
// sidecar file so uncommitted entries can be replayed after a crash.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/tinytelemetry/pulse/internal/model"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

type line struct {
	Seq   uint64      `json:"seq"`
	Entry model.Entry `json:"entry"`
}

// Journal is safe for concurrent use.
type Journal struct {
	mu         sync.Mutex
	path       string
	commitPath string
	file       *os.File
	nextSeq    uint64
	committed  uint64
}

// Open creates or opens a journal at path. Committed entries are compacted
// away and a partially written trailing line is ignored.
func Open(path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), defaultDirMode); err != nil {
		return nil, fmt.Errorf("journal: mkdir: %w", err)
	}

	commitPath := path + ".commit"
	committed, err := readCommitted(commitPath)
	if err != nil {
		return nil, err
	}

	maxSeq, err := compact(path, committed)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, defaultFileMode)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}

	return &Journal{
		path:       path,
		commitPath: commitPath,
		file:       f,
		nextSeq:    max(maxSeq, committed) + 1,
		committed:  committed,
	}, nil
}

// Append persists one entry, fsyncs, and returns its sequence number.
func (j *Journal) Append(e model.Entry) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return 0, errors.New("journal: closed")
	}

	seq := j.nextSeq
	data, err := json.Marshal(line{Seq: seq, Entry: e})
	if err != nil {
		return 0, fmt.Errorf("journal: marshal entry: %w", err)
	}
	data = append(data, '\n')

	if _, err := j.file.Write(data); err != nil {
		return 0, fmt.Errorf("journal: write entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return 0, fmt.Errorf("journal: sync entry: %w", err)
	}
	j.nextSeq++
	return seq, nil
}

// Commit marks every entry up to seq as durable elsewhere.
func (j *Journal) Commit(seq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if seq <= j.committed {
		return nil
	}
	if err := writeCommitted(j.commitPath, seq); err != nil {
		return err
	}
	j.committed = seq
	return nil
}

// Committed returns the highest committed sequence number.
func (j *Journal) Committed() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.committed
}

// Replay calls fn for each uncommitted entry in sequence order.
func (j *Journal) Replay(fn func(seq uint64, e model.Entry) error) error {
	if fn == nil {
		return errors.New("journal: replay callback is nil")
	}

	j.mu.Lock()
	path := j.path
	committed := j.committed
	j.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("journal: open for replay: %w", err)
	}
	defer f.Close()

	return scan(f, func(l line, _ []byte) error {
		if l.Seq <= committed {
			return nil
		}
		return fn(l.Seq, l.Entry)
	})
}

// Close closes the journal file. It is safe to call more than once.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// scan decodes complete lines from r. It stops quietly at a partial trailing
// line or the first malformed line so replay stays deterministic.
func scan(r io.Reader, fn func(l line, raw []byte) error) error {
	reader := bufio.NewReader(r)
	for {
		raw, err := reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("journal: read: %w", err)
		}
		if len(raw) == 0 || raw[len(raw)-1] != '\n' {
			return nil
		}

		var l line
		if uerr := json.Unmarshal(raw, &l); uerr != nil {
			return nil
		}
		if ferr := fn(l, raw); ferr != nil {
			return ferr
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

func readCommitted(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("journal: read commit file: %w", err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("journal: parse commit seq: %w", err)
	}
	return seq, nil
}

// writeCommitted replaces the commit sidecar atomically via rename.
func writeCommitted(path string, seq uint64) error {
	tmp := path + ".tmp"
	if err := writeSynced(tmp, []byte(strconv.FormatUint(seq, 10)+"\n")); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("journal: write commit tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("journal: rename commit file: %w", err)
	}
	return nil
}

func writeSynced(path string, payload []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, defaultFileMode)
	if err != nil {
		return err
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// compact rewrites path keeping only entries above committed and returns the
// highest sequence seen.
func compact(path string, committed uint64) (uint64, error) {
	src, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, defaultFileMode)
	if err != nil {
		return 0, fmt.Errorf("journal: open source for compact: %w", err)
	}
	defer src.Close()

	tmpPath := path + ".compact"
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, defaultFileMode)
	if err != nil {
		return 0, fmt.Errorf("journal: open compact tmp: %w", err)
	}
	abort := func(err error) (uint64, error) {
		_ = dst.Close()
		_ = os.Remove(tmpPath)
		return 0, err
	}

	var maxSeq uint64
	err = scan(src, func(l line, raw []byte) error {
		maxSeq = max(maxSeq, l.Seq)
		if l.Seq <= committed {
			return nil
		}
		if _, werr := dst.Write(raw); werr != nil {
			return fmt.Errorf("journal: compact write: %w", werr)
		}
		return nil
	})
	if err != nil {
		return abort(err)
	}
	if err := dst.Sync(); err != nil {
		return abort(fmt.Errorf("journal: compact sync: %w", err))
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("journal: compact close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("journal: compact rename: %w", err)
	}
	return maxSeq, nil
}
