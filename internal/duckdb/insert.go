package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/pulse/internal/journal"
	"github.com/tinytelemetry/pulse/internal/model"
)

const (
	// DefaultFlushQueueSize is the number of batches that can wait for the
	// flush worker.
	DefaultFlushQueueSize = 64
	DefaultBatchSize      = 500
	DefaultFlushInterval  = 100 * time.Millisecond
)

// ErrClosed is returned by InsertBuffer after Stop.
var ErrClosed = errors.New("duckdb: insert buffer closed")

type journaledEntry struct {
	seq   uint64
	entry model.Entry
}

// flushJob is one batch for the worker. A non-nil done marks a barrier: the
// worker reports the batch result on it once every earlier job has landed.
type flushJob struct {
	batch []journaledEntry
	done  chan error
}

type entryWriter interface {
	InsertEntries(ctx context.Context, entries []model.Entry) error
}

type durableJournal interface {
	Append(e model.Entry) (uint64, error)
	Commit(seq uint64) error
	Close() error
}

// InsertBuffer batches entries and writes them to DuckDB on a worker
// goroutine so Add never waits on database IO.
type InsertBuffer struct {
	writer        entryWriter
	mu            sync.Mutex
	pending       []journaledEntry
	flushChan     chan flushJob
	maxBatch      int
	flushInterval time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup
	journal       durableJournal

	// sendMu orders sends on flushChan against Stop closing it.
	sendMu   sync.RWMutex
	closed   bool
	stopOnce sync.Once

	backpressureCount atomic.Int64
	lastBPLog         atomic.Int64
}

// InsertBufferConfig holds tunable parameters for the insert buffer.
type InsertBufferConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
	Journal        *journal.Journal
}

// NewInsertBuffer starts a buffer that flushes into writer.
func NewInsertBuffer(writer entryWriter, conf ...InsertBufferConfig) *InsertBuffer {
	batchSize := DefaultBatchSize
	flushInterval := DefaultFlushInterval
	flushQueueSize := DefaultFlushQueueSize
	var j *journal.Journal
	if len(conf) > 0 {
		if conf[0].BatchSize > 0 {
			batchSize = conf[0].BatchSize
		}
		if conf[0].FlushInterval > 0 {
			flushInterval = conf[0].FlushInterval
		}
		if conf[0].FlushQueueSize > 0 {
			flushQueueSize = conf[0].FlushQueueSize
		}
		j = conf[0].Journal
	}

	b := &InsertBuffer{
		writer:        writer,
		pending:       make([]journaledEntry, 0, batchSize),
		flushChan:     make(chan flushJob, flushQueueSize),
		maxBatch:      batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}
	if j != nil {
		b.journal = j
	}

	b.wg.Add(1)
	go b.flushWorker()

	b.wg.Add(1)
	b.tickWg.Add(1)
	go b.tickLoop()

	return b
}

func (b *InsertBuffer) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainPending()
		case <-b.done:
			b.drainPending()
			return
		}
	}
}

// logBackpressure warns at most once every 10 seconds when the flush queue
// is full and a batch is written inline.
func (b *InsertBuffer) logBackpressure() {
	count := b.backpressureCount.Add(1)
	now := time.Now().Unix()
	last := b.lastBPLog.Load()
	if now-last >= 10 && b.lastBPLog.CompareAndSwap(last, now) {
		log.Printf("duckdb: backpressure, %d inline flushes so far (flush queue full)", count)
	}
}

func (b *InsertBuffer) takePending() []journaledEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = make([]journaledEntry, 0, b.maxBatch)
	return batch
}

// enqueue hands batch to the worker, writing it inline when the queue is
// full.
func (b *InsertBuffer) enqueue(batch []journaledEntry, origin string) {
	select {
	case b.flushChan <- flushJob{batch: batch}:
	default:
		b.logBackpressure()
		if err := b.flushBatch(batch); err != nil {
			log.Printf("duckdb: flush error (%s): %v", origin, err)
		}
	}
}

func (b *InsertBuffer) drainPending() {
	if batch := b.takePending(); batch != nil {
		b.enqueue(batch, "tick-inline")
	}
}

func (b *InsertBuffer) flushWorker() {
	defer b.wg.Done()
	for job := range b.flushChan {
		err := b.flushBatch(job.batch)
		if job.done != nil {
			job.done <- err
			continue
		}
		if err != nil {
			log.Printf("duckdb: flush error: %v", err)
		}
	}
}

// Add queues one entry. When a journal is configured the entry is persisted
// there first so it survives a crash before the batch lands.
func (b *InsertBuffer) Add(e model.Entry) error {
	seq := uint64(0)
	if b.journal != nil {
		for {
			var err error
			seq, err = b.journal.Append(e)
			if err == nil {
				break
			}
			log.Printf("duckdb: journal append failed, retrying: %v", err)
			select {
			case <-b.done:
				return ErrClosed
			case <-time.After(200 * time.Millisecond):
			}
		}
	}

	b.sendMu.RLock()
	defer b.sendMu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	b.mu.Lock()
	b.pending = append(b.pending, journaledEntry{seq: seq, entry: e})
	var batch []journaledEntry
	if len(b.pending) >= b.maxBatch {
		batch = b.pending
		b.pending = make([]journaledEntry, 0, b.maxBatch)
	}
	b.mu.Unlock()

	if batch != nil {
		b.enqueue(batch, "overflow-inline")
	}
	return nil
}

// Sync writes everything added so far and waits until it has landed.
func (b *InsertBuffer) Sync(ctx context.Context) error {
	done := make(chan error, 1)

	b.sendMu.RLock()
	if b.closed {
		b.sendMu.RUnlock()
		return ErrClosed
	}
	job := flushJob{batch: b.takePending(), done: done}
	select {
	case b.flushChan <- job:
	case <-ctx.Done():
		// The taken batch must still land.
		if len(job.batch) > 0 {
			b.enqueue(job.batch, "sync-cancelled")
		}
		b.sendMu.RUnlock()
		return ctx.Err()
	}
	b.sendMu.RUnlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop flushes remaining entries, waits for every write and closes the
// journal. It is safe to call more than once.
func (b *InsertBuffer) Stop() {
	b.stopOnce.Do(func() {
		b.sendMu.Lock()
		b.closed = true
		b.sendMu.Unlock()

		close(b.done)
		// The final drain in tickLoop must reach flushChan before it closes.
		b.tickWg.Wait()
		close(b.flushChan)
		b.wg.Wait()
		if b.journal != nil {
			if err := b.journal.Close(); err != nil {
				log.Printf("duckdb: journal close error: %v", err)
			}
		}
	})
}

func (b *InsertBuffer) flushBatch(batch []journaledEntry) error {
	if len(batch) == 0 {
		return nil
	}

	entries := make([]model.Entry, 0, len(batch))
	maxSeq := uint64(0)
	for _, item := range batch {
		entries = append(entries, item.entry)
		maxSeq = max(maxSeq, item.seq)
	}

	if err := b.writer.InsertEntries(context.Background(), entries); err != nil {
		return err
	}

	if b.journal != nil && maxSeq > 0 {
		if err := b.journal.Commit(maxSeq); err != nil {
			return fmt.Errorf("journal commit seq=%d: %w", maxSeq, err)
		}
	}
	return nil
}

// InsertEntries writes a mixed batch in one transaction. When the batch
// fails it is retried entry by entry and entries that still fail are
// dropped and logged.
func (s *Store) InsertEntries(ctx context.Context, entries []model.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.insertTx(ctx, entries)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	var failed int
	for _, e := range entries {
		if rerr := s.insertTx(ctx, []model.Entry{e}); rerr != nil {
			failed++
			log.Printf("duckdb: dropping %s entry (ts=%d): %v", e.Kind, e.Timestamp(), rerr)
		}
	}
	if failed > 0 {
		log.Printf("duckdb: batch partially failed, %d/%d entries dropped", failed, len(entries))
	}
	return nil
}

type insertStmts struct {
	tx                    *sql.Tx
	metric, logRow, alert *sql.Stmt
}

// stmt prepares the insert for kind on first use.
func (st *insertStmts) stmt(ctx context.Context, kind model.Kind) (*sql.Stmt, error) {
	var (
		slot  **sql.Stmt
		query string
	)
	switch kind {
	case model.KindMetric:
		slot, query = &st.metric, `INSERT INTO metrics (name, value, unit, timestamp, tags) VALUES (?, ?, ?, ?, ?)`
	case model.KindLog:
		slot, query = &st.logRow, `INSERT INTO logs (level, message, timestamp, context_name, data, user_id, session_id, request_id, ip, user_agent) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	case model.KindAlert:
		slot, query = &st.alert, `INSERT INTO alerts (id, alert_type, title, message, timestamp, severity, category, source, metadata, acknowledged, acknowledged_by, acknowledged_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	default:
		return nil, fmt.Errorf("unknown entry kind %q", kind)
	}
	if *slot == nil {
		prepared, err := st.tx.PrepareContext(ctx, query)
		if err != nil {
			return nil, err
		}
		*slot = prepared
	}
	return *slot, nil
}

func (st *insertStmts) close() {
	for _, s := range []*sql.Stmt{st.metric, st.logRow, st.alert} {
		if s != nil {
			s.Close()
		}
	}
}

func (s *Store) insertTx(ctx context.Context, entries []model.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmts := &insertStmts{tx: tx}
	defer stmts.close()

	for _, e := range entries {
		stmt, err := stmts.stmt(ctx, e.Kind)
		if err != nil {
			return err
		}
		if err := execEntry(ctx, stmt, e); err != nil {
			return fmt.Errorf("%s insert: %w", e.Kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func execEntry(ctx context.Context, stmt *sql.Stmt, e model.Entry) error {
	switch e.Kind {
	case model.KindMetric:
		if e.Metric == nil {
			return errors.New("metric entry without metric")
		}
		m := e.Metric
		_, err := stmt.ExecContext(ctx, m.Name, m.Value, m.Unit, m.Timestamp, encodeJSON(m.Tags))
		return err
	case model.KindLog:
		if e.Log == nil {
			return errors.New("log entry without log")
		}
		l := e.Log
		_, err := stmt.ExecContext(ctx, string(l.Level), l.Message, l.Timestamp, l.Context,
			encodeJSON(l.Data), l.UserID, l.SessionID, l.RequestID, l.IP, l.UserAgent)
		return err
	case model.KindAlert:
		if e.Alert == nil {
			return errors.New("alert entry without alert")
		}
		a := e.Alert
		_, err := stmt.ExecContext(ctx, a.ID, string(a.Type), a.Title, a.Message, a.Timestamp,
			string(a.Severity), string(a.Category), a.Source, encodeJSON(a.Metadata),
			a.Acknowledged, a.AcknowledgedBy, a.AcknowledgedAt)
		return err
	}
	return fmt.Errorf("unknown entry kind %q", e.Kind)
}

// encodeJSON renders v as JSON text; unencodable values become "{}".
func encodeJSON[T any](v map[string]T) string {
	if len(v) == 0 {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("duckdb: failed to marshal attributes, using empty: %v", err)
		return "{}"
	}
	return string(data)
}
