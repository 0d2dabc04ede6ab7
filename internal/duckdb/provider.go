package duckdb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tinytelemetry/pulse/internal/journal"
	"github.com/tinytelemetry/pulse/internal/model"
)

// Name is the provider name reported to the collector.
const Name = "duckdb"

// ProviderConfig configures a DuckDB-backed provider.
type ProviderConfig struct {
	// Path of the database file; empty means in-memory.
	Path         string
	QueryTimeout time.Duration
	Insert       InsertBufferConfig
	// JournalPath enables the crash-safe spool when non-empty.
	JournalPath   string
	RetentionDays int
}

// Provider persists telemetry in DuckDB through an InsertBuffer. Reads and
// acknowledgements sync the buffer first so they observe every prior send.
type Provider struct {
	store   *Store
	buf     *InsertBuffer
	cleaner *RetentionCleaner
}

// Open opens the store, replays any uncommitted journal entries into it and
// starts the insert buffer and retention cleaner.
func Open(conf ProviderConfig) (*Provider, error) {
	store, err := NewStore(conf.Path, conf.QueryTimeout)
	if err != nil {
		return nil, err
	}

	insertConf := conf.Insert
	if conf.JournalPath != "" {
		j, err := journal.Open(conf.JournalPath)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("duckdb: open journal: %w", err)
		}
		if err := replayJournal(j, store, insertConf.BatchSize); err != nil {
			j.Close()
			store.Close()
			return nil, fmt.Errorf("duckdb: replay journal: %w", err)
		}
		insertConf.Journal = j
	}

	return &Provider{
		store:   store,
		buf:     NewInsertBuffer(store, insertConf),
		cleaner: NewRetentionCleaner(store, RetentionConfig{RetentionDays: conf.RetentionDays}),
	}, nil
}

func (p *Provider) Name() string { return Name }

// Store exposes the underlying store.
func (p *Provider) Store() *Store { return p.store }

func (p *Provider) SendMetric(_ context.Context, m model.Metric) error {
	m.Tags = model.CloneTags(m.Tags)
	return p.buf.Add(model.MetricEntry(m))
}

func (p *Provider) SendLog(_ context.Context, l model.Log) error {
	l.Data = model.CloneData(l.Data)
	return p.buf.Add(model.LogEntry(l))
}

func (p *Provider) SendAlert(_ context.Context, a model.Alert) error {
	a.Metadata = model.CloneData(a.Metadata)
	return p.buf.Add(model.AlertEntry(a))
}

func (p *Provider) GetMetrics(ctx context.Context, q model.MetricQuery) ([]model.Metric, error) {
	if err := p.buf.Sync(ctx); err != nil {
		return nil, err
	}
	return p.store.QueryMetrics(ctx, q)
}

func (p *Provider) GetLogs(ctx context.Context, q model.LogQuery) ([]model.Log, error) {
	if err := p.buf.Sync(ctx); err != nil {
		return nil, err
	}
	return p.store.QueryLogs(ctx, q)
}

func (p *Provider) GetAlerts(ctx context.Context, q model.AlertQuery) ([]model.Alert, error) {
	if err := p.buf.Sync(ctx); err != nil {
		return nil, err
	}
	return p.store.QueryAlerts(ctx, q)
}

func (p *Provider) AcknowledgeAlert(ctx context.Context, id, by string, at int64) (bool, error) {
	if err := p.buf.Sync(ctx); err != nil {
		return false, err
	}
	return p.store.AcknowledgeAlert(ctx, id, by, at)
}

// Close stops the retention cleaner, drains the buffer and closes the store.
func (p *Provider) Close() error {
	p.cleaner.Stop()
	p.buf.Stop()
	return p.store.Close()
}

// replayJournal writes uncommitted journal entries to the store in batches,
// committing each batch once it lands.
func replayJournal(j *journal.Journal, store *Store, batchSize int) error {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	batch := make([]model.Entry, 0, batchSize)
	batchMaxSeq := uint64(0)
	replayed := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.InsertEntries(context.Background(), batch); err != nil {
			return err
		}
		if err := j.Commit(batchMaxSeq); err != nil {
			return err
		}
		replayed += len(batch)
		batch = make([]model.Entry, 0, batchSize)
		batchMaxSeq = 0
		return nil
	}

	err := j.Replay(func(seq uint64, e model.Entry) error {
		batch = append(batch, e)
		batchMaxSeq = max(batchMaxSeq, seq)
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return errors.Join(err, fmt.Errorf("replayed %d entries before failure", replayed))
	}
	if replayed > 0 {
		log.Printf("duckdb: replayed %d uncommitted journal entries", replayed)
	}
	return nil
}
