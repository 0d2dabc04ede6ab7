package duckdb

import (
	"context"
	"log"
	"sync"
	"time"
)

const defaultRetentionInterval = time.Hour

// RetentionConfig holds configuration for the retention cleaner.
type RetentionConfig struct {
	RetentionDays int
	Interval      time.Duration
}

// RetentionCleaner periodically deletes telemetry older than the retention
// window from every table.
type RetentionCleaner struct {
	store         *Store
	retentionDays int
	interval      time.Duration
	now           func() time.Time
	done          chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

// NewRetentionCleaner runs one cleanup immediately and then every interval.
// It returns nil when retention is disabled (RetentionDays <= 0).
func NewRetentionCleaner(store *Store, conf ...RetentionConfig) *RetentionCleaner {
	days := 30
	interval := defaultRetentionInterval
	if len(conf) > 0 {
		days = conf[0].RetentionDays
		if conf[0].Interval > 0 {
			interval = conf[0].Interval
		}
	}
	if days <= 0 {
		return nil
	}

	rc := &RetentionCleaner{
		store:         store,
		retentionDays: days,
		interval:      interval,
		now:           time.Now,
		done:          make(chan struct{}),
	}

	// Catch up after downtime.
	rc.cleanup()

	rc.wg.Add(1)
	go rc.tickLoop()
	return rc
}

func (rc *RetentionCleaner) tickLoop() {
	defer rc.wg.Done()
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.cleanup()
		case <-rc.done:
			return
		}
	}
}

func (rc *RetentionCleaner) cutoff() time.Time {
	return rc.now().Add(-time.Duration(rc.retentionDays) * 24 * time.Hour)
}

func (rc *RetentionCleaner) cleanup() {
	deleted, err := rc.store.DeleteBefore(context.Background(), rc.cutoff())
	if err != nil {
		log.Printf("duckdb: retention cleanup error: %v", err)
		return
	}
	total := deleted["metrics"] + deleted["logs"] + deleted["alerts"]
	if total > 0 {
		log.Printf("duckdb: retention cleanup deleted %d metrics, %d logs, %d alerts (older than %d days)",
			deleted["metrics"], deleted["logs"], deleted["alerts"], rc.retentionDays)
	}
}

// Stop signals the cleaner to stop and waits for it to finish. A nil
// cleaner is a no-op.
func (rc *RetentionCleaner) Stop() {
	if rc == nil {
		return
	}
	rc.stopOnce.Do(func() {
		close(rc.done)
		rc.wg.Wait()
	})
}
