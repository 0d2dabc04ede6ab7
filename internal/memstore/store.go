// Package memstore is the reference in-memory provider. Each record kind is
// kept in a bounded ring: when the cap is exceeded the oldest records go first.
package memstore

import (
	"context"
	"sync"

	"github.com/tinytelemetry/pulse/internal/model"
)

// Name is the provider name reported to the collector.
const Name = "memory"

// Config holds retention caps. Zero values fall back to the model defaults.
type Config struct {
	MaxMetrics int
	MaxLogs    int
	MaxAlerts  int
}

// Store is a size-bounded, volatile provider. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	metrics *ring[model.Metric]
	logs    *ring[model.Log]
	alerts  *ring[model.Alert]
}

// New creates a store with the given caps.
func New(conf ...Config) *Store {
	maxMetrics := model.DefaultMaxMetrics
	maxLogs := model.DefaultMaxLogs
	maxAlerts := model.DefaultMaxAlerts
	if len(conf) > 0 {
		if conf[0].MaxMetrics > 0 {
			maxMetrics = conf[0].MaxMetrics
		}
		if conf[0].MaxLogs > 0 {
			maxLogs = conf[0].MaxLogs
		}
		if conf[0].MaxAlerts > 0 {
			maxAlerts = conf[0].MaxAlerts
		}
	}
	return &Store{
		metrics: newRing[model.Metric](maxMetrics),
		logs:    newRing[model.Log](maxLogs),
		alerts:  newRing[model.Alert](maxAlerts),
	}
}

func (s *Store) Name() string { return Name }

func (s *Store) SendMetric(_ context.Context, m model.Metric) error {
	m.Tags = model.CloneTags(m.Tags)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.push(m)
	return nil
}

func (s *Store) SendLog(_ context.Context, l model.Log) error {
	l.Data = model.CloneData(l.Data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs.push(l)
	return nil
}

func (s *Store) SendAlert(_ context.Context, a model.Alert) error {
	a.Metadata = model.CloneData(a.Metadata)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts.push(a)
	return nil
}

// GetMetrics returns the most recent matches, oldest first. Results carry
// their own copies of the record maps.
func (s *Store) GetMetrics(_ context.Context, q model.MetricQuery) ([]model.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lastMatching(s.metrics.view(), q.EffectiveLimit(), q.Matches)
	for i := range out {
		out[i].Tags = model.CloneTags(out[i].Tags)
	}
	return out, nil
}

func (s *Store) GetLogs(_ context.Context, q model.LogQuery) ([]model.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lastMatching(s.logs.view(), q.EffectiveLimit(), q.Matches)
	for i := range out {
		out[i].Data = model.CloneData(out[i].Data)
	}
	return out, nil
}

func (s *Store) GetAlerts(_ context.Context, q model.AlertQuery) ([]model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lastMatching(s.alerts.view(), q.EffectiveLimit(), q.Matches)
	for i := range out {
		out[i].Metadata = model.CloneData(out[i].Metadata)
	}
	return out, nil
}

// AcknowledgeAlert marks a retained alert as acknowledged. Alerts that were
// already acknowledged keep their original acknowledgement.
func (s *Store) AcknowledgeAlert(_ context.Context, id, by string, at int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alerts := s.alerts.view()
	for i := range alerts {
		if alerts[i].ID != id {
			continue
		}
		if !alerts[i].Acknowledged {
			alerts[i].Acknowledged = true
			alerts[i].AcknowledgedBy = by
			alerts[i].AcknowledgedAt = at
		}
		return true, nil
	}
	return false, nil
}

// Counts returns the number of retained records per kind.
func (s *Store) Counts() map[model.Kind]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[model.Kind]int{
		model.KindMetric: s.metrics.len(),
		model.KindLog:    s.logs.len(),
		model.KindAlert:  s.alerts.len(),
	}
}
