// Package sysmetrics samples process-level figures and feeds them to the
// collector as ordinary metrics.
package sysmetrics

import (
	"context"
	"runtime"
)

// Sample is one reading from a source.
type Sample struct {
	Name  string
	Value float64
	Unit  string
	Tags  map[string]string
}

// Source produces a batch of samples on demand.
type Source interface {
	Name() string
	Collect(ctx context.Context) ([]Sample, error)
}

// RuntimeSource reports Go runtime memory, goroutine and GC figures.
type RuntimeSource struct{}

func (RuntimeSource) Name() string { return "runtime" }

func (RuntimeSource) Collect(context.Context) ([]Sample, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return []Sample{
		{Name: "process.goroutines", Value: float64(runtime.NumGoroutine()), Unit: "count"},
		{Name: "process.memory.heap_alloc", Value: float64(ms.HeapAlloc), Unit: "bytes"},
		{Name: "process.memory.heap_inuse", Value: float64(ms.HeapInuse), Unit: "bytes"},
		{Name: "process.memory.sys", Value: float64(ms.Sys), Unit: "bytes"},
		{Name: "process.gc.count", Value: float64(ms.NumGC), Unit: "count"},
		{Name: "process.gc.pause_total", Value: float64(ms.PauseTotalNs) / 1e6, Unit: "ms"},
	}, nil
}
