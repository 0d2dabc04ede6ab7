package model

import "context"

// Sink accepts fully formed records. Implementations must not assign or
// change Timestamp or ID, and report failures as errors rather than panics.
type Sink interface {
	SendMetric(ctx context.Context, m Metric) error
	SendLog(ctx context.Context, l Log) error
	SendAlert(ctx context.Context, a Alert) error
}

// Querier answers filtered reads. Results must respect the query limit.
type Querier interface {
	GetMetrics(ctx context.Context, q MetricQuery) ([]Metric, error)
	GetLogs(ctx context.Context, q LogQuery) ([]Log, error)
	GetAlerts(ctx context.Context, q AlertQuery) ([]Alert, error)
}

// Provider is a pluggable telemetry backend.
type Provider interface {
	Name() string
	Sink
	Querier
}

// Acknowledger is implemented by providers that can record an operator
// acknowledging an alert. It returns false when the alert is unknown.
type Acknowledger interface {
	AcknowledgeAlert(ctx context.Context, id, by string, at int64) (bool, error)
}

// ReadAPI is the read contract shared by the HTTP and socket RPC surfaces.
type ReadAPI interface {
	Querier
	Stats() Stats
}
