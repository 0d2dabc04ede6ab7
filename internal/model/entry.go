package model

// Kind names a record kind.
type Kind string

const (
	KindMetric Kind = "metric"
	KindLog    Kind = "log"
	KindAlert  Kind = "alert"
)

// Entry carries one record of any kind through a shared stream, such as the
// DuckDB insert buffer and its journal. Exactly one of the pointers is set.
type Entry struct {
	Kind   Kind    `json:"kind"`
	Metric *Metric `json:"metric,omitempty"`
	Log    *Log    `json:"log,omitempty"`
	Alert  *Alert  `json:"alert,omitempty"`
}

func MetricEntry(m Metric) Entry { return Entry{Kind: KindMetric, Metric: &m} }

func LogEntry(l Log) Entry { return Entry{Kind: KindLog, Log: &l} }

func AlertEntry(a Alert) Entry { return Entry{Kind: KindAlert, Alert: &a} }

// Timestamp returns the timestamp of whichever record the entry holds.
func (e Entry) Timestamp() int64 {
	switch {
	case e.Metric != nil:
		return e.Metric.Timestamp
	case e.Log != nil:
		return e.Log.Timestamp
	case e.Alert != nil:
		return e.Alert.Timestamp
	}
	return 0
}
