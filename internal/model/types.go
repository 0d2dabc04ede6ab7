package model

import "time"

// Metric is one numeric datapoint. Timestamp is epoch milliseconds and is
// assigned by the collector at ingestion.
type Metric struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit"`
	Timestamp int64             `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Log is one structured log entry.
type Log struct {
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Timestamp int64          `json:"timestamp"`
	Context   string         `json:"context,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
}

// Alert is an operator-facing event. ID and Timestamp are assigned once by
// the collector; only the acknowledgement fields change afterwards.
type Alert struct {
	ID             string         `json:"id"`
	Type           AlertType      `json:"type"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Timestamp      int64          `json:"timestamp"`
	Severity       Severity       `json:"severity"`
	Category       Category       `json:"category"`
	Source         string         `json:"source"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Acknowledged   bool           `json:"acknowledged"`
	AcknowledgedBy string         `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt int64          `json:"acknowledgedAt,omitempty"`
}

// Time converts an epoch-millisecond timestamp to time.Time (UTC).
func Time(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Millis returns t as epoch milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// CloneTags returns a copy of tags, or nil when empty.
func CloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}

// CloneData returns a shallow copy of an open key-value bag, or nil when empty.
func CloneData(data map[string]any) map[string]any {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

// Stats is a point-in-time view of collector state.
type Stats struct {
	BufferedMetrics int  `json:"bufferedMetrics"`
	BufferedLogs    int  `json:"bufferedLogs"`
	BufferedAlerts  int  `json:"bufferedAlerts"`
	Providers       int  `json:"providers"`
	Enabled         bool `json:"enabled"`
}
