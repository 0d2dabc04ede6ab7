package model

// DefaultQueryLimit is applied when a query leaves Limit unset.
const DefaultQueryLimit = 100

// MetricQuery filters metrics. Zero-valued fields do not filter.
// StartTime and EndTime are inclusive epoch-millisecond bounds.
type MetricQuery struct {
	Name      string            `json:"name,omitempty"`
	StartTime int64             `json:"startTime,omitempty"`
	EndTime   int64             `json:"endTime,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Limit     int               `json:"limit,omitempty"`
}

// LogQuery filters logs. Zero-valued fields do not filter.
type LogQuery struct {
	Level     LogLevel `json:"level,omitempty"`
	StartTime int64    `json:"startTime,omitempty"`
	EndTime   int64    `json:"endTime,omitempty"`
	Context   string   `json:"context,omitempty"`
	UserID    string   `json:"userId,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

// AlertQuery filters alerts. A nil Acknowledged matches both states.
type AlertQuery struct {
	Type         AlertType `json:"type,omitempty"`
	Severity     Severity  `json:"severity,omitempty"`
	Category     Category  `json:"category,omitempty"`
	Acknowledged *bool     `json:"acknowledged,omitempty"`
	StartTime    int64     `json:"startTime,omitempty"`
	EndTime      int64     `json:"endTime,omitempty"`
	Limit        int       `json:"limit,omitempty"`
}

func effectiveLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	return limit
}

func inRange(ts, start, end int64) bool {
	if start != 0 && ts < start {
		return false
	}
	if end != 0 && ts > end {
		return false
	}
	return true
}

// EffectiveLimit returns Limit, or DefaultQueryLimit when unset.
func (q MetricQuery) EffectiveLimit() int { return effectiveLimit(q.Limit) }

// Matches reports whether m satisfies every supplied filter. Extra tags on
// the metric are ignored.
func (q MetricQuery) Matches(m Metric) bool {
	if q.Name != "" && m.Name != q.Name {
		return false
	}
	if !inRange(m.Timestamp, q.StartTime, q.EndTime) {
		return false
	}
	return TagsMatch(m.Tags, q.Tags)
}

// TagsMatch reports whether every key/value pair in want is present in have.
func TagsMatch(have, want map[string]string) bool {
	for k, v := range want {
		got, ok := have[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}

func (q LogQuery) EffectiveLimit() int { return effectiveLimit(q.Limit) }

func (q LogQuery) Matches(l Log) bool {
	if q.Level != "" && l.Level != q.Level {
		return false
	}
	if q.Context != "" && l.Context != q.Context {
		return false
	}
	if q.UserID != "" && l.UserID != q.UserID {
		return false
	}
	return inRange(l.Timestamp, q.StartTime, q.EndTime)
}

func (q AlertQuery) EffectiveLimit() int { return effectiveLimit(q.Limit) }

func (q AlertQuery) Matches(a Alert) bool {
	if q.Type != "" && a.Type != q.Type {
		return false
	}
	if q.Severity != "" && a.Severity != q.Severity {
		return false
	}
	if q.Category != "" && a.Category != q.Category {
		return false
	}
	if q.Acknowledged != nil && a.Acknowledged != *q.Acknowledged {
		return false
	}
	return inRange(a.Timestamp, q.StartTime, q.EndTime)
}

// Bool returns a pointer to b, for AlertQuery.Acknowledged.
func Bool(b bool) *bool { return &b }
