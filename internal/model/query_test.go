package model

import "testing"

func TestMetricQueryMatches(t *testing.T) {
	m := Metric{
		Name:      "latency",
		Value:     12,
		Unit:      "ms",
		Timestamp: 1000,
		Tags:      map[string]string{"route": "/a", "region": "eu"},
	}

	tests := []struct {
		name string
		q    MetricQuery
		want bool
	}{
		{"empty query", MetricQuery{}, true},
		{"name match", MetricQuery{Name: "latency"}, true},
		{"name mismatch", MetricQuery{Name: "cpu"}, false},
		{"inclusive start", MetricQuery{StartTime: 1000}, true},
		{"inclusive end", MetricQuery{EndTime: 1000}, true},
		{"after end", MetricQuery{EndTime: 999}, false},
		{"before start", MetricQuery{StartTime: 1001}, false},
		{"subset of tags", MetricQuery{Tags: map[string]string{"route": "/a"}}, true},
		{"tag value mismatch", MetricQuery{Tags: map[string]string{"route": "/b"}}, false},
		{"missing tag", MetricQuery{Tags: map[string]string{"host": "x"}}, false},
	}

	for _, tt := range tests {
		if got := tt.q.Matches(m); got != tt.want {
			t.Errorf("%s: Matches = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLogQueryConjunction(t *testing.T) {
	logs := []Log{
		{Level: LevelInfo, Context: "a"},
		{Level: LevelError, Context: "a"},
		{Level: LevelError, Context: "b"},
	}

	q := LogQuery{Level: LevelError, Context: "a"}
	var matched int
	for _, l := range logs {
		if q.Matches(l) {
			matched++
		}
	}
	if matched != 1 {
		t.Errorf("matched %d logs, want 1", matched)
	}
}

func TestAlertQueryAcknowledged(t *testing.T) {
	open := Alert{Type: AlertWarning, Severity: SeverityMedium}
	acked := Alert{Type: AlertWarning, Severity: SeverityMedium, Acknowledged: true}

	q := AlertQuery{Acknowledged: Bool(false)}
	if !q.Matches(open) || q.Matches(acked) {
		t.Error("Acknowledged=false should match only open alerts")
	}

	q = AlertQuery{Type: AlertWarning}
	if !q.Matches(open) || !q.Matches(acked) {
		t.Error("nil Acknowledged should match both states")
	}
}

func TestEffectiveLimit(t *testing.T) {
	if got := (MetricQuery{}).EffectiveLimit(); got != DefaultQueryLimit {
		t.Errorf("default limit = %d, want %d", got, DefaultQueryLimit)
	}
	if got := (LogQuery{Limit: -3}).EffectiveLimit(); got != DefaultQueryLimit {
		t.Errorf("negative limit = %d, want %d", got, DefaultQueryLimit)
	}
	if got := (AlertQuery{Limit: 7}).EffectiveLimit(); got != 7 {
		t.Errorf("explicit limit = %d, want 7", got)
	}
}
