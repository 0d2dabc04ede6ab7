package influx

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/tinytelemetry/pulse/internal/model"
)

// fluxQuery assembles a pipeline over one measurement.
type fluxQuery struct {
	bucket      string
	measurement string
	start, end  int64
	filters     []string
	limit       int

	// fieldFilters apply after the pivot, once fields are columns.
	fieldFilters []string
}

func (f *fluxQuery) eq(column, value string) {
	if value != "" {
		f.filters = append(f.filters, fmt.Sprintf("r[%s] == %s", fluxString(column), fluxString(value)))
	}
}

func (f *fluxQuery) fieldEq(field, value string) {
	if value != "" {
		f.fieldFilters = append(f.fieldFilters, fmt.Sprintf("r[%s] == %s", fluxString(field), fluxString(value)))
	}
}

func (f *fluxQuery) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n", fluxString(f.bucket))

	start := "0"
	if f.start != 0 {
		start = fluxTime(f.start)
	}
	if f.end != 0 {
		// range stop is exclusive; timestamps are millisecond-granular.
		fmt.Fprintf(&b, "  |> range(start: %s, stop: %s)\n", start, fluxTime(f.end+1))
	} else {
		fmt.Fprintf(&b, "  |> range(start: %s)\n", start)
	}
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %s)\n", fluxString(f.measurement))
	for _, filter := range f.filters {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", filter)
	}
	b.WriteString(`  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")` + "\n")
	for _, filter := range f.fieldFilters {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", filter)
	}
	b.WriteString("  |> group()\n")
	b.WriteString(`  |> sort(columns: ["_time"])` + "\n")
	fmt.Fprintf(&b, "  |> tail(n: %d)\n", f.limit)
	return b.String()
}

func metricsFlux(bucket string, q model.MetricQuery) string {
	f := fluxQuery{bucket: bucket, measurement: measurementMetrics, start: q.StartTime, end: q.EndTime, limit: q.EffectiveLimit()}
	f.eq("metric", q.Name)
	keys := make([]string, 0, len(q.Tags))
	for k := range q.Tags {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		f.eq(tagPrefix+k, q.Tags[k])
	}
	return f.String()
}

func logsFlux(bucket string, q model.LogQuery) string {
	f := fluxQuery{bucket: bucket, measurement: measurementLogs, start: q.StartTime, end: q.EndTime, limit: q.EffectiveLimit()}
	f.eq("level", string(q.Level))
	f.eq("context", q.Context)
	f.fieldEq("user_id", q.UserID)
	return f.String()
}

func alertsFlux(bucket string, q model.AlertQuery) string {
	f := fluxQuery{bucket: bucket, measurement: measurementAlerts, start: q.StartTime, end: q.EndTime, limit: q.EffectiveLimit()}
	f.eq("type", string(q.Type))
	f.eq("severity", string(q.Severity))
	f.eq("category", string(q.Category))
	if q.Acknowledged != nil {
		f.fieldFilters = append(f.fieldFilters, fmt.Sprintf("r.acknowledged == %t", *q.Acknowledged))
	}
	return f.String()
}

// fluxString renders s as a Flux string literal.
func fluxString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "${", `\${`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
	return `"` + r.Replace(s) + `"`
}

func fluxTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

func encodeJSON(v map[string]any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSON(v any) map[string]any {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func str(values map[string]any, key string) string {
	s, _ := values[key].(string)
	return s
}

func decodeMetric(r fluxRow) model.Metric {
	m := model.Metric{
		Name:      str(r.Values, "metric"),
		Unit:      str(r.Values, "unit"),
		Timestamp: r.Time.UnixMilli(),
	}
	switch v := r.Values["value"].(type) {
	case float64:
		m.Value = v
	case int64:
		m.Value = float64(v)
	}
	for k, v := range r.Values {
		if name, ok := strings.CutPrefix(k, tagPrefix); ok {
			if s, ok := v.(string); ok && s != "" {
				if m.Tags == nil {
					m.Tags = make(map[string]string)
				}
				m.Tags[name] = s
			}
		}
	}
	return m
}

func decodeLog(r fluxRow) model.Log {
	return model.Log{
		Level:     model.LogLevel(str(r.Values, "level")),
		Message:   str(r.Values, "message"),
		Timestamp: r.Time.UnixMilli(),
		Context:   str(r.Values, "context"),
		Data:      decodeJSON(r.Values["data"]),
		UserID:    str(r.Values, "user_id"),
		SessionID: str(r.Values, "session_id"),
		RequestID: str(r.Values, "request_id"),
		IP:        str(r.Values, "ip"),
		UserAgent: str(r.Values, "user_agent"),
	}
}

func decodeAlert(r fluxRow) model.Alert {
	acked, _ := r.Values["acknowledged"].(bool)
	return model.Alert{
		ID:           str(r.Values, "id"),
		Type:         model.AlertType(str(r.Values, "type")),
		Title:        str(r.Values, "title"),
		Message:      str(r.Values, "message"),
		Timestamp:    r.Time.UnixMilli(),
		Severity:     model.Severity(str(r.Values, "severity")),
		Category:     model.Category(str(r.Values, "category")),
		Source:       str(r.Values, "source"),
		Metadata:     decodeJSON(r.Values["metadata"]),
		Acknowledged: acked,
	}
}
