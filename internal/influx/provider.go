// Package influx stores telemetry in InfluxDB 2.x and reads it back with Flux.
//
// Metrics, logs and alerts live in the measurements "metrics", "logs" and
// "alerts". Metric tags are written as "tag.<key>" tags so they never collide
// with the provider's own columns.
package influx

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/tinytelemetry/pulse/internal/model"
)

const (
	Name = "influxdb"

	measurementMetrics = "metrics"
	measurementLogs    = "logs"
	measurementAlerts  = "alerts"

	tagPrefix = "tag."
)

// Config locates the InfluxDB bucket.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

func (c Config) validate() error {
	switch {
	case c.URL == "":
		return errors.New("influx: url is required")
	case c.Org == "":
		return errors.New("influx: org is required")
	case c.Bucket == "":
		return errors.New("influx: bucket is required")
	}
	return nil
}

// fluxRow is one pivoted Flux record.
type fluxRow struct {
	Time   time.Time
	Values map[string]any
}

// rowReader runs a Flux query and returns its records in order.
type rowReader func(ctx context.Context, flux string) ([]fluxRow, error)

// Provider writes points synchronously and answers queries with Flux.
type Provider struct {
	bucket string
	client influxdb2.Client
	writer api.WriteAPIBlocking
	read   rowReader

	// seq spreads points sharing a millisecond over distinct nanoseconds.
	seq atomic.Uint64
}

// New connects a provider to the configured bucket. No request is made
// until the first write or query.
func New(conf Config) (*Provider, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}
	client := influxdb2.NewClient(conf.URL, conf.Token)
	return &Provider{
		bucket: conf.Bucket,
		client: client,
		writer: client.WriteAPIBlocking(conf.Org, conf.Bucket),
		read:   queryAPIReader(client.QueryAPI(conf.Org)),
	}, nil
}

func queryAPIReader(q api.QueryAPI) rowReader {
	return func(ctx context.Context, flux string) ([]fluxRow, error) {
		result, err := q.Query(ctx, flux)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, nil
		}
		defer result.Close()

		var rows []fluxRow
		for result.Next() {
			record := result.Record()
			rows = append(rows, fluxRow{Time: record.Time(), Values: record.Values()})
		}
		return rows, result.Err()
	}
}

func (p *Provider) Name() string { return Name }

// Close releases the client's idle connections.
func (p *Provider) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}

// pointTime maps an epoch-millisecond timestamp to a unique nanosecond
// instant within that millisecond.
func (p *Provider) pointTime(ms int64) time.Time {
	offset := p.seq.Add(1) % uint64(time.Millisecond)
	return time.UnixMilli(ms).Add(time.Duration(offset))
}

func (p *Provider) SendMetric(ctx context.Context, m model.Metric) error {
	return p.writer.WritePoint(ctx, p.metricPoint(m))
}

func (p *Provider) SendLog(ctx context.Context, l model.Log) error {
	pt, err := p.logPoint(l)
	if err != nil {
		return err
	}
	return p.writer.WritePoint(ctx, pt)
}

func (p *Provider) SendAlert(ctx context.Context, a model.Alert) error {
	pt, err := p.alertPoint(a)
	if err != nil {
		return err
	}
	return p.writer.WritePoint(ctx, pt)
}

func (p *Provider) metricPoint(m model.Metric) *write.Point {
	tags := make(map[string]string, len(m.Tags)+2)
	for k, v := range m.Tags {
		tags[tagPrefix+k] = v
	}
	tags["metric"] = m.Name
	if m.Unit != "" {
		tags["unit"] = m.Unit
	}
	return influxdb2.NewPoint(measurementMetrics, tags,
		map[string]any{"value": m.Value}, p.pointTime(m.Timestamp))
}

func (p *Provider) logPoint(l model.Log) (*write.Point, error) {
	tags := map[string]string{"level": string(l.Level)}
	if l.Context != "" {
		tags["context"] = l.Context
	}
	fields := map[string]any{"message": l.Message}
	optionalString(fields, "user_id", l.UserID)
	optionalString(fields, "session_id", l.SessionID)
	optionalString(fields, "request_id", l.RequestID)
	optionalString(fields, "ip", l.IP)
	optionalString(fields, "user_agent", l.UserAgent)
	if len(l.Data) > 0 {
		data, err := encodeJSON(l.Data)
		if err != nil {
			return nil, fmt.Errorf("influx: log data: %w", err)
		}
		fields["data"] = data
	}
	return influxdb2.NewPoint(measurementLogs, tags, fields, p.pointTime(l.Timestamp)), nil
}

func (p *Provider) alertPoint(a model.Alert) (*write.Point, error) {
	tags := map[string]string{
		"type":     string(a.Type),
		"severity": string(a.Severity),
		"category": string(a.Category),
	}
	if a.Source != "" {
		tags["source"] = a.Source
	}
	fields := map[string]any{
		"id":           a.ID,
		"title":        a.Title,
		"message":      a.Message,
		"acknowledged": a.Acknowledged,
	}
	if len(a.Metadata) > 0 {
		md, err := encodeJSON(a.Metadata)
		if err != nil {
			return nil, fmt.Errorf("influx: alert metadata: %w", err)
		}
		fields["metadata"] = md
	}
	return influxdb2.NewPoint(measurementAlerts, tags, fields, p.pointTime(a.Timestamp)), nil
}

func optionalString(fields map[string]any, key, value string) {
	if value != "" {
		fields[key] = value
	}
}

func (p *Provider) GetMetrics(ctx context.Context, q model.MetricQuery) ([]model.Metric, error) {
	rows, err := p.read(ctx, metricsFlux(p.bucket, q))
	if err != nil {
		return nil, fmt.Errorf("influx: query metrics: %w", err)
	}
	out := make([]model.Metric, 0, len(rows))
	for _, r := range rows {
		out = append(out, decodeMetric(r))
	}
	return out, nil
}

func (p *Provider) GetLogs(ctx context.Context, q model.LogQuery) ([]model.Log, error) {
	rows, err := p.read(ctx, logsFlux(p.bucket, q))
	if err != nil {
		return nil, fmt.Errorf("influx: query logs: %w", err)
	}
	out := make([]model.Log, 0, len(rows))
	for _, r := range rows {
		out = append(out, decodeLog(r))
	}
	return out, nil
}

func (p *Provider) GetAlerts(ctx context.Context, q model.AlertQuery) ([]model.Alert, error) {
	rows, err := p.read(ctx, alertsFlux(p.bucket, q))
	if err != nil {
		return nil, fmt.Errorf("influx: query alerts: %w", err)
	}
	out := make([]model.Alert, 0, len(rows))
	for _, r := range rows {
		out = append(out, decodeAlert(r))
	}
	return out, nil
}
