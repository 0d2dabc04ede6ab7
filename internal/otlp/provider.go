// Package otlp exports telemetry to an OpenTelemetry collector over OTLP/gRPC.
//
// Metrics become gauge data points. Logs and alerts become log records;
// alerts carry their fields as "alert.*" attributes. The provider is
// export-only, so queries return no records.
package otlp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tinytelemetry/pulse/internal/model"
)

const (
	Name = "otlp"

	DefaultServiceName = "pulse"
	scopeName          = "github.com/tinytelemetry/pulse"
)

// Config selects the collector endpoint.
type Config struct {
	// Endpoint is a gRPC target such as "localhost:4317".
	Endpoint    string
	ServiceName string
	Insecure    bool
}

// Provider exports each record as it is sent.
type Provider struct {
	conn     *grpc.ClientConn
	metrics  colmetricspb.MetricsServiceClient
	logs     collogspb.LogsServiceClient
	resource *resourcepb.Resource
	scope    *commonpb.InstrumentationScope
}

// New creates a client for the endpoint. The connection is established
// lazily on the first export.
func New(conf Config) (*Provider, error) {
	if conf.Endpoint == "" {
		return nil, errors.New("otlp: endpoint is required")
	}
	service := conf.ServiceName
	if service == "" {
		service = DefaultServiceName
	}

	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if conf.Insecure {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(conf.Endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("otlp: dial %s: %w", conf.Endpoint, err)
	}

	return &Provider{
		conn:    conn,
		metrics: colmetricspb.NewMetricsServiceClient(conn),
		logs:    collogspb.NewLogsServiceClient(conn),
		resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{
			stringAttr("service.name", service),
		}},
		scope: &commonpb.InstrumentationScope{Name: scopeName},
	}, nil
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Close() error {
	return p.conn.Close()
}

func (p *Provider) SendMetric(ctx context.Context, m model.Metric) error {
	dp := &metricspb.NumberDataPoint{
		Attributes:   tagAttrs(m.Tags),
		TimeUnixNano: unixNano(m.Timestamp),
		Value:        &metricspb.NumberDataPoint_AsDouble{AsDouble: m.Value},
	}
	req := &colmetricspb.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricspb.ResourceMetrics{{
			Resource: p.resource,
			ScopeMetrics: []*metricspb.ScopeMetrics{{
				Scope: p.scope,
				Metrics: []*metricspb.Metric{{
					Name: m.Name,
					Unit: m.Unit,
					Data: &metricspb.Metric_Gauge{Gauge: &metricspb.Gauge{
						DataPoints: []*metricspb.NumberDataPoint{dp},
					}},
				}},
			}},
		}},
	}
	resp, err := p.metrics.Export(ctx, req)
	if err != nil {
		return fmt.Errorf("otlp: export metric: %w", err)
	}
	if ps := resp.GetPartialSuccess(); ps != nil && ps.GetRejectedDataPoints() > 0 {
		return fmt.Errorf("otlp: metric rejected: %s", ps.GetErrorMessage())
	}
	return nil
}

func (p *Provider) SendLog(ctx context.Context, l model.Log) error {
	attrs := dataAttrs(l.Data)
	appendString := func(key, value string) {
		if value != "" {
			attrs = append(attrs, stringAttr(key, value))
		}
	}
	appendString("log.context", l.Context)
	appendString("enduser.id", l.UserID)
	appendString("session.id", l.SessionID)
	appendString("request.id", l.RequestID)
	appendString("client.address", l.IP)
	appendString("user_agent.original", l.UserAgent)

	return p.exportLog(ctx, &logspb.LogRecord{
		TimeUnixNano:   unixNano(l.Timestamp),
		SeverityNumber: logSeverity(l.Level),
		SeverityText:   string(l.Level),
		Body:           stringValue(l.Message),
		Attributes:     attrs,
	})
}

func (p *Provider) SendAlert(ctx context.Context, a model.Alert) error {
	attrs := []*commonpb.KeyValue{
		stringAttr("event.name", "alert"),
		stringAttr("alert.id", a.ID),
		stringAttr("alert.type", string(a.Type)),
		stringAttr("alert.title", a.Title),
		stringAttr("alert.severity", string(a.Severity)),
		stringAttr("alert.category", string(a.Category)),
	}
	if a.Source != "" {
		attrs = append(attrs, stringAttr("alert.source", a.Source))
	}
	if len(a.Metadata) > 0 {
		attrs = append(attrs, &commonpb.KeyValue{Key: "alert.metadata", Value: anyValue(a.Metadata)})
	}

	return p.exportLog(ctx, &logspb.LogRecord{
		TimeUnixNano:   unixNano(a.Timestamp),
		SeverityNumber: alertSeverity(a.Severity),
		SeverityText:   string(a.Severity),
		Body:           stringValue(a.Message),
		Attributes:     attrs,
	})
}

func (p *Provider) exportLog(ctx context.Context, rec *logspb.LogRecord) error {
	req := &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{{
			Resource: p.resource,
			ScopeLogs: []*logspb.ScopeLogs{{
				Scope:      p.scope,
				LogRecords: []*logspb.LogRecord{rec},
			}},
		}},
	}
	resp, err := p.logs.Export(ctx, req)
	if err != nil {
		return fmt.Errorf("otlp: export log: %w", err)
	}
	if ps := resp.GetPartialSuccess(); ps != nil && ps.GetRejectedLogRecords() > 0 {
		return fmt.Errorf("otlp: log rejected: %s", ps.GetErrorMessage())
	}
	return nil
}

func (p *Provider) GetMetrics(context.Context, model.MetricQuery) ([]model.Metric, error) {
	return nil, nil
}

func (p *Provider) GetLogs(context.Context, model.LogQuery) ([]model.Log, error) {
	return nil, nil
}

func (p *Provider) GetAlerts(context.Context, model.AlertQuery) ([]model.Alert, error) {
	return nil, nil
}

func unixNano(ms int64) uint64 {
	if ms <= 0 {
		return 0
	}
	return uint64(ms) * 1_000_000
}

func logSeverity(level model.LogLevel) logspb.SeverityNumber {
	switch level {
	case model.LevelDebug:
		return logspb.SeverityNumber_SEVERITY_NUMBER_DEBUG
	case model.LevelInfo:
		return logspb.SeverityNumber_SEVERITY_NUMBER_INFO
	case model.LevelWarn:
		return logspb.SeverityNumber_SEVERITY_NUMBER_WARN
	case model.LevelError:
		return logspb.SeverityNumber_SEVERITY_NUMBER_ERROR
	case model.LevelFatal:
		return logspb.SeverityNumber_SEVERITY_NUMBER_FATAL
	}
	return logspb.SeverityNumber_SEVERITY_NUMBER_UNSPECIFIED
}

func alertSeverity(s model.Severity) logspb.SeverityNumber {
	switch s {
	case model.SeverityLow:
		return logspb.SeverityNumber_SEVERITY_NUMBER_INFO
	case model.SeverityMedium:
		return logspb.SeverityNumber_SEVERITY_NUMBER_WARN
	case model.SeverityHigh:
		return logspb.SeverityNumber_SEVERITY_NUMBER_ERROR
	case model.SeverityCritical:
		return logspb.SeverityNumber_SEVERITY_NUMBER_FATAL
	}
	return logspb.SeverityNumber_SEVERITY_NUMBER_UNSPECIFIED
}
