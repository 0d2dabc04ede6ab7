// Package prom exposes collected telemetry as Prometheus metrics.
//
// Each metric name becomes a gauge family holding the latest value per tag
// set. Logs and alerts are counted by their classifying fields. The provider
// is write-only: queries return no records.
package prom

import (
	"context"
	"log"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinytelemetry/pulse/internal/model"
)

const (
	Name = "prometheus"

	DefaultNamespace = "pulse"
	DefaultMaxSeries = 10000

	unitLabel  = "unit"
	metricHelp = "Latest value of a telemetry metric recorded by pulse."
)

// Config tunes the provider. Zero values take defaults.
type Config struct {
	Namespace string
	// MaxSeries bounds distinct gauge series; new series beyond it are dropped.
	MaxSeries int
}

type series struct {
	family string
	labels map[string]string
	value  float64
}

// Provider is a model.Provider and a prometheus.Collector.
type Provider struct {
	namespace string
	maxSeries int
	registry  *prometheus.Registry

	logsTotal   *prometheus.CounterVec
	alertsTotal *prometheus.CounterVec

	mu      sync.Mutex
	series  map[string]*series
	dropped int
}

// New creates a provider with its own registry.
func New(conf ...Config) *Provider {
	ns := DefaultNamespace
	maxSeries := DefaultMaxSeries
	if len(conf) > 0 {
		if conf[0].Namespace != "" {
			ns = sanitizeName(conf[0].Namespace)
		}
		if conf[0].MaxSeries > 0 {
			maxSeries = conf[0].MaxSeries
		}
	}

	p := &Provider{
		namespace: ns,
		maxSeries: maxSeries,
		registry:  prometheus.NewRegistry(),
		series:    make(map[string]*series),
		logsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "logs_total",
			Help:      "Log records received, by level and context.",
		}, []string{"level", "context"}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "alerts_total",
			Help:      "Alerts raised, by type, severity and category.",
		}, []string{"type", "severity", "category"}),
	}
	p.registry.MustRegister(p.logsTotal, p.alertsTotal, p)
	return p
}

func (p *Provider) Name() string { return Name }

// Registry returns the registry holding every pulse collector.
func (p *Provider) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Provider) SendMetric(_ context.Context, m model.Metric) error {
	family := p.namespace + "_" + sanitizeName(m.Name)
	labels := make(map[string]string, len(m.Tags)+1)
	for k, v := range m.Tags {
		labels[sanitizeLabel(k)] = v
	}
	labels[unitLabel] = m.Unit

	key := seriesKey(family, labels)

	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.series[key]; ok {
		s.value = m.Value
		return nil
	}
	if len(p.series) >= p.maxSeries {
		p.dropped++
		if p.dropped == 1 || p.dropped%1000 == 0 {
			log.Printf("prom: series limit %d reached, %d new series dropped", p.maxSeries, p.dropped)
		}
		return nil
	}
	p.series[key] = &series{family: family, labels: labels, value: m.Value}
	return nil
}

func (p *Provider) SendLog(_ context.Context, l model.Log) error {
	p.logsTotal.WithLabelValues(string(l.Level), l.Context).Inc()
	return nil
}

func (p *Provider) SendAlert(_ context.Context, a model.Alert) error {
	p.alertsTotal.WithLabelValues(string(a.Type), string(a.Severity), string(a.Category)).Inc()
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

// Describe sends nothing, making the gauge families unchecked: their label
// sets are only known at collection time.
func (p *Provider) Describe(chan<- *prometheus.Desc) {}

// Collect emits every gauge series. Within a family the label names are the
// union of the tag keys seen for it; absent tags are exported empty.
func (p *Provider) Collect(ch chan<- prometheus.Metric) {
	p.mu.Lock()
	byFamily := make(map[string][]series)
	for _, s := range p.series {
		byFamily[s.family] = append(byFamily[s.family], *s)
	}
	p.mu.Unlock()

	for family, members := range byFamily {
		names := labelUnion(members)
		desc := prometheus.NewDesc(family, metricHelp, names, nil)
		for _, s := range members {
			values := make([]string, len(names))
			for i, n := range names {
				values[i] = s.labels[n]
			}
			m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, s.value, values...)
			if err != nil {
				log.Printf("prom: %s: %v", family, err)
				continue
			}
			ch <- m
		}
	}
}

func labelUnion(members []series) []string {
	seen := make(map[string]struct{})
	for _, s := range members {
		for k := range s.labels {
			seen[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

func seriesKey(family string, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString(family)
	for _, k := range keys {
		b.WriteByte(0)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

// sanitizeName maps s onto the Prometheus metric name alphabet.
func sanitizeName(s string) string {
	if s == "" {
		return "unnamed"
	}
	var b strings.Builder
	b.Grow(len(s) + 1)
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// sanitizeLabel maps a tag key onto the label alphabet, keeping clear of
// reserved names and the unit label.
func sanitizeLabel(s string) string {
	name := strings.ReplaceAll(sanitizeName(s), ":", "_")
	if strings.HasPrefix(name, "__") || name == unitLabel {
		return "tag_" + strings.TrimLeft(name, "_")
	}
	return name
}
