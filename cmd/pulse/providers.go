package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/tinytelemetry/pulse/internal/duckdb"
	"github.com/tinytelemetry/pulse/internal/influx"
	"github.com/tinytelemetry/pulse/internal/memstore"
	"github.com/tinytelemetry/pulse/internal/model"
	"github.com/tinytelemetry/pulse/internal/otlp"
	"github.com/tinytelemetry/pulse/internal/prom"
)

// ProviderPlugin is a small plugin primitive for wiring telemetry backends.
type ProviderPlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (model.Provider, error)
}

// scrapeHandler is implemented by providers that serve a pull endpoint.
type scrapeHandler interface {
	Handler() http.Handler
}

func buildProviderPlugins(cfg appConfig) []ProviderPlugin {
	return []ProviderPlugin{
		memoryPlugin{conf: memstore.Config{
			MaxMetrics: cfg.MemoryMaxMetrics,
			MaxLogs:    cfg.MemoryMaxLogs,
			MaxAlerts:  cfg.MemoryMaxAlerts,
		}},
		duckdbPlugin{enabled: cfg.DuckDBEnabled, conf: duckdb.ProviderConfig{
			Path:         cfg.DBPath,
			QueryTimeout: cfg.QueryTimeout,
			Insert: duckdb.InsertBufferConfig{
				BatchSize:      cfg.InsertBatchSize,
				FlushInterval:  cfg.InsertFlushInterval,
				FlushQueueSize: cfg.InsertFlushQueue,
			},
			JournalPath:   journalPath(cfg),
			RetentionDays: cfg.RetentionDays,
		}},
		prometheusPlugin{enabled: cfg.PrometheusEnabled},
		influxPlugin{conf: influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		}},
		otlpPlugin{conf: otlp.Config{
			Endpoint:    cfg.OTLPEndpoint,
			ServiceName: cfg.OTLPServiceName,
			Insecure:    cfg.OTLPInsecure,
		}},
	}
}

func journalPath(cfg appConfig) string {
	if !cfg.JournalEnabled {
		return ""
	}
	return cfg.JournalPath
}

// activeProviders is the set of built providers in registration order.
type activeProviders struct {
	providers []model.Provider
	scrape    http.Handler
	duck      *duckdb.Provider
}

// buildProviders builds every enabled plugin. A failing plugin is logged and
// skipped unless it is the in-memory store, which every query path relies on.
func buildProviders(ctx context.Context, plugins []ProviderPlugin) (*activeProviders, error) {
	active := &activeProviders{}
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		p, err := plugin.Build(ctx)
		if err != nil {
			if plugin.Name() == memstore.Name {
				active.Close()
				return nil, fmt.Errorf("build %s provider: %w", plugin.Name(), err)
			}
			log.Printf("Error initializing provider %q: %v", plugin.Name(), err)
			continue
		}
		active.providers = append(active.providers, p)
		if h, ok := p.(scrapeHandler); ok && active.scrape == nil {
			active.scrape = h.Handler()
		}
		if d, ok := p.(*duckdb.Provider); ok {
			active.duck = d
		}
	}
	return active, nil
}

func (a *activeProviders) names() []string {
	out := make([]string, len(a.providers))
	for i, p := range a.providers {
		out[i] = p.Name()
	}
	return out
}

// Close releases providers in reverse registration order.
func (a *activeProviders) Close() error {
	var errs []error
	for i := len(a.providers) - 1; i >= 0; i-- {
		c, ok := a.providers[i].(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", a.providers[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

// logStorageSummary reports row counts from the persistent store, if any.
func (a *activeProviders) logStorageSummary(ctx context.Context) {
	if a.duck == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	counts, err := a.duck.Store().TableRowCounts(ctx)
	if err != nil {
		log.Printf("duckdb: row counts unavailable: %v", err)
		return
	}
	log.Printf("duckdb: %s holds metrics=%d logs=%d alerts=%d",
		a.duck.Store().DBPath(), counts["metrics"], counts["logs"], counts["alerts"])
}

type memoryPlugin struct {
	conf memstore.Config
}

func (p memoryPlugin) Name() string  { return memstore.Name }
func (p memoryPlugin) Enabled() bool { return true }

func (p memoryPlugin) Build(context.Context) (model.Provider, error) {
	return memstore.New(p.conf), nil
}

type duckdbPlugin struct {
	enabled bool
	conf    duckdb.ProviderConfig
}

func (p duckdbPlugin) Name() string  { return duckdb.Name }
func (p duckdbPlugin) Enabled() bool { return p.enabled }

func (p duckdbPlugin) Build(context.Context) (model.Provider, error) {
	return duckdb.Open(p.conf)
}

type prometheusPlugin struct {
	enabled bool
}

func (p prometheusPlugin) Name() string  { return prom.Name }
func (p prometheusPlugin) Enabled() bool { return p.enabled }

func (p prometheusPlugin) Build(context.Context) (model.Provider, error) {
	return prom.New(), nil
}

type influxPlugin struct {
	conf influx.Config
}

func (p influxPlugin) Name() string  { return influx.Name }
func (p influxPlugin) Enabled() bool { return p.conf.URL != "" }

func (p influxPlugin) Build(context.Context) (model.Provider, error) {
	return influx.New(p.conf)
}

type otlpPlugin struct {
	conf otlp.Config
}

func (p otlpPlugin) Name() string  { return otlp.Name }
func (p otlpPlugin) Enabled() bool { return p.conf.Endpoint != "" }

func (p otlpPlugin) Build(context.Context) (model.Provider, error) {
	return otlp.New(p.conf)
}
