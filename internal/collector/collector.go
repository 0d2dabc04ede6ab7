// Package collector buffers telemetry records and fans them out to every
// registered provider.
//
// Metrics and logs are staged in per-kind buffers that flush on a ticker or
// as soon as a buffer reaches its size limit. Alerts are never buffered: they
// reach every provider before SendAlert returns. Provider failures are logged
// and absorbed; a record that fails for one provider is not retried.
package collector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinytelemetry/pulse/internal/model"
)

// Config holds tunable parameters for the collector.
type Config struct {
	// BufferSize is the buffer length that triggers a synchronous flush.
	BufferSize int
	// FlushInterval is the period of the background flush ticker.
	FlushInterval time.Duration
	// ProviderTimeout bounds each provider call. Zero means no timeout.
	ProviderTimeout time.Duration
	// Disabled starts the collector switched off.
	Disabled bool
}

// Collector owns the ingestion buffers and the provider list.
// All methods are safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	metrics   []model.Metric
	logs      []model.Log
	providers []model.Provider
	enabled   bool
	stopped   bool

	bufferSize      int
	flushInterval   time.Duration
	providerTimeout time.Duration

	tickDone chan struct{}
	tickWg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	throttle *errorThrottle

	now   func() time.Time
	newID func(ts int64) string
}

// New creates a collector. The flush ticker starts immediately unless the
// collector is created disabled.
func New(conf ...Config) *Collector {
	bufferSize := model.DefaultBufferSize
	flushInterval := model.DefaultFlushInterval
	var providerTimeout time.Duration
	enabled := true
	if len(conf) > 0 {
		if conf[0].BufferSize > 0 {
			bufferSize = conf[0].BufferSize
		}
		if conf[0].FlushInterval > 0 {
			flushInterval = conf[0].FlushInterval
		}
		if conf[0].ProviderTimeout > 0 {
			providerTimeout = conf[0].ProviderTimeout
		}
		enabled = !conf[0].Disabled
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Collector{
		metrics:         make([]model.Metric, 0, bufferSize),
		logs:            make([]model.Log, 0, bufferSize),
		enabled:         enabled,
		bufferSize:      bufferSize,
		flushInterval:   flushInterval,
		providerTimeout: providerTimeout,
		ctx:             ctx,
		cancel:          cancel,
		throttle:        newErrorThrottle(),
		now:             time.Now,
		newID:           newAlertID,
	}

	if enabled {
		c.mu.Lock()
		c.startTickerLocked()
		c.mu.Unlock()
	}
	return c
}

// newAlertID builds an id of the form alert_<timestamp>_<random-suffix>.
func newAlertID(ts int64) string {
	return fmt.Sprintf("alert_%d_%s", ts, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// AddProvider registers p. Providers are not deduplicated: registering the
// same provider twice delivers every record to it twice.
func (c *Collector) AddProvider(p model.Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.providers = append(c.providers, p)
}

// SetEnabled switches ingestion on or off. Disabling stops the flush ticker
// and turns Send* calls into no-ops; buffered records are kept. Enabling
// restarts the ticker and flushes any buffer that is already full.
func (c *Collector) SetEnabled(enabled bool) {
	c.mu.Lock()
	if c.stopped || c.enabled == enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = enabled
	if !enabled {
		c.stopTickerLocked()
		c.mu.Unlock()
		return
	}
	c.startTickerLocked()
	metricsFull := len(c.metrics) >= c.bufferSize
	logsFull := len(c.logs) >= c.bufferSize
	c.mu.Unlock()

	if metricsFull {
		c.flushMetrics(c.ctx)
	}
	if logsFull {
		c.flushLogs(c.ctx)
	}
}

// Enabled reports whether ingestion is switched on.
func (c *Collector) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// startTickerLocked must be called with c.mu held.
func (c *Collector) startTickerLocked() {
	if c.tickDone != nil {
		return
	}
	done := make(chan struct{})
	c.tickDone = done
	c.tickWg.Add(1)
	go c.tickLoop(done)
}

// stopTickerLocked must be called with c.mu held. It does not wait for a
// flush already in progress.
func (c *Collector) stopTickerLocked() {
	if c.tickDone == nil {
		return
	}
	close(c.tickDone)
	c.tickDone = nil
}

func (c *Collector) tickLoop(done chan struct{}) {
	defer c.tickWg.Done()
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !c.Enabled() {
				continue
			}
			c.flushMetrics(c.ctx)
			c.flushLogs(c.ctx)
		case <-done:
			return
		}
	}
}

func (c *Collector) nowMillis() int64 {
	return model.Millis(c.now())
}

// SendMetric stamps and buffers a metric. If the buffer reaches its size
// limit the buffer is flushed before SendMetric returns.
func (c *Collector) SendMetric(name string, value float64, unit string, tags map[string]string) {
	c.mu.Lock()
	if !c.enabled || c.stopped {
		c.mu.Unlock()
		return
	}
	c.metrics = append(c.metrics, model.Metric{
		Name:      name,
		Value:     value,
		Unit:      unit,
		Timestamp: c.nowMillis(),
		Tags:      model.CloneTags(tags),
	})
	full := len(c.metrics) >= c.bufferSize
	c.mu.Unlock()

	if full {
		c.flushMetrics(c.ctx)
	}
}

// LogOptions carries the optional fields of a log entry.
type LogOptions struct {
	Context   string
	Data      map[string]any
	UserID    string
	SessionID string
	RequestID string
	IP        string
	UserAgent string
}

// SendLog stamps and buffers a log entry, flushing when the buffer is full.
func (c *Collector) SendLog(level model.LogLevel, message string, opts ...LogOptions) {
	var o LogOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	c.mu.Lock()
	if !c.enabled || c.stopped {
		c.mu.Unlock()
		return
	}
	c.logs = append(c.logs, model.Log{
		Level:     level,
		Message:   message,
		Timestamp: c.nowMillis(),
		Context:   o.Context,
		Data:      model.CloneData(o.Data),
		UserID:    o.UserID,
		SessionID: o.SessionID,
		RequestID: o.RequestID,
		IP:        o.IP,
		UserAgent: o.UserAgent,
	})
	full := len(c.logs) >= c.bufferSize
	c.mu.Unlock()

	if full {
		c.flushLogs(c.ctx)
	}
}

// SendAlert stamps an alert with an id and timestamp and delivers it to every
// provider before returning. It returns the zero Alert when the collector is
// disabled or stopped.
func (c *Collector) SendAlert(
	alertType model.AlertType,
	title, message string,
	severity model.Severity,
	category model.Category,
	source string,
	metadata map[string]any,
) model.Alert {
	c.mu.Lock()
	if !c.enabled || c.stopped {
		c.mu.Unlock()
		return model.Alert{}
	}
	ts := c.nowMillis()
	alert := model.Alert{
		ID:        c.newID(ts),
		Type:      alertType,
		Title:     title,
		Message:   message,
		Timestamp: ts,
		Severity:  severity,
		Category:  category,
		Source:    source,
		Metadata:  model.CloneData(metadata),
	}
	providers := c.providersLocked()
	c.mu.Unlock()

	dispatch(c, c.ctx, "sendAlert", []model.Alert{alert}, providers,
		func(ctx context.Context, p model.Provider, a model.Alert) error {
			return p.SendAlert(ctx, a)
		})
	return alert
}

// Flush dispatches everything currently buffered.
func (c *Collector) Flush(ctx context.Context) {
	c.flushMetrics(ctx)
	c.flushLogs(ctx)
}

// flushMetrics swaps the live buffer for an empty one before dispatching, so
// records sent during dispatch land in the next cycle.
func (c *Collector) flushMetrics(ctx context.Context) {
	c.mu.Lock()
	if len(c.metrics) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.metrics
	c.metrics = make([]model.Metric, 0, c.bufferSize)
	providers := c.providersLocked()
	c.mu.Unlock()

	dispatch(c, ctx, "sendMetric", batch, providers,
		func(ctx context.Context, p model.Provider, m model.Metric) error {
			return p.SendMetric(ctx, m)
		})
}

func (c *Collector) flushLogs(ctx context.Context) {
	c.mu.Lock()
	if len(c.logs) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.logs
	c.logs = make([]model.Log, 0, c.bufferSize)
	providers := c.providersLocked()
	c.mu.Unlock()

	dispatch(c, ctx, "sendLog", batch, providers,
		func(ctx context.Context, p model.Provider, l model.Log) error {
			return p.SendLog(ctx, l)
		})
}

// providersLocked returns a copy of the provider list. c.mu must be held.
func (c *Collector) providersLocked() []model.Provider {
	out := make([]model.Provider, len(c.providers))
	copy(out, c.providers)
	return out
}

// Stats returns buffer lengths, provider count and the enabled flag.
// Alerts are never buffered, so BufferedAlerts is always zero.
func (c *Collector) Stats() model.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.Stats{
		BufferedMetrics: len(c.metrics),
		BufferedLogs:    len(c.logs),
		Providers:       len(c.providers),
		Enabled:         c.enabled,
	}
}

// ClearBuffers discards buffered records without dispatching them.
func (c *Collector) ClearBuffers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = make([]model.Metric, 0, c.bufferSize)
	c.logs = make([]model.Log, 0, c.bufferSize)
}

// Stop halts the ticker, drops buffered records and releases every provider.
// Calls after Stop are no-ops. Stop must not be called from a provider callback.
func (c *Collector) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.enabled = false
	c.stopTickerLocked()
	c.metrics = nil
	c.logs = nil
	c.providers = nil
	c.mu.Unlock()

	c.cancel()
	c.tickWg.Wait()
}
