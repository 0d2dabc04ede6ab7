package sysmetrics

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tinytelemetry/pulse/internal/model"
)

// MetricSender is the ingestion call samples are forwarded through.
type MetricSender interface {
	SendMetric(name string, value float64, unit string, tags map[string]string)
}

// PollerConfig holds tunable parameters for the poller.
type PollerConfig struct {
	Interval time.Duration
}

// Poller collects every source once per interval and forwards the samples
// tagged with source=<name>.
type Poller struct {
	sink     MetricSender
	sources  []Source
	interval time.Duration

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPoller creates a poller; call Start to begin sampling.
func NewPoller(sink MetricSender, sources []Source, conf ...PollerConfig) *Poller {
	interval := model.DefaultSysmetricsTick
	if len(conf) > 0 && conf[0].Interval > 0 {
		interval = conf[0].Interval
	}
	return &Poller{
		sink:     sink,
		sources:  sources,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start collects once immediately and then every interval until ctx is
// cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.loop(ctx)
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollOnce(ctx)
	for {
		select {
		case <-ticker.C:
			p.PollOnce(ctx)
		case <-ctx.Done():
			return
		case <-p.done:
			return
		}
	}
}

// PollOnce collects every source and forwards its samples. A failing source
// is logged and skipped.
func (p *Poller) PollOnce(ctx context.Context) {
	for _, src := range p.sources {
		samples, err := src.Collect(ctx)
		if err != nil {
			log.Printf("sysmetrics: source %q failed: %v", src.Name(), err)
			continue
		}
		for _, s := range samples {
			tags := model.CloneTags(s.Tags)
			if tags == nil {
				tags = make(map[string]string, 1)
			}
			tags["source"] = src.Name()
			p.sink.SendMetric(s.Name, s.Value, s.Unit, tags)
		}
	}
}

// Stop halts the poller and waits for an in-progress poll to finish.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}
