package collector

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tinytelemetry/pulse/internal/model"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// dispatch hands batch to every provider in registration order, one record at
// a time. A failing record is counted and skipped; it is never re-queued.
func dispatch[T any](
	c *Collector,
	ctx context.Context,
	op string,
	batch []T,
	providers []model.Provider,
	send func(context.Context, model.Provider, T) error,
) {
	for _, p := range providers {
		var firstErr error
		failed := 0
		for _, record := range batch {
			err := c.invoke(ctx, func(ctx context.Context) error {
				return send(ctx, p, record)
			})
			if err != nil {
				failed++
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		if failed > 0 {
			c.throttle.logf(p.Name(), "collector: provider %q %s failed for %d/%d records: %v",
				p.Name(), op, failed, len(batch), firstErr)
		}
	}
}

// invoke runs one provider call, applying the provider timeout and turning a
// panic into an error.
func (c *Collector) invoke(ctx context.Context, fn func(context.Context) error) (err error) {
	if c.providerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.providerTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// fanOut queries every provider concurrently and concatenates the results in
// registration order. Failing providers contribute nothing.
func fanOut[T any](
	c *Collector,
	ctx context.Context,
	op string,
	query func(context.Context, model.Provider) ([]T, error),
) []T {
	c.mu.Lock()
	providers := c.providersLocked()
	c.mu.Unlock()

	results := make([][]T, len(providers))
	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() error {
			var res []T
			err := c.invoke(ctx, func(ctx context.Context) error {
				var qerr error
				res, qerr = query(ctx, p)
				return qerr
			})
			if err != nil {
				c.throttle.logf(p.Name(), "collector: provider %q %s failed: %v", p.Name(), op, err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	var out []T
	for _, res := range results {
		out = append(out, res...)
	}
	return out
}

// GetMetrics returns the concatenated results of every provider. Each
// provider applies the limit on its own. The error is always nil.
func (c *Collector) GetMetrics(ctx context.Context, q model.MetricQuery) ([]model.Metric, error) {
	return fanOut(c, ctx, "getMetrics", func(ctx context.Context, p model.Provider) ([]model.Metric, error) {
		return p.GetMetrics(ctx, q)
	}), nil
}

func (c *Collector) GetLogs(ctx context.Context, q model.LogQuery) ([]model.Log, error) {
	return fanOut(c, ctx, "getLogs", func(ctx context.Context, p model.Provider) ([]model.Log, error) {
		return p.GetLogs(ctx, q)
	}), nil
}

func (c *Collector) GetAlerts(ctx context.Context, q model.AlertQuery) ([]model.Alert, error) {
	return fanOut(c, ctx, "getAlerts", func(ctx context.Context, p model.Provider) ([]model.Alert, error) {
		return p.GetAlerts(ctx, q)
	}), nil
}

// AcknowledgeAlert records an operator acknowledgement on every provider that
// supports it. It reports whether any provider knew the alert.
func (c *Collector) AcknowledgeAlert(ctx context.Context, id, by string) (bool, error) {
	c.mu.Lock()
	providers := c.providersLocked()
	c.mu.Unlock()

	at := c.nowMillis()
	found := false
	for _, p := range providers {
		acker, ok := p.(model.Acknowledger)
		if !ok {
			continue
		}
		var hit bool
		err := c.invoke(ctx, func(ctx context.Context) error {
			var aerr error
			hit, aerr = acker.AcknowledgeAlert(ctx, id, by, at)
			return aerr
		})
		if err != nil {
			c.throttle.logf(p.Name(), "collector: provider %q acknowledgeAlert failed: %v", p.Name(), err)
			continue
		}
		found = found || hit
	}
	return found, nil
}

// errorThrottle limits dispatch error logging per provider name so a dead
// backend cannot flood the log. Suppressed lines are counted and reported
// with the next line that gets through.
type errorThrottle struct {
	mu       sync.Mutex
	limiters map[string]*throttleState
}

type throttleState struct {
	limiter    *rate.Limiter
	suppressed int
}

func newErrorThrottle() *errorThrottle {
	return &errorThrottle{limiters: make(map[string]*throttleState)}
}

func (t *errorThrottle) logf(provider, format string, args ...any) {
	t.mu.Lock()
	st, ok := t.limiters[provider]
	if !ok {
		st = &throttleState{limiter: rate.NewLimiter(rate.Every(10*time.Second), 5)}
		t.limiters[provider] = st
	}
	if !st.limiter.Allow() {
		st.suppressed++
		t.mu.Unlock()
		return
	}
	suppressed := st.suppressed
	st.suppressed = 0
	t.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	if suppressed > 0 {
		msg = fmt.Sprintf("%s (%d similar messages suppressed)", msg, suppressed)
	}
	log.Print(msg)
}
