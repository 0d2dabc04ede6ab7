package collector

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/tinytelemetry/pulse/internal/model"
)

const (
	// PerformanceContext is the log context used by LogPerformance.
	PerformanceContext = "performance"
	// OperationDurationMetric is the metric emitted by LogPerformance.
	OperationDurationMetric = "operation_duration"

	performanceSource = "performance-monitor"
	securitySource    = "security-monitor"
)

// errorDetails describes err the way log and alert payloads embed it.
func errorDetails(err error) map[string]any {
	return map[string]any{
		"name":  fmt.Sprintf("%T", err),
		"stack": string(debug.Stack()),
	}
}

// LogError emits an error-level log carrying the error message, its type
// name and the current stack.
func (c *Collector) LogError(err error, context string, data map[string]any) {
	if err == nil {
		return
	}
	payload := model.CloneData(data)
	if payload == nil {
		payload = make(map[string]any, 2)
	}
	for k, v := range errorDetails(err) {
		payload[k] = v
	}
	c.SendLog(model.LevelError, err.Error(), LogOptions{Context: context, Data: payload})
}

// LogPerformance emits an info log in the performance context and an
// operation_duration metric tagged with the operation name.
func (c *Collector) LogPerformance(operation string, duration time.Duration, metadata map[string]any) {
	ms := float64(duration) / float64(time.Millisecond)

	data := model.CloneData(metadata)
	if data == nil {
		data = make(map[string]any, 2)
	}
	data["operation"] = operation
	data["duration"] = ms

	c.SendLog(model.LevelInfo, fmt.Sprintf("Performance: %s took %.2fms", operation, ms),
		LogOptions{Context: PerformanceContext, Data: data})
	c.SendMetric(OperationDurationMetric, ms, "ms", map[string]string{"operation": operation})
}

// AlertPerformance raises a warning when value exceeds threshold. Values at
// or below the threshold are ignored.
func (c *Collector) AlertPerformance(metric string, value, threshold float64) {
	if value <= threshold {
		return
	}
	c.SendAlert(
		model.AlertWarning,
		"Performance Alert: "+metric,
		fmt.Sprintf("%s exceeded threshold: %g > %g", metric, value, threshold),
		model.SeverityMedium,
		model.CategoryPerformance,
		performanceSource,
		map[string]any{"metric": metric, "value": value, "threshold": threshold},
	)
}

// AlertError raises a high-severity availability alert for err.
func (c *Collector) AlertError(err error, context string) {
	if err == nil {
		return
	}
	c.SendAlert(
		model.AlertError,
		"Error Alert: "+context,
		err.Error(),
		model.SeverityHigh,
		model.CategoryAvailability,
		context,
		errorDetails(err),
	)
}

// AlertSecurity raises a security warning. An empty severity means medium.
func (c *Collector) AlertSecurity(event string, severity model.Severity) {
	if severity == "" {
		severity = model.SeverityMedium
	}
	c.SendAlert(
		model.AlertWarning,
		"Security Alert",
		event,
		severity,
		model.CategorySecurity,
		securitySource,
		map[string]any{"event": event},
	)
}
