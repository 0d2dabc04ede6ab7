package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tinytelemetry/pulse/internal/model"
	"github.com/tinytelemetry/pulse/internal/socketrpc"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

const usage = `Usage: pulsectl [flags] <command> [command flags]

Commands:
  metrics   list metrics      (-name, -tag k=v, -since, -start, -end, -limit)
  logs      list logs         (-level, -context, -user, -since, -start, -end, -limit)
  alerts    list alerts       (-type, -severity, -category, -acked, -since, -start, -end, -limit)
  stats     show collector buffer and provider counts
  ack       acknowledge an alert: ack -by <name> <alert-id>

Flags:
`

func main() {
	var configPath string
	var socketPath string
	var output string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/pulse/config.yml)")
	flag.StringVar(&socketPath, "socket", "", "override socket path to connect to the pulse service")
	flag.StringVar(&output, "o", "", "output format: table, json or yaml")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("Pulse CLI - Collector Client\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadCLIConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if socketPath != "" {
		cfg.SocketPath = socketPath
	}
	if output != "" {
		cfg.Output = output
	}

	if err := run(cfg, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// querier is the socket surface pulsectl drives.
type querier interface {
	model.Querier
	Stats(ctx context.Context) (model.Stats, error)
	AcknowledgeAlert(ctx context.Context, id, by string) (bool, error)
}

func run(cfg cliConfig, args []string, out io.Writer) error {
	format, err := parseFormat(cfg.Output)
	if err != nil {
		return err
	}

	client, err := socketrpc.Dial(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("cannot connect to pulse service at %s: %w\nIs the pulse service running? Start it with: pulse", cfg.SocketPath, err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	return execute(ctx, client, args, format, out, time.Now())
}

func execute(ctx context.Context, q querier, args []string, format outputFormat, out io.Writer, now time.Time) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "metrics":
		query, err := parseMetricQuery(rest, now)
		if err != nil {
			return err
		}
		metrics, err := q.GetMetrics(ctx, query)
		if err != nil {
			return err
		}
		return render(out, format, metrics, metricsTable(metrics))

	case "logs":
		query, err := parseLogQuery(rest, now)
		if err != nil {
			return err
		}
		logs, err := q.GetLogs(ctx, query)
		if err != nil {
			return err
		}
		return render(out, format, logs, logsTable(logs))

	case "alerts":
		query, err := parseAlertQuery(rest, now)
		if err != nil {
			return err
		}
		alerts, err := q.GetAlerts(ctx, query)
		if err != nil {
			return err
		}
		return render(out, format, alerts, alertsTable(alerts))

	case "stats":
		stats, err := q.Stats(ctx)
		if err != nil {
			return err
		}
		return render(out, format, stats, statsTable(stats))

	case "ack":
		id, by, err := parseAck(rest)
		if err != nil {
			return err
		}
		ok, err := q.AcknowledgeAlert(ctx, id, by)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("alert %s not found", id)
		}
		fmt.Fprintf(out, "acknowledged %s\n", id)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// tagFlag collects repeated -tag key=value flags.
type tagFlag map[string]string

func (t tagFlag) String() string {
	parts := make([]string, 0, len(t))
	for k, v := range t {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (t tagFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("tag must be key=value, got %q", s)
	}
	t[k] = v
	return nil
}

// window holds the time and limit flags shared by the list commands.
type window struct {
	since time.Duration
	start int64
	end   int64
	limit int
}

func (w *window) register(fs *flag.FlagSet) {
	fs.DurationVar(&w.since, "since", 0, "only records newer than this duration, e.g. 15m")
	fs.Int64Var(&w.start, "start", 0, "inclusive start, epoch milliseconds")
	fs.Int64Var(&w.end, "end", 0, "inclusive end, epoch milliseconds")
	fs.IntVar(&w.limit, "limit", 0, "maximum records (default 100)")
}

func (w *window) resolve(now time.Time) (start, end int64, err error) {
	if w.limit < 0 {
		return 0, 0, fmt.Errorf("invalid limit: %d", w.limit)
	}
	if w.since < 0 {
		return 0, 0, fmt.Errorf("invalid since: %s", w.since)
	}
	start = w.start
	if w.since > 0 {
		start = model.Millis(now.Add(-w.since))
	}
	if w.end != 0 && start > w.end {
		return 0, 0, fmt.Errorf("start %d is after end %d", start, w.end)
	}
	return start, w.end, nil
}

func parseMetricQuery(args []string, now time.Time) (model.MetricQuery, error) {
	var q model.MetricQuery
	var w window
	tags := tagFlag{}

	fs := flag.NewFlagSet("metrics", flag.ContinueOnError)
	fs.StringVar(&q.Name, "name", "", "metric name")
	fs.Var(tags, "tag", "tag filter key=value (repeatable)")
	w.register(fs)
	if err := fs.Parse(args); err != nil {
		return q, err
	}

	start, end, err := w.resolve(now)
	if err != nil {
		return q, err
	}
	q.StartTime, q.EndTime, q.Limit = start, end, w.limit
	if len(tags) > 0 {
		q.Tags = tags
	}
	return q, nil
}

func parseLogQuery(args []string, now time.Time) (model.LogQuery, error) {
	var q model.LogQuery
	var w window
	var level string

	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	fs.StringVar(&level, "level", "", "log level")
	fs.StringVar(&q.Context, "context", "", "log context")
	fs.StringVar(&q.UserID, "user", "", "user id")
	w.register(fs)
	if err := fs.Parse(args); err != nil {
		return q, err
	}

	if level != "" {
		parsed, err := model.ParseLogLevel(level)
		if err != nil {
			return q, err
		}
		q.Level = parsed
	}
	start, end, err := w.resolve(now)
	if err != nil {
		return q, err
	}
	q.StartTime, q.EndTime, q.Limit = start, end, w.limit
	return q, nil
}

func parseAlertQuery(args []string, now time.Time) (model.AlertQuery, error) {
	var q model.AlertQuery
	var w window
	var alertType, severity, category, acked string

	fs := flag.NewFlagSet("alerts", flag.ContinueOnError)
	fs.StringVar(&alertType, "type", "", "alert type: info, warning, error, critical")
	fs.StringVar(&severity, "severity", "", "severity: low, medium, high, critical")
	fs.StringVar(&category, "category", "", "category: performance, security, availability, business")
	fs.StringVar(&acked, "acked", "", "acknowledged state: true or false")
	w.register(fs)
	if err := fs.Parse(args); err != nil {
		return q, err
	}

	if alertType != "" {
		q.Type = model.AlertType(alertType)
		if !q.Type.Valid() {
			return q, fmt.Errorf("unknown alert type %q", alertType)
		}
	}
	if severity != "" {
		q.Severity = model.Severity(severity)
		if !q.Severity.Valid() {
			return q, fmt.Errorf("unknown severity %q", severity)
		}
	}
	if category != "" {
		q.Category = model.Category(category)
		if !q.Category.Valid() {
			return q, fmt.Errorf("unknown category %q", category)
		}
	}
	switch acked {
	case "":
	case "true":
		q.Acknowledged = model.Bool(true)
	case "false":
		q.Acknowledged = model.Bool(false)
	default:
		return q, fmt.Errorf("acked must be true or false, got %q", acked)
	}

	start, end, err := w.resolve(now)
	if err != nil {
		return q, err
	}
	q.StartTime, q.EndTime, q.Limit = start, end, w.limit
	return q, nil
}

func parseAck(args []string) (id, by string, err error) {
	fs := flag.NewFlagSet("ack", flag.ContinueOnError)
	fs.StringVar(&by, "by", os.Getenv("USER"), "who acknowledges the alert")
	if err := fs.Parse(args); err != nil {
		return "", "", err
	}
	if fs.NArg() != 1 {
		return "", "", fmt.Errorf("ack takes exactly one alert id")
	}
	if by == "" {
		return "", "", fmt.Errorf("ack requires -by")
	}
	return fs.Arg(0), by, nil
}
