package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/tinytelemetry/pulse/internal/model"
	"gopkg.in/yaml.v3"
)

type outputFormat string

const (
	formatTable outputFormat = "table"
	formatJSON  outputFormat = "json"
	formatYAML  outputFormat = "yaml"
)

func parseFormat(s string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(s)); f {
	case formatTable, formatJSON, formatYAML:
		return f, nil
	case "":
		return formatTable, nil
	}
	return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
}

const timeLayout = "2006-01-02 15:04:05.000"

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	levelStyles = map[model.LogLevel]lipgloss.Style{
		model.LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		model.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		model.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		model.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		model.LevelFatal: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
	severityStyles = map[model.Severity]lipgloss.Style{
		model.SeverityLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		model.SeverityMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		model.SeverityHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		model.SeverityCritical: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
)

// table is a rendered-on-demand grid of cells.
type table struct {
	headers []string
	rows    [][]string
}

func render(out io.Writer, format outputFormat, v any, t table) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		return writeYAML(out, v)
	}
	_, err := io.WriteString(out, t.String())
	return err
}

// writeYAML emits v with the same field names as its JSON form.
func writeYAML(out io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

// String lays the table out with columns sized to their widest cell.
func (t table) String() string {
	if len(t.rows) == 0 {
		return dimStyle.Render("no records") + "\n"
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string, style *lipgloss.Style) {
		for i, cell := range cells {
			if style != nil {
				cell = style.Render(cell)
			}
			b.WriteString(cell)
			if i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
			}
		}
		b.WriteString("\n")
	}
	writeRow(t.headers, &headerStyle)
	for _, row := range t.rows {
		writeRow(row, nil)
	}
	return b.String()
}

func formatTime(ms int64) string {
	return model.Time(ms).Local().Format(timeLayout)
}

func formatTags(tags map[string]string) string {
	if len(tags) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + tags[k]
	}
	return strings.Join(parts, ",")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func metricsTable(metrics []model.Metric) table {
	t := table{headers: []string{"TIME", "NAME", "VALUE", "UNIT", "TAGS"}}
	for _, m := range metrics {
		t.rows = append(t.rows, []string{
			formatTime(m.Timestamp),
			m.Name,
			strconv.FormatFloat(m.Value, 'g', -1, 64),
			orDash(m.Unit),
			formatTags(m.Tags),
		})
	}
	return t
}

func logsTable(logs []model.Log) table {
	t := table{headers: []string{"TIME", "LEVEL", "CONTEXT", "MESSAGE"}}
	for _, l := range logs {
		level := string(l.Level)
		if style, ok := levelStyles[l.Level]; ok {
			level = style.Render(level)
		}
		t.rows = append(t.rows, []string{
			formatTime(l.Timestamp),
			level,
			orDash(l.Context),
			l.Message,
		})
	}
	return t
}

func alertsTable(alerts []model.Alert) table {
	t := table{headers: []string{"TIME", "ID", "SEVERITY", "CATEGORY", "TITLE", "ACK"}}
	for _, a := range alerts {
		severity := string(a.Severity)
		if style, ok := severityStyles[a.Severity]; ok {
			severity = style.Render(severity)
		}
		ack := "-"
		if a.Acknowledged {
			ack = orDash(a.AcknowledgedBy)
		}
		t.rows = append(t.rows, []string{
			formatTime(a.Timestamp),
			a.ID,
			severity,
			string(a.Category),
			a.Title,
			ack,
		})
	}
	return t
}

func statsTable(s model.Stats) table {
	return table{
		headers: []string{"FIELD", "VALUE"},
		rows: [][]string{
			{"enabled", strconv.FormatBool(s.Enabled)},
			{"providers", strconv.Itoa(s.Providers)},
			{"buffered metrics", strconv.Itoa(s.BufferedMetrics)},
			{"buffered logs", strconv.Itoa(s.BufferedLogs)},
			{"buffered alerts", strconv.Itoa(s.BufferedAlerts)},
		},
	}
}
