package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/tinytelemetry/pulse/internal/model"
)

// conditions accumulates AND-joined predicates and their arguments.
type conditions struct {
	clauses []string
	args    []any
}

func (c *conditions) add(clause string, arg any) {
	c.clauses = append(c.clauses, clause)
	c.args = append(c.args, arg)
}

func (c *conditions) eq(column, value string) {
	if value != "" {
		c.add(column+" = ?", value)
	}
}

func (c *conditions) timeRange(start, end int64) {
	if start != 0 {
		c.add("timestamp >= ?", start)
	}
	if end != 0 {
		c.add("timestamp <= ?", end)
	}
}

func (c *conditions) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

// newestFirst builds a query over table returning the newest rows first.
// limit <= 0 leaves the result unbounded.
func newestFirst(columns, table string, c *conditions, limit int) (string, []any) {
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY seq DESC", columns, table, c.where())
	args := slices.Clone(c.args)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return query, args
}

func decodeTags(raw string) map[string]string {
	if raw == "" || raw == "{}" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		log.Printf("duckdb: decode tags: %v", err)
		return nil
	}
	return out
}

func decodeData(raw string) map[string]any {
	if raw == "" || raw == "{}" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		log.Printf("duckdb: decode data: %v", err)
		return nil
	}
	return out
}

// QueryMetrics returns the last q.EffectiveLimit() matching metrics in
// insertion order. Tag filters are applied after the SQL prefilter.
func (s *Store) QueryMetrics(ctx context.Context, q model.MetricQuery) ([]model.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var c conditions
	c.eq("name", q.Name)
	c.timeRange(q.StartTime, q.EndTime)

	limit := q.EffectiveLimit()
	sqlLimit := limit
	if len(q.Tags) > 0 {
		sqlLimit = 0
	}
	query, args := newestFirst("name, value, unit, timestamp, tags", "metrics", &c, sqlLimit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.Metric
	for rows.Next() && len(results) < limit {
		var (
			m    model.Metric
			tags string
		)
		if err := rows.Scan(&m.Name, &m.Value, &m.Unit, &m.Timestamp, &tags); err != nil {
			log.Printf("duckdb scan error (QueryMetrics): %v", err)
			continue
		}
		m.Tags = decodeTags(tags)
		if !model.TagsMatch(m.Tags, q.Tags) {
			continue
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(results)
	return results, nil
}

// QueryLogs returns the last q.EffectiveLimit() matching logs in insertion
// order.
func (s *Store) QueryLogs(ctx context.Context, q model.LogQuery) ([]model.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var c conditions
	c.eq("level", string(q.Level))
	c.eq("context_name", q.Context)
	c.eq("user_id", q.UserID)
	c.timeRange(q.StartTime, q.EndTime)

	query, args := newestFirst(
		"level, message, timestamp, context_name, data, user_id, session_id, request_id, ip, user_agent",
		"logs", &c, q.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.Log
	for rows.Next() {
		var (
			l     model.Log
			level string
			data  string
		)
		if err := rows.Scan(&level, &l.Message, &l.Timestamp, &l.Context, &data,
			&l.UserID, &l.SessionID, &l.RequestID, &l.IP, &l.UserAgent); err != nil {
			log.Printf("duckdb scan error (QueryLogs): %v", err)
			continue
		}
		l.Level = model.LogLevel(level)
		l.Data = decodeData(data)
		results = append(results, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(results)
	return results, nil
}

// QueryAlerts returns the last q.EffectiveLimit() matching alerts in
// insertion order.
func (s *Store) QueryAlerts(ctx context.Context, q model.AlertQuery) ([]model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var c conditions
	c.eq("alert_type", string(q.Type))
	c.eq("severity", string(q.Severity))
	c.eq("category", string(q.Category))
	if q.Acknowledged != nil {
		c.add("acknowledged = ?", *q.Acknowledged)
	}
	c.timeRange(q.StartTime, q.EndTime)

	query, args := newestFirst(
		"id, alert_type, title, message, timestamp, severity, category, source, metadata, acknowledged, acknowledged_by, acknowledged_at",
		"alerts", &c, q.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.Alert
	for rows.Next() {
		var (
			a                          model.Alert
			typ, severity, category, md string
		)
		if err := rows.Scan(&a.ID, &typ, &a.Title, &a.Message, &a.Timestamp, &severity, &category,
			&a.Source, &md, &a.Acknowledged, &a.AcknowledgedBy, &a.AcknowledgedAt); err != nil {
			log.Printf("duckdb scan error (QueryAlerts): %v", err)
			continue
		}
		a.Type = model.AlertType(typ)
		a.Severity = model.Severity(severity)
		a.Category = model.Category(category)
		a.Metadata = decodeData(md)
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(results)
	return results, nil
}

// AcknowledgeAlert marks the alert acknowledged. The first acknowledgement
// wins; later calls report found without changing it.
func (s *Store) AcknowledgeAlert(ctx context.Context, id, by string, at int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET acknowledged = true, acknowledged_by = ?, acknowledged_at = ? WHERE id = ? AND NOT acknowledged`,
		by, at, id)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return true, nil
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts WHERE id = ?", id).Scan(&n); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return n > 0, nil
}

// DeleteBefore removes every metric, log and alert older than cutoff and
// returns the number of rows deleted per table.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	ms := model.Millis(cutoff)
	deleted := make(map[string]int64, len(telemetryTables))
	for _, table := range telemetryTables {
		res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE timestamp < ?", ms)
		if err != nil {
			return deleted, fmt.Errorf("duckdb: delete from %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return deleted, err
		}
		deleted[table] = n
	}
	return deleted, nil
}
