package model

import (
	"fmt"
	"strings"
)

// LogLevel is the severity of a log entry.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

// Rank orders levels by severity. Unknown levels rank 0.
func (l LogLevel) Rank() int {
	switch l {
	case LevelDebug:
		return 1
	case LevelInfo:
		return 2
	case LevelWarn:
		return 3
	case LevelError:
		return 4
	case LevelFatal:
		return 5
	default:
		return 0
	}
}

// Valid reports whether l is one of the five known levels.
func (l LogLevel) Valid() bool { return l.Rank() > 0 }

// ParseLogLevel converts the common spellings of a severity into a LogLevel.
// It accepts short forms (DBG, ERR, WRN) and maps CRITICAL/PANIC to fatal.
func ParseLogLevel(s string) (LogLevel, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))

	switch normalized {
	case "DEBUG", "DEBU", "DBG", "DEB", "TRACE", "TRC":
		return LevelDebug, nil
	case "INFO", "INFORMATION", "INF":
		return LevelInfo, nil
	case "WARN", "WARNING", "WRNG", "WRN":
		return LevelWarn, nil
	case "ERROR", "ERR", "ERRO":
		return LevelError, nil
	case "FATAL", "FATL", "FTL", "CRITICAL", "CRIT", "CRT", "PANIC", "PNC":
		return LevelFatal, nil
	}
	return "", fmt.Errorf("unknown log level %q", s)
}

// AlertType classifies what kind of event an alert reports.
type AlertType string

const (
	AlertInfo     AlertType = "info"
	AlertWarning  AlertType = "warning"
	AlertError    AlertType = "error"
	AlertCritical AlertType = "critical"
)

func (t AlertType) Valid() bool {
	switch t {
	case AlertInfo, AlertWarning, AlertError, AlertCritical:
		return true
	}
	return false
}

// Severity is the operator urgency of an alert. It is independent of AlertType.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Category groups alerts by the area they concern.
type Category string

const (
	CategoryPerformance  Category = "performance"
	CategorySecurity     Category = "security"
	CategoryAvailability Category = "availability"
	CategoryBusiness     Category = "business"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryPerformance, CategorySecurity, CategoryAvailability, CategoryBusiness:
		return true
	}
	return false
}
