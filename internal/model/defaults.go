package model

import "time"

// Shared defaults used by the service and the CLI binaries.
const (
	DefaultBufferSize     = 100
	DefaultFlushInterval  = 5 * time.Second
	DefaultMaxMetrics     = 1000
	DefaultMaxLogs        = 1000
	DefaultMaxAlerts      = 100
	DefaultRetentionDays  = 30
	DefaultSysmetricsTick = 30 * time.Second
)
