package main

import (
	"time"

	"github.com/tinytelemetry/pulse/internal/backup"
	"github.com/tinytelemetry/pulse/internal/duckdb"
	"github.com/tinytelemetry/pulse/internal/model"
	"github.com/tinytelemetry/pulse/internal/otlp"
)

const (
	defaultBindHost            = "127.0.0.1"
	defaultAPIPort             = 3000
	defaultBufferSize          = model.DefaultBufferSize
	defaultFlushInterval       = model.DefaultFlushInterval
	defaultMaxMetrics          = model.DefaultMaxMetrics
	defaultMaxLogs             = model.DefaultMaxLogs
	defaultMaxAlerts           = model.DefaultMaxAlerts
	defaultQueryTimeout        = duckdb.DefaultQueryTimeout
	defaultInsertBatchSize     = duckdb.DefaultBatchSize
	defaultInsertFlushInterval = duckdb.DefaultFlushInterval
	defaultInsertFlushQueue    = duckdb.DefaultFlushQueueSize
	defaultRetentionDays       = model.DefaultRetentionDays // 0 = disabled
	defaultSysmetricsInterval  = model.DefaultSysmetricsTick
	defaultOTLPServiceName     = otlp.DefaultServiceName
	defaultShutdownTimeout     = 10 * time.Second
	defaultBackupInterval      = backup.DefaultInterval
	defaultBackupKeepLast      = backup.DefaultKeepLast
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	MonitoringEnabled bool          `mapstructure:"monitoring-enabled"`
	BufferSize        int           `mapstructure:"buffer-size"`
	FlushInterval     time.Duration `mapstructure:"flush-interval"`
	ProviderTimeout   time.Duration `mapstructure:"provider-timeout"`

	MemoryMaxMetrics int `mapstructure:"memory-max-metrics"`
	MemoryMaxLogs    int `mapstructure:"memory-max-logs"`
	MemoryMaxAlerts  int `mapstructure:"memory-max-alerts"`

	DuckDBEnabled       bool          `mapstructure:"duckdb-enabled"`
	DBPath              string        `mapstructure:"db-path"`
	QueryTimeout        time.Duration `mapstructure:"query-timeout"`
	InsertBatchSize     int           `mapstructure:"insert-batch-size"`
	InsertFlushInterval time.Duration `mapstructure:"insert-flush-interval"`
	InsertFlushQueue    int           `mapstructure:"insert-flush-queue-size"`
	JournalEnabled      bool          `mapstructure:"journal-enabled"`
	JournalPath         string        `mapstructure:"journal-path"`
	RetentionDays       int           `mapstructure:"retention-days"`

	BackupEnabled        bool          `mapstructure:"backup-enabled"`
	BackupInterval       time.Duration `mapstructure:"backup-interval"`
	BackupDir            string        `mapstructure:"backup-dir"`
	BackupKeepLast       int           `mapstructure:"backup-keep-last"`
	BackupBucketURL      string        `mapstructure:"backup-bucket-url"`
	BackupS3Endpoint     string        `mapstructure:"backup-s3-endpoint"`
	BackupS3Region       string        `mapstructure:"backup-s3-region"`
	BackupS3AccessKey    string        `mapstructure:"backup-s3-access-key"`
	BackupS3SecretKey    string        `mapstructure:"backup-s3-secret-key"`
	BackupS3SessionToken string        `mapstructure:"backup-s3-session-token"`
	BackupS3UseSSL       bool          `mapstructure:"backup-s3-use-ssl"`

	PrometheusEnabled bool `mapstructure:"prometheus-enabled"`

	InfluxURL    string `mapstructure:"influx-url"`
	InfluxToken  string `mapstructure:"influx-token"`
	InfluxOrg    string `mapstructure:"influx-org"`
	InfluxBucket string `mapstructure:"influx-bucket"`

	OTLPEndpoint    string `mapstructure:"otlp-endpoint"`
	OTLPServiceName string `mapstructure:"otlp-service-name"`
	OTLPInsecure    bool   `mapstructure:"otlp-insecure"`

	SysmetricsInterval time.Duration `mapstructure:"sysmetrics-interval"`

	Host       string `mapstructure:"host"`
	APIEnabled bool   `mapstructure:"api-enabled"`
	APIPort    int    `mapstructure:"api-port"`
	APIAddr    string `mapstructure:"api-addr"`
	SocketPath string `mapstructure:"socket-path"`

	ConfigPath string `mapstructure:"-"` // not from config file
}
