package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"github.com/tinytelemetry/pulse/internal/socketrpc"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/pulse/config.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("Pulse - Telemetry Collector\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := runServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	dataDir := filepath.Join(home, ".local", "share", "pulse")

	v := viper.New()
	v.SetEnvPrefix("PULSE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("monitoring-enabled", true)
	v.SetDefault("buffer-size", defaultBufferSize)
	v.SetDefault("flush-interval", defaultFlushInterval)
	v.SetDefault("provider-timeout", 0)
	v.SetDefault("memory-max-metrics", defaultMaxMetrics)
	v.SetDefault("memory-max-logs", defaultMaxLogs)
	v.SetDefault("memory-max-alerts", defaultMaxAlerts)
	v.SetDefault("duckdb-enabled", true)
	v.SetDefault("db-path", filepath.Join(dataDir, "pulse.duckdb"))
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("insert-batch-size", defaultInsertBatchSize)
	v.SetDefault("insert-flush-interval", defaultInsertFlushInterval)
	v.SetDefault("insert-flush-queue-size", defaultInsertFlushQueue)
	v.SetDefault("journal-enabled", true)
	v.SetDefault("journal-path", filepath.Join(dataDir, "ingest.journal"))
	v.SetDefault("retention-days", defaultRetentionDays)
	v.SetDefault("backup-enabled", false)
	v.SetDefault("backup-interval", defaultBackupInterval)
	v.SetDefault("backup-dir", filepath.Join(dataDir, "backups"))
	v.SetDefault("backup-keep-last", defaultBackupKeepLast)
	v.SetDefault("backup-bucket-url", "")
	v.SetDefault("backup-s3-endpoint", "")
	v.SetDefault("backup-s3-region", "")
	v.SetDefault("backup-s3-access-key", "")
	v.SetDefault("backup-s3-secret-key", "")
	v.SetDefault("backup-s3-session-token", "")
	v.SetDefault("backup-s3-use-ssl", true)
	v.SetDefault("prometheus-enabled", true)
	v.SetDefault("influx-url", "")
	v.SetDefault("influx-token", "")
	v.SetDefault("influx-org", "")
	v.SetDefault("influx-bucket", "")
	v.SetDefault("otlp-endpoint", "")
	v.SetDefault("otlp-service-name", defaultOTLPServiceName)
	v.SetDefault("otlp-insecure", false)
	v.SetDefault("sysmetrics-interval", defaultSysmetricsInterval)
	v.SetDefault("host", defaultBindHost)
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("api-addr", "")
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "pulse", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		cfg.ConfigPath = ""
	}

	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}

	cfg.DBPath = expandHome(cfg.DBPath, home)
	cfg.JournalPath = expandHome(cfg.JournalPath, home)
	cfg.SocketPath = expandHome(cfg.SocketPath, home)
	cfg.BackupDir = expandHome(cfg.BackupDir, home)

	if cfg.Host == "" {
		cfg.Host = defaultBindHost
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.APIPort))
	}

	return cfg, nil
}

func validateConfig(cfg appConfig) error {
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.BufferSize <= 0 {
		return fmt.Errorf("invalid buffer-size: %d", cfg.BufferSize)
	}
	if cfg.FlushInterval <= 0 {
		return fmt.Errorf("invalid flush-interval: %s", cfg.FlushInterval)
	}
	if cfg.ProviderTimeout < 0 {
		return fmt.Errorf("invalid provider-timeout: %s", cfg.ProviderTimeout)
	}
	if cfg.RetentionDays < 0 {
		return fmt.Errorf("invalid retention-days: %d", cfg.RetentionDays)
	}
	if cfg.SysmetricsInterval < 0 {
		return fmt.Errorf("invalid sysmetrics-interval: %s", cfg.SysmetricsInterval)
	}
	if cfg.BackupEnabled {
		if !cfg.DuckDBEnabled {
			return errors.New("backup-enabled requires duckdb-enabled")
		}
		if cfg.BackupInterval < 0 {
			return fmt.Errorf("invalid backup-interval: %s", cfg.BackupInterval)
		}
		if cfg.BackupKeepLast < 0 {
			return fmt.Errorf("invalid backup-keep-last: %d", cfg.BackupKeepLast)
		}
	}
	if cfg.InfluxURL != "" && (cfg.InfluxOrg == "" || cfg.InfluxBucket == "") {
		return errors.New("influx-org and influx-bucket are required when influx-url is set")
	}
	return nil
}

// expandHome replaces a leading ~/ with the user's home directory.
func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
