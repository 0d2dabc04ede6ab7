package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	resetPulseEnv(t)

	cfg, err := loadConfig(writeTempConfig(t, "api-port: 3000"))
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}

	if !cfg.MonitoringEnabled {
		t.Error("monitoring should be enabled by default")
	}
	if cfg.BufferSize != defaultBufferSize || cfg.FlushInterval != defaultFlushInterval {
		t.Errorf("buffer = %d/%s, want %d/%s", cfg.BufferSize, cfg.FlushInterval, defaultBufferSize, defaultFlushInterval)
	}
	if cfg.ProviderTimeout != 0 {
		t.Errorf("provider-timeout = %s, want 0", cfg.ProviderTimeout)
	}
	if !cfg.DuckDBEnabled || !cfg.JournalEnabled || !cfg.PrometheusEnabled {
		t.Errorf("duckdb/journal/prometheus = %v/%v/%v, want all enabled",
			cfg.DuckDBEnabled, cfg.JournalEnabled, cfg.PrometheusEnabled)
	}
	if cfg.InfluxURL != "" || cfg.OTLPEndpoint != "" {
		t.Errorf("remote providers should be off by default: influx=%q otlp=%q", cfg.InfluxURL, cfg.OTLPEndpoint)
	}
	if cfg.RetentionDays != defaultRetentionDays {
		t.Errorf("retention-days = %d, want %d", cfg.RetentionDays, defaultRetentionDays)
	}
	if cfg.APIAddr != "127.0.0.1:3000" {
		t.Errorf("APIAddr = %q", cfg.APIAddr)
	}
	if !filepath.IsAbs(cfg.DBPath) || !strings.HasSuffix(cfg.DBPath, "pulse.duckdb") {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.ConfigPath == "" {
		t.Error("ConfigPath should record the file that was read")
	}
}

func TestLoadConfig_AddressResolution(t *testing.T) {
	resetPulseEnv(t)

	tests := []struct {
		name        string
		configYAML  string
		wantAPIAddr string
	}{
		{
			name:        "defaults to localhost host",
			configYAML:  `api-port: 3100`,
			wantAPIAddr: "127.0.0.1:3100",
		},
		{
			name: "host applies to derived api address",
			configYAML: `
host: 0.0.0.0
api-port: 3200
`,
			wantAPIAddr: "0.0.0.0:3200",
		},
		{
			name: "explicit address overrides host and port",
			configYAML: `
host: 0.0.0.0
api-port: 3300
api-addr: 10.0.0.5:8888
`,
			wantAPIAddr: "10.0.0.5:8888",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(writeTempConfig(t, tt.configYAML))
			if err != nil {
				t.Fatalf("loadConfig returned error: %v", err)
			}
			if cfg.APIAddr != tt.wantAPIAddr {
				t.Fatalf("APIAddr = %q, want %q", cfg.APIAddr, tt.wantAPIAddr)
			}
		})
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	resetPulseEnv(t)

	tests := []struct {
		name         string
		configYAML   string
		errSubstring string
	}{
		{"api port out of range", `api-port: 70000`, "invalid api-port"},
		{"zero buffer size", `buffer-size: 0`, "invalid buffer-size"},
		{"zero flush interval", `flush-interval: 0s`, "invalid flush-interval"},
		{"negative retention", `retention-days: -1`, "invalid retention-days"},
		{"backup without duckdb", `
backup-enabled: true
duckdb-enabled: false
`, "backup-enabled requires duckdb-enabled"},
		{"negative backup keep", `
backup-enabled: true
backup-keep-last: -2
`, "invalid backup-keep-last"},
		{"influx without bucket", `
influx-url: http://localhost:8086
influx-org: acme
`, "influx-org and influx-bucket are required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeTempConfig(t, tt.configYAML))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errSubstring) {
				t.Fatalf("error = %q, want substring %q", err.Error(), tt.errSubstring)
			}
		})
	}
}

func TestLoadConfig_FileValues(t *testing.T) {
	resetPulseEnv(t)

	cfg, err := loadConfig(writeTempConfig(t, `
monitoring-enabled: false
buffer-size: 25
flush-interval: 2s
provider-timeout: 500ms
db-path: ~/telemetry/pulse.duckdb
journal-enabled: false
otlp-endpoint: collector:4317
otlp-insecure: true
sysmetrics-interval: 0s
`))
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}

	if cfg.MonitoringEnabled {
		t.Error("monitoring-enabled should be false")
	}
	if cfg.BufferSize != 25 || cfg.FlushInterval != 2*time.Second || cfg.ProviderTimeout != 500*time.Millisecond {
		t.Errorf("collector settings = %d/%s/%s", cfg.BufferSize, cfg.FlushInterval, cfg.ProviderTimeout)
	}
	home, _ := os.UserHomeDir()
	if cfg.DBPath != filepath.Join(home, "telemetry", "pulse.duckdb") {
		t.Errorf("DBPath = %q, want ~ expanded", cfg.DBPath)
	}
	if cfg.OTLPEndpoint != "collector:4317" || !cfg.OTLPInsecure {
		t.Errorf("otlp = %q insecure=%v", cfg.OTLPEndpoint, cfg.OTLPInsecure)
	}
	if cfg.SysmetricsInterval != 0 {
		t.Errorf("sysmetrics-interval = %s, want 0", cfg.SysmetricsInterval)
	}
	if journalPath(cfg) != "" {
		t.Errorf("journalPath = %q, want empty when disabled", journalPath(cfg))
	}
}

func TestLoadConfig_Backups(t *testing.T) {
	resetPulseEnv(t)

	cfg, err := loadConfig(writeTempConfig(t, `api-port: 3000`))
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.BackupEnabled {
		t.Error("backups should be off by default")
	}
	if cfg.BackupInterval != defaultBackupInterval || cfg.BackupKeepLast != defaultBackupKeepLast {
		t.Errorf("backup defaults = %s/%d", cfg.BackupInterval, cfg.BackupKeepLast)
	}
	if !strings.HasSuffix(cfg.BackupDir, filepath.Join("pulse", "backups")) {
		t.Errorf("BackupDir = %q", cfg.BackupDir)
	}

	cfg, err = loadConfig(writeTempConfig(t, `
backup-enabled: true
backup-interval: 30m
backup-dir: ~/snapshots
backup-keep-last: 3
backup-bucket-url: s3://telemetry/pulse
backup-s3-endpoint: minio:9000
backup-s3-use-ssl: false
`))
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	home, _ := os.UserHomeDir()
	if !cfg.BackupEnabled || cfg.BackupInterval != 30*time.Minute || cfg.BackupKeepLast != 3 {
		t.Errorf("backup = %v/%s/%d", cfg.BackupEnabled, cfg.BackupInterval, cfg.BackupKeepLast)
	}
	if cfg.BackupDir != filepath.Join(home, "snapshots") {
		t.Errorf("BackupDir = %q, want ~ expanded", cfg.BackupDir)
	}
	if cfg.BackupBucketURL != "s3://telemetry/pulse" || cfg.BackupS3Endpoint != "minio:9000" || cfg.BackupS3UseSSL {
		t.Errorf("s3 = %q/%q ssl=%v", cfg.BackupBucketURL, cfg.BackupS3Endpoint, cfg.BackupS3UseSSL)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	resetPulseEnv(t)
	t.Setenv("PULSE_BUFFER_SIZE", "7")
	t.Setenv("PULSE_INFLUX_URL", "http://influx:8086")
	t.Setenv("PULSE_INFLUX_ORG", "acme")
	t.Setenv("PULSE_INFLUX_BUCKET", "telemetry")

	cfg, err := loadConfig(writeTempConfig(t, `buffer-size: 50`))
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.BufferSize != 7 {
		t.Errorf("BufferSize = %d, want 7 from env", cfg.BufferSize)
	}
	if cfg.InfluxURL != "http://influx:8086" || cfg.InfluxBucket != "telemetry" {
		t.Errorf("influx = %q/%q", cfg.InfluxURL, cfg.InfluxBucket)
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func resetPulseEnv(t *testing.T) {
	t.Helper()

	original := make(map[string]string)
	existed := make(map[string]bool)

	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "PULSE_") {
			continue
		}
		original[key] = value
		existed[key] = true
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}

	t.Cleanup(func() {
		for key := range existed {
			if err := os.Unsetenv(key); err != nil {
				t.Fatalf("cleanup unset %s: %v", key, err)
			}
		}
		for key, value := range original {
			if err := os.Setenv(key, value); err != nil {
				t.Fatalf("cleanup restore %s: %v", key, err)
			}
		}
	})
}
