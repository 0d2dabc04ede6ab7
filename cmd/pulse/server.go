package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/tinytelemetry/pulse/internal/backup"
	"github.com/tinytelemetry/pulse/internal/collector"
	"github.com/tinytelemetry/pulse/internal/httpserver"
	"github.com/tinytelemetry/pulse/internal/socketrpc"
	"github.com/tinytelemetry/pulse/internal/sysmetrics"
	"golang.org/x/sync/errgroup"
)

// runServer starts the collector, its providers and the HTTP and socket surfaces.
func runServer(cfg appConfig) error {
	cleanupLogger := configureRuntimeLogger()
	defer cleanupLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Providers are closed after the collector stops, so build them first.
	active, err := buildProviders(ctx, buildProviderPlugins(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}
	defer func() {
		if err := active.Close(); err != nil {
			log.Printf("server: closing providers: %v", err)
		}
	}()
	active.logStorageSummary(ctx)

	c := collector.New(collector.Config{
		BufferSize:      cfg.BufferSize,
		FlushInterval:   cfg.FlushInterval,
		ProviderTimeout: cfg.ProviderTimeout,
		Disabled:        !cfg.MonitoringEnabled,
	})
	defer c.Stop()
	for _, p := range active.providers {
		c.AddProvider(p)
	}

	var apiServer *httpserver.Server
	if cfg.APIEnabled {
		apiServer = httpserver.NewServer(cfg.APIAddr, c, active.scrape)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	sockServer := socketrpc.NewServer(cfg.SocketPath, c)
	socketUp := true
	if err := sockServer.Start(); err != nil {
		log.Printf("Warning: failed to start socket server: %v", err)
		socketUp = false
	} else {
		defer sockServer.Stop()
	}

	backups := startBackups(cfg, active)
	if backups != nil {
		defer backups.Stop()
	}

	var poller *sysmetrics.Poller
	if cfg.SysmetricsInterval > 0 {
		poller = sysmetrics.NewPoller(c, []sysmetrics.Source{sysmetrics.RuntimeSource{}},
			sysmetrics.PollerConfig{Interval: cfg.SysmetricsInterval})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(defaultShutdownTimeout)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		cleanupSocket(cfg.SocketPath)
		os.Exit(1)
	}()

	printStartupBanner(cfg, active.names(), socketUp, backups != nil)
	log.Printf("server: started with providers %v", active.names())

	g, gctx := errgroup.WithContext(ctx)

	if poller != nil {
		g.Go(func() error {
			poller.Start(gctx)
			<-gctx.Done()
			poller.Stop()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: errgroup exited with error: %v", err)
	}

	if backups != nil {
		backups.Stop()
	}

	// Stop intake, then deliver what is still buffered before the collector
	// drops it.
	if apiServer != nil {
		apiServer.Stop()
	}
	if socketUp {
		sockServer.Stop()
	}
	flushCtx, flushCancel := context.WithTimeout(context.Background(), defaultShutdownTimeout/2)
	c.Flush(flushCtx)
	flushCancel()

	signal.Stop(sigCh)
	log.Printf("server: stopped")
	return nil
}

// startBackups runs periodic snapshots of the DuckDB store when configured.
// Failures are logged; the collector runs without backups.
func startBackups(cfg appConfig, active *activeProviders) *backup.Manager {
	if !cfg.BackupEnabled {
		return nil
	}
	if active.duck == nil {
		log.Printf("backup: disabled, duckdb provider is not running")
		return nil
	}
	m, err := backup.New(active.duck.Store(), backup.Config{
		Interval:  cfg.BackupInterval,
		Dir:       cfg.BackupDir,
		KeepLast:  cfg.BackupKeepLast,
		BucketURL: cfg.BackupBucketURL,
		S3: backup.S3Config{
			Endpoint:     cfg.BackupS3Endpoint,
			Region:       cfg.BackupS3Region,
			AccessKey:    cfg.BackupS3AccessKey,
			SecretKey:    cfg.BackupS3SecretKey,
			SessionToken: cfg.BackupS3SessionToken,
			UseSSL:       cfg.BackupS3UseSSL,
		},
	})
	if err != nil {
		log.Printf("backup: disabled: %v", err)
		return nil
	}
	m.Start()
	return m
}

func cleanupSocket(path string) {
	if path != "" {
		os.Remove(path)
	}
}

func configureRuntimeLogger() func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "pulse")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logPath := filepath.Join(logDir, "pulse.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		_ = f.Close()
	}
}

func printStartupBanner(cfg appConfig, providers []string, socketUp, backupsUp bool) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔═╗╦ ╦╦  ╔═╗╔═╗
    ╠═╝║ ║║  ╚═╗║╣
    ╩  ╚═╝╩═╝╚═╝╚═╝`)

	status := func(on bool, label, value string) string {
		if on {
			return fmt.Sprintf("    %s  %-14s %s", check, label, cyan.Render(value))
		}
		return fmt.Sprintf("    %s  %-14s %s", dot, label, dim.Render("disabled"))
	}

	enabled := make(map[string]bool, len(providers))
	for _, name := range providers {
		enabled[name] = true
	}

	separator := dim.Render("    ─────────────────────────────────")

	lines := []string{"", logo, "    " + dim.Render("v"+version), "", separator, ""}

	lines = append(lines, bold.Render("    Gateway"), "")
	lines = append(lines, status(cfg.APIEnabled, "HTTP API", cfg.APIAddr))
	lines = append(lines, status(cfg.APIEnabled && enabled["prometheus"], "Scrape", cfg.APIAddr+"/metrics"))
	lines = append(lines, status(socketUp, "Unix Socket", shortenPath(cfg.SocketPath)))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Providers"), "")
	lines = append(lines, status(enabled["memory"], "Memory", fmt.Sprintf("%d metrics / %d logs / %d alerts",
		cfg.MemoryMaxMetrics, cfg.MemoryMaxLogs, cfg.MemoryMaxAlerts)))
	lines = append(lines, status(enabled["duckdb"], "DuckDB", shortenPath(cfg.DBPath)))
	lines = append(lines, status(enabled["duckdb"] && cfg.JournalEnabled, "Journal", shortenPath(cfg.JournalPath)))
	lines = append(lines, status(enabled["prometheus"], "Prometheus", "registry"))
	lines = append(lines, status(enabled["influxdb"], "InfluxDB", cfg.InfluxURL))
	lines = append(lines, status(enabled["otlp"], "OTLP", cfg.OTLPEndpoint))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Runtime"), "")
	lines = append(lines, status(cfg.MonitoringEnabled, "Monitoring", fmt.Sprintf("flush every %s or %d records",
		cfg.FlushInterval, cfg.BufferSize)))
	backupTarget := shortenPath(cfg.BackupDir)
	if cfg.BackupBucketURL != "" {
		backupTarget += " + " + cfg.BackupBucketURL
	}
	lines = append(lines, status(backupsUp, "Backups", backupTarget))
	lines = append(lines, status(cfg.SysmetricsInterval > 0, "Sysmetrics", "every "+cfg.SysmetricsInterval.String()))
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Config File", dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", dot, "Config File", dim.Render("default (no file)")))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
