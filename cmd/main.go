// Package main is the entry point for the Firecracker VM daemon.
// It loads configuration, checks the VM-control executable, opens the
// optional audit database and serves the HTTP API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nfcunha/fcvmd/core/repository"
	"nfcunha/fcvmd/core/service"
	"nfcunha/fcvmd/core/telemetry"
	"nfcunha/fcvmd/database"
	"nfcunha/fcvmd/handler"
	"nfcunha/fcvmd/utils/config"
	"nfcunha/fcvmd/utils/executor"
	"nfcunha/fcvmd/utils/logging"
	"nfcunha/fcvmd/utils/procscan"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

type flags struct {
	configPath string
	host       string
	port       string
	workDir    string
	script     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "fcvmd",
		Short: "fcvmd - Firecracker VM state-tracking daemon",
		Long: `fcvmd exposes an HTTP API over Firecracker VMs managed by an external
VM-control executable.

It records the lifecycle of every VM it is asked to launch or stop, collects
their logs from disk and the process table, and reports usage metrics.`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&f.configPath, "config", os.Getenv("DAEMON_CONFIG"), "path to a YAML configuration file")
	cmd.Flags().StringVar(&f.host, "host", "", "listen host (overrides DAEMON_HOST)")
	cmd.Flags().StringVar(&f.port, "port", "", "listen port (overrides DAEMON_PORT)")
	cmd.Flags().StringVar(&f.workDir, "work-dir", "", "executable working directory (overrides FIRECRACKER_WORK_DIR)")
	cmd.Flags().StringVar(&f.script, "script", "", "VM-control executable (overrides FIRECRACKER_SCRIPT)")

	return cmd
}

// loadConfig layers command-line flags over the file and environment
// configuration.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cmd.Flags().Changed("host") {
		cfg.Server.Host = f.host
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = f.port
	}
	if cmd.Flags().Changed("work-dir") {
		cfg.Firecracker.WorkDir = f.workDir
	}
	if cmd.Flags().Changed("script") {
		cfg.Firecracker.Script = f.script
	}

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cfg *config.Config) error {
	logger := logging.Setup(logging.Options{
		Format: cfg.Logging.Format,
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Output: os.Stderr,
	})
	logger.Info("Starting Firecracker VM daemon", "version", version)
	cfg.LogSummary(logger)

	if err := os.MkdirAll(cfg.Firecracker.WorkDir, 0o755); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}

	vmExecutor, err := executor.New(cfg.Firecracker.Script, cfg.Firecracker.WorkDir, logger)
	if err != nil {
		return err
	}
	logger.Info("VM control executable found", "path", vmExecutor.Binary())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Audit trail
	var actions service.ActionRecorder
	if cfg.AuditEnabled() {
		db, err := database.Open(cfg.Database.Path, logger)
		if err != nil {
			return fmt.Errorf("failed to open audit database: %w", err)
		}
		defer closeDB(db, logger)

		repo := repository.NewActionLogRepository(db)
		actions = repo
		go startRetentionCleaner(ctx, repo, cfg.LogRetention.Days, logger)
	} else {
		logger.Info("Action audit trail disabled")
	}

	// Services
	var scanner procscan.Scanner
	if procScanner, err := procscan.NewProcfsScanner(procscan.DefaultMountPoint); err == nil {
		scanner = procScanner
	} else {
		logger.Warn("Falling back to ps for process stats", "error", err)
		scanner = procscan.NewPSScanner()
	}
	registry := service.NewRegistry()
	prom := telemetry.New()
	prom.RegisterLifecycle(registry.Counters)

	logService := service.NewLogService(service.LogServiceOptions{
		Dirs:     cfg.Logs.Dirs,
		MaxBytes: cfg.Logs.MaxBytes,
		Marker:   cfg.Firecracker.ProcessMarker,
	}, scanner, logger)
	metricsService := service.NewMetricsService(registry, scanner, cfg.Firecracker.ProcessMarker, time.Now(), logger)
	vmService := service.NewVMService(vmExecutor, registry, logService, metricsService, actions, prom, service.VMServiceOptions{
		ArcControllerURL: cfg.Firecracker.ArcControllerURL,
		CreateTimeout:    cfg.Firecracker.CreateTimeout,
		CommandTimeout:   cfg.Firecracker.CommandTimeout,
		QueryTimeout:     cfg.Firecracker.QueryTimeout,
	}, logger)

	statsCache := service.NewStatsCache(metricsService, prom, cfg.Stats.Interval, logger)
	defer statsCache.Stop()

	// Set Gin mode
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := handler.NewRouter(handler.RouterConfig{
		Mode:        cfg.Server.Mode,
		CORSOrigins: cfg.Server.CORSOrigins,
		VMs:         vmService,
		Logs:        logService,
		Metrics:     metricsService,
		Stats:       statsCache,
		Telemetry:   prom,
		Logger:      logger,
	})

	// Creation calls hold the request open for up to the create timeout.
	server := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Firecracker.CreateTimeout + time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error during shutdown", "error", err)
	}

	logger.Info("Server stopped gracefully")
	return nil
}

// startRetentionCleaner deletes audit entries older than days, once at
// startup and then daily, until ctx is cancelled.
func startRetentionCleaner(ctx context.Context, repo *repository.ActionLogRepository, days int, logger *slog.Logger) {
	cleanup := func() {
		deleted, err := repo.DeleteOlderThan(days)
		if err != nil {
			logger.Error("Failed to prune action logs", "error", err)
			return
		}
		if deleted > 0 {
			logger.Info("Pruned action logs", "deleted", deleted, "retention_days", days)
		}
	}

	cleanup()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanup()
		}
	}
}

func closeDB(db *sql.DB, logger *slog.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("Error closing database", "error", err)
	}
}
