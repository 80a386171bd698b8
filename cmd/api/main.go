package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/orgstack/hrms/internal/alert"
	"github.com/orgstack/hrms/internal/audit"
	"github.com/orgstack/hrms/internal/config"
	"github.com/orgstack/hrms/internal/database"
	"github.com/orgstack/hrms/internal/logger"
	"github.com/orgstack/hrms/internal/server"
	"github.com/orgstack/hrms/internal/services"
	"github.com/orgstack/hrms/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init(false, os.Stdout)
		logger.Log().Fatalf("load config: %v", err)
	}

	// Log to stdout and a rotated file next to the database.
	logDir := filepath.Join(filepath.Dir(cfg.DatabasePath), "logs")
	_ = os.MkdirAll(logDir, 0o755)
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "hrms.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	logger.Init(cfg.Environment == "development", io.MultiWriter(os.Stdout, rotator))

	logger.Log().Infof("starting %s %s", version.Name, version.Full())
	if cfg.AuditSecretIsEphemeral {
		logger.Log().Warn("HRMS_AUDIT_SECRET is not set, using an ephemeral secret: ledger signatures will not verify across restarts")
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Log().Fatalf("open database: %v", err)
	}

	alerts := alert.New(db, cfg.AlertURLs)

	pipeline, err := audit.NewPipeline(db, alerts, audit.Options{
		Secret:          cfg.AuditSecret,
		BatchSize:       cfg.AuditBatchSize,
		BatchWindow:     cfg.AuditBatchWindow,
		CriticalModules: cfg.CriticalModules,
		Async:           cfg.AuditAsync,
	})
	if err != nil {
		logger.Log().Fatalf("build audit pipeline: %v", err)
	}

	srv, err := server.New(db, cfg, pipeline)
	if err != nil {
		logger.Log().Fatalf("build server: %v", err)
	}

	pipeline.Start()

	retention := services.NewRetentionService(db, cfg.RetentionDays)
	if err := retention.Start(); err != nil {
		logger.Log().Fatalf("start retention schedule: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Log().Infof("listening on :%s", cfg.HTTPPort)
	if err := srv.Run(ctx); err != nil {
		logger.Log().Errorf("server error: %v", err)
	}

	// Drain before exit so queued audit records reach the ledger.
	retention.Stop()
	pipeline.Stop()
	logger.Log().Info("shutdown complete")
}
