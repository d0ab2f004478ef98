package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"tripledger/internal/amqp"
	"tripledger/internal/config"
	"tripledger/internal/export"
	gsheets "tripledger/internal/export/sheets"
	applog "tripledger/internal/log"
	"tripledger/internal/storage"
	"tripledger/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	level, _ := cfg.SlogLevel()
	logCfg := applog.Config{Level: level, Component: applog.ComponentWorker}
	if cfg.LogFormat == "dev" {
		logCfg.Handler = applog.NewDevHandler(level)
	}
	logger := applog.New(logCfg)
	applog.SetDefault(logger)

	logger.Info("Starting tripledger-worker")

	repo, err := storage.New(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	var reports export.ReportWriter
	if cfg.ReportExportEnabled {
		client, err := gsheets.New(context.Background(), gsheets.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			CredentialsJSON: cfg.GoogleCredentialsJSON,
			CredentialsFile: cfg.GoogleCredentialsFile,
		})
		if err != nil {
			logger.Error("Failed to initialize Google Sheets report writer", "error", err)
			os.Exit(1)
		}
		reports = client
		logger.Info("Report export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Report export disabled - no Google settings provided")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	auditWorker := worker.NewAuditWorker(repo, reports)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return amqpClient.ConsumeLedgerEvents(gctx, func(ev *amqp.LedgerEvent) error {
			return auditWorker.HandleLedgerEvent(gctx, ev)
		})
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
