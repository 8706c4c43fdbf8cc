// Command fin-planner-worker exports expenses to the external ledger. It
// consumes export messages from the broker and periodically re-publishes
// rows that stayed pending, so the ledger converges even when individual
// messages are lost.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/kevindbotelho/fin-planner/internal/amqp"
	"github.com/kevindbotelho/fin-planner/internal/cli"
	"github.com/kevindbotelho/fin-planner/internal/export"
	googleledger "github.com/kevindbotelho/fin-planner/internal/export/google"
	memoryledger "github.com/kevindbotelho/fin-planner/internal/export/memory"
	"github.com/kevindbotelho/fin-planner/internal/log"
	"github.com/kevindbotelho/fin-planner/internal/services"
	"github.com/kevindbotelho/fin-planner/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger().WithComponent(log.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx := context.Background()
	res := cli.InitBackend(ctx, logger, cfg)

	var (
		ledger  export.LedgerAppender
		remover export.LedgerRemover
	)
	if cfg.GoogleSpreadsheetID != "" {
		client, err := googleledger.NewFromEnv(ctx)
		if err != nil {
			logger.Error("failed to initialize Google Sheets ledger", "error", err)
			os.Exit(1)
		}
		ledger, remover = client, client
		logger.Info("exporting to Google Sheets", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		mem := memoryledger.NewLedger()
		ledger, remover = mem, mem
		logger.Warn("GOOGLE_SPREADSHEET_ID not set, exported lines are kept in memory only")
	}

	events, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("failed to connect to message broker", "error", err)
		os.Exit(1)
	}

	ledgerWorker := worker.NewLedgerWorker(res.Store, ledger, remover, cfg.SyncBatchSize)

	// Drain whatever went pending while the worker was down before taking
	// new deliveries.
	if err := ledgerWorker.StartupLedgerCheck(ctx); err != nil {
		logger.Error("startup ledger check failed", "error", err)
	}

	processor := services.NewSyncProcessor(res.Store, events, services.SyncProcessorConfig{
		PollInterval: cfg.SyncInterval,
		BatchSize:    cfg.SyncBatchSize,
		MaxRetries:   3,
	})

	runCtx, done := cli.GracefulShutdown(logger, shutdownTimeout, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := processor.Stop(stopCtx); err != nil {
			logger.Error("failed to stop sync processor", "error", err)
		}
		if err := events.Close(); err != nil {
			logger.Error("failed to close broker connection", "error", err)
		}
		if res.Cleanup != nil {
			if err := res.Cleanup(); err != nil {
				logger.Error("backend cleanup failed", "error", err)
			}
		}
	})

	if err := processor.Start(runCtx); err != nil {
		logger.Error("failed to start sync processor", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := events.Consume(runCtx, ledgerWorker); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("message consumption stopped", "error", err)
		}
	}()

	logger.Info("ledger worker started",
		"queue", cfg.AMQPQueue,
		"poll_interval", cfg.SyncInterval,
		"batch_size", cfg.SyncBatchSize)

	cli.WaitForShutdown(runCtx, done)
}
