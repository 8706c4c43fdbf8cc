// Command reconcile-worker repairs materialized fixed expenses. Each pass
// restores the resting state for every template and period pair: exactly
// one instance where the template is due and not excluded, none anywhere
// else.
package main

import (
	"context"
	"os"
	"time"

	"github.com/kevindbotelho/fin-planner/internal/amqp"
	"github.com/kevindbotelho/fin-planner/internal/cli"
	"github.com/kevindbotelho/fin-planner/internal/log"
	"github.com/kevindbotelho/fin-planner/internal/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger().WithComponent(log.ComponentReconcile)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx := context.Background()
	res := cli.InitBackend(ctx, logger, cfg)

	var events *amqp.Client
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("message broker unavailable, repairs will not reach the ledger", "error", err)
		} else {
			events = client
		}
	}

	reconciler := services.NewReconciler(res.Store, events)

	cleanup := func() {
		if events != nil {
			if err := events.Close(); err != nil {
				logger.Error("failed to close broker connection", "error", err)
			}
		}
		if res.Cleanup != nil {
			if err := res.Cleanup(); err != nil {
				logger.Error("backend cleanup failed", "error", err)
			}
		}
	}

	// An interval of zero means one pass and out, for cron-style use.
	if cfg.ReconcileInterval == 0 {
		err := runPass(ctx, logger, reconciler)
		cleanup()
		if err != nil {
			os.Exit(1)
		}
		return
	}

	runCtx, done := cli.GracefulShutdown(logger, shutdownTimeout, cleanup)

	runPass(runCtx, logger, reconciler)

	logger.Info("reconcile worker started", "interval", cfg.ReconcileInterval)

	ticker := time.NewTicker(cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			cli.WaitForShutdown(runCtx, done)
			return
		case <-ticker.C:
			runPass(runCtx, logger, reconciler)
		}
	}
}

func runPass(ctx context.Context, logger *log.Logger, r *services.Reconciler) error {
	report, err := r.Reconcile(ctx)
	if err != nil {
		logger.Error("reconciliation pass failed", "error", err,
			"inserted", report.Inserted,
			"removed", report.Removed)
		return err
	}
	return nil
}
