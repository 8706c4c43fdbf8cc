// Command fin-planner serves the budgeting API: billing periods, expenses,
// fixed-expense templates and category goals.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/kevindbotelho/fin-planner/internal/amqp"
	"github.com/kevindbotelho/fin-planner/internal/cli"
	api "github.com/kevindbotelho/fin-planner/internal/http"
	"github.com/kevindbotelho/fin-planner/internal/services"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	ctx := context.Background()
	res := cli.InitBackend(ctx, logger, cfg)

	// The API keeps serving without a broker; mutated rows stay pending
	// until the ledger worker picks them up.
	var events *amqp.Client
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("message broker unavailable, ledger export messages will not be published", "error", err)
		} else {
			events = client
		}
	}

	materializer := services.NewMaterializer(res.Store, events)
	periods := services.NewPeriodService(res.Store, materializer)
	expenses := services.NewExpenseService(res.Store, events)
	fixed := services.NewFixedExpenseService(res.Store, materializer)
	goals := services.NewGoalService(res.Store)

	srv := api.NewServer(":"+cfg.Port, logger, periods, expenses, fixed, goals)

	_, done := cli.GracefulShutdown(logger, shutdownTimeout, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
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
	})

	logger.Info("planner API listening",
		"addr", srv.Addr,
		"backend", cfg.DataBackend,
		"ledger_export", events != nil)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped unexpectedly", "error", err)
		os.Exit(1)
	}

	<-done
}
