// Package worker consumes ledger messages and writes expenses to the
// external ledger.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kevindbotelho/fin-planner/internal/amqp"
	"github.com/kevindbotelho/fin-planner/internal/core"
	"github.com/kevindbotelho/fin-planner/internal/export"
	"github.com/kevindbotelho/fin-planner/internal/services"
)

// LedgerWorker exports expenses to the ledger and records reversals for
// deleted ones. A returned error requeues the delivery, so handlers return
// nil for permanent failures and errors only where a retry can help.
type LedgerWorker struct {
	store     services.Store
	ledger    export.LedgerAppender
	remover   export.LedgerRemover
	batchSize int
}

var _ amqp.LedgerHandler = (*LedgerWorker)(nil)

func NewLedgerWorker(store services.Store, ledger export.LedgerAppender, remover export.LedgerRemover, batchSize int) *LedgerWorker {
	return &LedgerWorker{
		store:     store,
		ledger:    ledger,
		remover:   remover,
		batchSize: batchSize,
	}
}

// HandleLedgerSync exports one expense. The row is re-read from the store so
// a stale message still writes the current values. Messages for rows that no
// longer exist or already reached the ledger are dropped.
func (w *LedgerWorker) HandleLedgerSync(ctx context.Context, msg amqp.LedgerSyncMessage) error {
	slog.InfoContext(ctx, "processing ledger sync", "expense_id", msg.ExpenseID)

	expense, err := w.store.GetExpense(ctx, msg.ExpenseID)
	if errors.Is(err, core.ErrNotFound) {
		slog.WarnContext(ctx, "expense gone before export, dropping message",
			"expense_id", msg.ExpenseID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get expense: %w", err)
	}

	status, err := w.store.LedgerSyncStatus(ctx, msg.ExpenseID)
	if err != nil {
		return fmt.Errorf("read sync status: %w", err)
	}
	if status == services.SyncSynced {
		slog.InfoContext(ctx, "expense already exported, dropping message",
			"expense_id", msg.ExpenseID)
		return nil
	}

	periods, err := w.store.ListPeriods(ctx)
	if err != nil {
		return fmt.Errorf("list periods: %w", err)
	}
	return w.exportExpense(ctx, expense, periods)
}

// HandleLedgerRemove writes a reversal for a deleted expense. The row is
// gone by the time the message arrives, so the line is rebuilt from the
// message fields.
func (w *LedgerWorker) HandleLedgerRemove(ctx context.Context, msg amqp.LedgerRemoveMessage) error {
	slog.InfoContext(ctx, "processing ledger remove", "expense_id", msg.ExpenseID)

	if w.remover == nil {
		slog.WarnContext(ctx, "no ledger remover configured, skipping reversal",
			"expense_id", msg.ExpenseID)
		return nil
	}

	date, err := core.ParseDate(msg.PurchaseDate)
	if err != nil {
		slog.ErrorContext(ctx, "remove message has a bad purchase date, dropping it",
			"expense_id", msg.ExpenseID,
			"purchase_date", msg.PurchaseDate,
			"error", err)
		return nil
	}

	periods, err := w.store.ListPeriods(ctx)
	if err != nil {
		return fmt.Errorf("list periods: %w", err)
	}

	line := export.Line{
		Date:        date,
		Description: msg.Description,
		Amount:      core.Money{Cents: msg.AmountCents},
		CategoryID:  msg.CategoryID,
		Period:      periodName(date, periods),
	}
	if err := line.Validate(); err != nil {
		slog.ErrorContext(ctx, "remove message is invalid, dropping it",
			"expense_id", msg.ExpenseID, "error", err)
		return nil
	}

	if err := w.remover.Remove(ctx, line); err != nil {
		return fmt.Errorf("write ledger reversal: %w", err)
	}

	slog.InfoContext(ctx, "ledger reversal recorded",
		"expense_id", msg.ExpenseID,
		"description", msg.Description,
		"amount_cents", msg.AmountCents)
	return nil
}

// StartupLedgerCheck drains rows still marked pending. It recovers exports
// whose messages were lost or published while the worker was down.
func (w *LedgerWorker) StartupLedgerCheck(ctx context.Context) error {
	pending, err := w.store.PendingLedgerExpenses(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("list pending expenses: %w", err)
	}
	if len(pending) == 0 {
		slog.InfoContext(ctx, "no pending ledger exports on startup")
		return nil
	}

	slog.InfoContext(ctx, "exporting pending expenses found on startup",
		"count", len(pending))

	periods, err := w.store.ListPeriods(ctx)
	if err != nil {
		return fmt.Errorf("list periods: %w", err)
	}

	synced, failed := 0, 0
	for _, e := range pending {
		if err := w.exportExpense(ctx, e, periods); err != nil {
			slog.ErrorContext(ctx, "startup export failed",
				"expense_id", e.ID, "error", err)
			failed++
			continue
		}
		synced++
	}

	slog.InfoContext(ctx, "startup ledger check finished",
		"total", len(pending),
		"synced", synced,
		"errors", failed)
	return nil
}

// exportExpense appends one line and flips the row's sync state.
func (w *LedgerWorker) exportExpense(ctx context.Context, e core.Expense, periods []core.BillingPeriod) error {
	line := export.Line{
		Date:          e.PurchaseDate,
		Description:   e.Description,
		Amount:        e.Amount,
		CategoryID:    e.CategoryID,
		SubcategoryID: e.SubcategoryID,
		Period:        periodName(e.PurchaseDate, periods),
	}

	ref, err := w.ledger.Append(ctx, line)
	if err != nil {
		if markErr := w.store.MarkLedgerError(ctx, e.ID); markErr != nil {
			slog.ErrorContext(ctx, "failed to mark export error",
				"expense_id", e.ID, "error", markErr)
		}
		return fmt.Errorf("append to ledger: %w", err)
	}

	if err := w.store.MarkLedgerSynced(ctx, e.ID); err != nil {
		// The line is on the ledger, so don't requeue for a status flip.
		slog.ErrorContext(ctx, "exported but failed to mark synced",
			"expense_id", e.ID, "error", err)
	}

	slog.InfoContext(ctx, "expense exported to ledger",
		"expense_id", e.ID,
		"ledger_ref", ref,
		"description", e.Description,
		"amount_cents", e.Amount.Cents)
	return nil
}

// periodName resolves the display name of the period owning a date, or empty
// when no period covers it.
func periodName(date core.Date, periods []core.BillingPeriod) string {
	if p, ok := core.FindPeriodForDate(date, periods); ok {
		return p.Name
	}
	return ""
}
