package services

import (
	"context"
	"log/slog"

	"github.com/kevindbotelho/fin-planner/internal/amqp"
	"github.com/kevindbotelho/fin-planner/internal/core"
)

// publishLedgerSync asks the ledger worker to export the expense. A nil
// client or a publish failure is logged and swallowed: the row stays pending
// and the sync processor picks it up on the next poll.
func publishLedgerSync(ctx context.Context, events *amqp.Client, expenseID int64) {
	if events == nil {
		return
	}
	msg := amqp.LedgerSyncMessage{ExpenseID: expenseID, Timestamp: timeNow().UTC()}
	if err := events.PublishLedgerSync(ctx, msg); err != nil {
		slog.WarnContext(ctx, "failed to publish ledger sync message",
			"expense_id", expenseID, "error", err)
	}
}

// publishLedgerRemove asks the ledger worker to strike the expense's line.
// The message carries the row's identifying fields because the row itself is
// gone by the time the worker runs.
func publishLedgerRemove(ctx context.Context, events *amqp.Client, e core.Expense) {
	if events == nil {
		return
	}
	msg := amqp.LedgerRemoveMessage{
		ExpenseID:    e.ID,
		PurchaseDate: e.PurchaseDate.String(),
		Description:  e.Description,
		AmountCents:  e.Amount.Cents,
		CategoryID:   e.CategoryID,
		Timestamp:    timeNow().UTC(),
	}
	if err := events.PublishLedgerRemove(ctx, msg); err != nil {
		slog.WarnContext(ctx, "failed to publish ledger remove message",
			"expense_id", e.ID, "error", err)
	}
}
