package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message operations carried in the op field of every ledger message.
const (
	OpSync   = "sync"
	OpRemove = "remove"
)

// LedgerSyncMessage asks the ledger worker to export one expense. It carries
// only the ID; the worker reads the current row from the store, so a stale
// message after an edit still exports the latest values.
type LedgerSyncMessage struct {
	Op        string    `json:"op"`
	ExpenseID int64     `json:"expense_id"`
	Timestamp time.Time `json:"timestamp"`
}

// LedgerRemoveMessage asks the ledger worker to strike an exported line. The
// expense row is deleted before the message is handled, so the message
// carries the fields the worker needs to find and annul the line.
type LedgerRemoveMessage struct {
	Op           string    `json:"op"`
	ExpenseID    int64     `json:"expense_id"`
	PurchaseDate string    `json:"purchase_date"`
	Description  string    `json:"description"`
	AmountCents  int64     `json:"amount_cents"`
	CategoryID   int64     `json:"category_id"`
	Timestamp    time.Time `json:"timestamp"`
}

// messageOp extracts the operation from a raw message body.
func messageOp(body []byte) (string, error) {
	var probe struct {
		Op string `json:"op"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return "", fmt.Errorf("decode message op: %w", err)
	}
	if probe.Op == "" {
		return "", fmt.Errorf("message has no op field")
	}
	return probe.Op, nil
}
