package export

import (
	"context"
	"strings"

	"github.com/kevindbotelho/fin-planner/internal/core"
)

// Line is one ledger row: the flattened view of an expense that the external
// ledger stores. Period carries the billing period's display name, empty when
// the expense matches no known period.
type Line struct {
	Date          core.Date
	Description   string
	Amount        core.Money
	CategoryID    int64
	SubcategoryID *int64
	Period        string
}

func (l Line) Validate() error {
	if strings.TrimSpace(l.Description) == "" {
		return core.ErrEmptyDescription
	}
	if err := l.Amount.Validate(); err != nil {
		return err
	}
	if err := l.Date.Validate(); err != nil {
		return err
	}
	return nil
}

// Ports for outbound ledger adapters.
type (
	// LedgerAppender writes one line to the external ledger.
	LedgerAppender interface {
		Append(ctx context.Context, l Line) (rowRef string, err error)
	}

	// LedgerRemover compensates a previously exported line. The ledger is
	// append-only, so removal means writing a reversal, not erasing a row.
	LedgerRemover interface {
		Remove(ctx context.Context, l Line) error
	}
)
