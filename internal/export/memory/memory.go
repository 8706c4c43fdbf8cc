// Package memory provides an in-memory ledger used by tests and by local
// runs that have no Google Sheets credentials configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/kevindbotelho/fin-planner/internal/export"
)

// Ledger records appended and reversed lines in memory.
type Ledger struct {
	mu       sync.Mutex
	appended []export.Line
	removed  []export.Line
	failNext []error
}

var (
	_ export.LedgerAppender = (*Ledger)(nil)
	_ export.LedgerRemover  = (*Ledger)(nil)
)

// NewLedger creates an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// FailNext queues errors to be returned by upcoming Append or Remove calls.
// Queued entries are consumed in order, one per call; queueing a nil lets
// that call succeed so a later entry lands on a later call.
func (l *Ledger) FailNext(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = append(l.failNext, errs...)
}

func (l *Ledger) takeFailure() error {
	if len(l.failNext) == 0 {
		return nil
	}
	err := l.failNext[0]
	l.failNext = l.failNext[1:]
	return err
}

// Append stores the line and returns a stable in-memory reference.
func (l *Ledger) Append(_ context.Context, line export.Line) (string, error) {
	if err := line.Validate(); err != nil {
		return "", fmt.Errorf("validate line: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(); err != nil {
		return "", err
	}
	l.appended = append(l.appended, line)
	return fmt.Sprintf("mem:%d", len(l.appended)), nil
}

// Remove records a reversal for the line. Nothing is erased; the ledger
// keeps both sides so tests can assert the full history.
func (l *Ledger) Remove(_ context.Context, line export.Line) error {
	if err := line.Validate(); err != nil {
		return fmt.Errorf("validate line: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(); err != nil {
		return err
	}
	l.removed = append(l.removed, line)
	return nil
}

// Appended returns a copy of every line written so far.
func (l *Ledger) Appended() []export.Line {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]export.Line, len(l.appended))
	copy(out, l.appended)
	return out
}

// Removed returns a copy of every reversal recorded so far.
func (l *Ledger) Removed() []export.Line {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]export.Line, len(l.removed))
	copy(out, l.removed)
	return out
}
