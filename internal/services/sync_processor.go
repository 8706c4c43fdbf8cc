package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kevindbotelho/fin-planner/internal/amqp"
	"github.com/kevindbotelho/fin-planner/internal/core"
)

// SyncProcessorConfig holds configuration for the ledger sync processor.
type SyncProcessorConfig struct {
	// PollInterval is how often to check for pending expenses (default: 30s)
	PollInterval time.Duration

	// BatchSize is the max number of expenses to publish per poll cycle (default: 25)
	BatchSize int

	// MaxRetries is the number of failed publish attempts before an expense
	// is marked as errored (default: 3)
	MaxRetries int
}

// DefaultSyncProcessorConfig returns sensible defaults.
func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		PollInterval: 30 * time.Second,
		BatchSize:    25,
		MaxRetries:   3,
	}
}

// SyncProcessor is the backstop behind the direct publish on mutation: it
// polls for expenses still pending ledger export and re-publishes their sync
// messages. Rows stay pending until the ledger worker confirms the export, so
// a message lost to a broker outage is retried on the next poll.
type SyncProcessor struct {
	store  LedgerStore
	events *amqp.Client
	config SyncProcessorConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSyncProcessor(store LedgerStore, events *amqp.Client, config SyncProcessorConfig) *SyncProcessor {
	return &SyncProcessor{store: store, events: events, config: config}
}

// Start begins the polling loop. Returns an error if already running or if
// no AMQP client is configured.
func (p *SyncProcessor) Start(ctx context.Context) error {
	if p.events == nil {
		return fmt.Errorf("sync processor requires an AMQP client")
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("sync processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "sync processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)
	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "sync processor stopped")
	case <-ctx.Done():
		slog.WarnContext(ctx, "sync processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

// IsRunning reports whether the processor loop is active.
func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SyncProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	// Process immediately on startup to drain anything left from a crash.
	p.processBatch(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.processBatch(ctx)
		}
	}
}

// processBatch publishes one batch of pending expenses.
func (p *SyncProcessor) processBatch(ctx context.Context) {
	rows, err := p.store.PendingLedgerExpenses(ctx, p.config.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list pending expenses", "error", err)
		return
	}
	if len(rows) == 0 {
		return
	}

	slog.DebugContext(ctx, "publishing pending ledger exports", "count", len(rows))

	for _, e := range rows {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		msg := amqp.LedgerSyncMessage{ExpenseID: e.ID, Timestamp: time.Now().UTC()}
		if err := p.events.PublishLedgerSync(ctx, msg); err != nil {
			p.handleFailure(ctx, e, err)
			continue
		}
		slog.DebugContext(ctx, "requested ledger export", "expense_id", e.ID)
	}
}

// handleFailure records a failed publish attempt and retires the row once the
// retry budget is spent.
func (p *SyncProcessor) handleFailure(ctx context.Context, e core.Expense, pubErr error) {
	attempts, err := p.store.IncrementLedgerAttempts(ctx, e.ID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to record ledger attempt",
			"expense_id", e.ID, "error", err)
		return
	}

	slog.WarnContext(ctx, "failed to request ledger export",
		"expense_id", e.ID, "attempt", attempts, "error", pubErr)

	if attempts >= int64(p.config.MaxRetries) {
		if err := p.store.MarkLedgerError(ctx, e.ID); err != nil {
			slog.ErrorContext(ctx, "failed to mark ledger error",
				"expense_id", e.ID, "error", err)
			return
		}
		slog.ErrorContext(ctx, "ledger export failed permanently",
			"expense_id", e.ID, "attempts", attempts)
	}
}
