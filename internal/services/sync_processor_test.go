package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kevindbotelho/fin-planner/internal/amqp"
	"github.com/kevindbotelho/fin-planner/internal/core"
)

// fakeLedgerStore tracks sync state in memory. Publishing in these tests goes
// through a zero-value AMQP client, which always fails to connect, so every
// publish attempt lands in the failure path.
type fakeLedgerStore struct {
	mu       sync.Mutex
	rows     []core.Expense
	status   map[int64]string
	attempts map[int64]int64
}

var _ LedgerStore = (*fakeLedgerStore)(nil)

func newFakeLedgerStore(ids ...int64) *fakeLedgerStore {
	s := &fakeLedgerStore{
		status:   make(map[int64]string),
		attempts: make(map[int64]int64),
	}
	for _, id := range ids {
		s.rows = append(s.rows, core.Expense{ID: id, Description: "x", Amount: core.Money{Cents: 100}})
		s.status[id] = SyncPending
	}
	return s
}

func (s *fakeLedgerStore) PendingLedgerExpenses(ctx context.Context, limit int) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []core.Expense
	for _, e := range s.rows {
		if s.status[e.ID] != SyncPending {
			continue
		}
		pending = append(pending, e)
		if limit > 0 && len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (s *fakeLedgerStore) LedgerSyncStatus(ctx context.Context, expenseID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[expenseID], nil
}

func (s *fakeLedgerStore) MarkLedgerSynced(ctx context.Context, expenseID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[expenseID] = SyncSynced
	s.attempts[expenseID] = 0
	return nil
}

func (s *fakeLedgerStore) MarkLedgerError(ctx context.Context, expenseID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[expenseID] = SyncError
	return nil
}

func (s *fakeLedgerStore) IncrementLedgerAttempts(ctx context.Context, expenseID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[expenseID]++
	return s.attempts[expenseID], nil
}

func (s *fakeLedgerStore) statusOf(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[id]
}

func (s *fakeLedgerStore) attemptsOf(id int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[id]
}

func TestDefaultSyncProcessorConfig(t *testing.T) {
	config := DefaultSyncProcessorConfig()

	if config.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", config.PollInterval)
	}
	if config.BatchSize != 25 {
		t.Errorf("BatchSize = %d, want 25", config.BatchSize)
	}
	if config.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", config.MaxRetries)
	}
}

func TestSyncProcessorStartRequiresClient(t *testing.T) {
	processor := NewSyncProcessor(newFakeLedgerStore(), nil, DefaultSyncProcessorConfig())

	if err := processor.Start(context.Background()); err == nil {
		t.Error("Start without an AMQP client should fail")
	}
	if processor.IsRunning() {
		t.Error("processor should not be running after a failed start")
	}
}

func TestSyncProcessorLifecycle(t *testing.T) {
	config := DefaultSyncProcessorConfig()
	config.PollInterval = 50 * time.Millisecond
	processor := NewSyncProcessor(newFakeLedgerStore(), &amqp.Client{}, config)

	ctx := context.Background()
	if processor.IsRunning() {
		t.Fatal("processor should not be running initially")
	}

	if err := processor.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !processor.IsRunning() {
		t.Error("processor should report running after Start")
	}
	if err := processor.Start(ctx); err == nil {
		t.Error("second Start should fail while running")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := processor.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if processor.IsRunning() {
		t.Error("processor should not report running after Stop")
	}
}

func TestSyncProcessorStopNotRunning(t *testing.T) {
	processor := NewSyncProcessor(newFakeLedgerStore(), &amqp.Client{}, DefaultSyncProcessorConfig())

	if err := processor.Stop(context.Background()); err != nil {
		t.Errorf("Stop should not error when not running: %v", err)
	}
}

func TestSyncProcessorRetriesThenMarksError(t *testing.T) {
	store := newFakeLedgerStore(1, 2)
	config := DefaultSyncProcessorConfig()
	config.MaxRetries = 2
	processor := NewSyncProcessor(store, &amqp.Client{}, config)

	ctx := context.Background()

	processor.processBatch(ctx)
	for _, id := range []int64{1, 2} {
		if got := store.attemptsOf(id); got != 1 {
			t.Errorf("expense %d attempts = %d, want 1", id, got)
		}
		if got := store.statusOf(id); got != SyncPending {
			t.Errorf("expense %d status = %q, want still pending", id, got)
		}
	}

	processor.processBatch(ctx)
	for _, id := range []int64{1, 2} {
		if got := store.attemptsOf(id); got != 2 {
			t.Errorf("expense %d attempts = %d, want 2", id, got)
		}
		if got := store.statusOf(id); got != SyncError {
			t.Errorf("expense %d status = %q, want error after retry budget", id, got)
		}
	}

	// Errored rows leave the pending set, so the next batch is a no-op.
	processor.processBatch(ctx)
	for _, id := range []int64{1, 2} {
		if got := store.attemptsOf(id); got != 2 {
			t.Errorf("expense %d attempts = %d, want unchanged 2", id, got)
		}
	}
}

func TestSyncProcessorHonorsBatchSize(t *testing.T) {
	store := newFakeLedgerStore(1, 2, 3)
	config := DefaultSyncProcessorConfig()
	config.BatchSize = 1
	processor := NewSyncProcessor(store, &amqp.Client{}, config)

	processor.processBatch(context.Background())

	if got := store.attemptsOf(1); got != 1 {
		t.Errorf("expense 1 attempts = %d, want 1", got)
	}
	for _, id := range []int64{2, 3} {
		if got := store.attemptsOf(id); got != 0 {
			t.Errorf("expense %d attempts = %d, want untouched", id, got)
		}
	}
}
