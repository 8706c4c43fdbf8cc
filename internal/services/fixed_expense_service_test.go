package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/kevindbotelho/fin-planner/internal/core"
	"github.com/kevindbotelho/fin-planner/internal/services"
	"github.com/kevindbotelho/fin-planner/internal/storage/memory"
)

func newFixedExpenseService(store *memory.Store) *services.FixedExpenseService {
	return services.NewFixedExpenseService(store, services.NewMaterializer(store, nil))
}

func TestFixedExpenseServiceCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("new template materializes into every due period", func(t *testing.T) {
		store := memory.New()
		seedJanFeb(t, store)
		svc := newFixedExpenseService(store)

		created, inserted, err := svc.Create(ctx, core.FixedExpenseTemplate{
			Description: "Affitto",
			Amount:      core.Money{Cents: 10000},
			CategoryID:  3,
			StartDate:   date(2026, 1, 15),
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if created.ID == 0 || !created.IsActive {
			t.Fatalf("created = %+v, want an active template with an ID", created)
		}
		if len(inserted) != 2 {
			t.Fatalf("inserted = %d rows, want 2", len(inserted))
		}
		expenseByDate(t, inserted, date(2026, 1, 15))
		expenseByDate(t, inserted, date(2026, 2, 15))
	})

	t.Run("retirement fields are reset on create", func(t *testing.T) {
		store := memory.New()
		svc := newFixedExpenseService(store)

		end := date(2026, 6, 1)
		created, _, err := svc.Create(ctx, core.FixedExpenseTemplate{
			Description: "Internet",
			Amount:      core.Money{Cents: 2999},
			CategoryID:  2,
			StartDate:   date(2026, 1, 1),
			EndDate:     &end,
			IsActive:    false,
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if !created.IsActive || created.EndDate != nil {
			t.Errorf("created = %+v, want active with no end date", created)
		}
	})

	t.Run("materialization failure keeps the template", func(t *testing.T) {
		store := memory.New()
		seedJanFeb(t, store)
		svc := newFixedExpenseService(store)

		boom := errors.New("disk full")
		store.FailNext("CreateExpense", boom)

		created, inserted, err := svc.Create(ctx, core.FixedExpenseTemplate{
			Description: "Affitto",
			Amount:      core.Money{Cents: 10000},
			CategoryID:  3,
			StartDate:   date(2026, 1, 15),
		})
		var pe *services.PartialError
		if !errors.As(err, &pe) {
			t.Fatalf("error = %v, want *PartialError", err)
		}
		if len(pe.Completed) != 1 || pe.Completed[0] != "insert" {
			t.Errorf("Completed = %v, want the insert step only", pe.Completed)
		}
		if len(inserted) != 0 {
			t.Errorf("inserted = %d rows, want 0", len(inserted))
		}
		if _, err := store.GetTemplate(ctx, created.ID); err != nil {
			t.Fatalf("template should have been kept: %v", err)
		}

		// Re-materializing the kept template completes the missing rows.
		rows := materialize(t, store, created.ID)
		if len(rows) != 2 {
			t.Errorf("re-run inserted %d rows, want 2", len(rows))
		}
	})

	t.Run("partial materialization lists the finished periods", func(t *testing.T) {
		store := memory.New()
		seedJanFeb(t, store)
		svc := newFixedExpenseService(store)

		store.FailNext("CreateExpense", nil)
		store.FailNext("CreateExpense", errors.New("disk full"))

		_, inserted, err := svc.Create(ctx, core.FixedExpenseTemplate{
			Description: "Affitto",
			Amount:      core.Money{Cents: 10000},
			CategoryID:  3,
			StartDate:   date(2026, 1, 15),
		})
		var pe *services.PartialError
		if !errors.As(err, &pe) {
			t.Fatalf("error = %v, want *PartialError", err)
		}
		if len(pe.Completed) != 2 || pe.Completed[0] != "insert" {
			t.Errorf("Completed = %v, want insert plus the january period", pe.Completed)
		}
		if len(inserted) != 1 {
			t.Errorf("inserted = %d rows, want the january instance", len(inserted))
		}
	})

	t.Run("invalid template is rejected", func(t *testing.T) {
		svc := newFixedExpenseService(memory.New())
		_, _, err := svc.Create(ctx, core.FixedExpenseTemplate{
			Description: "",
			Amount:      core.Money{Cents: 100},
			CategoryID:  1,
			StartDate:   date(2026, 1, 1),
		})
		if !errors.Is(err, core.ErrEmptyDescription) {
			t.Fatalf("error = %v, want ErrEmptyDescription", err)
		}
	})
}

func TestFixedExpenseServiceExclusions(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_, feb := seedJanFeb(t, store)
	tmpl := seedRentTemplate(t, store)
	materialize(t, store, tmpl.ID)

	if _, err := store.CreateExclusion(ctx, tmpl.ID, feb.ID); err != nil {
		t.Fatalf("CreateExclusion: %v", err)
	}

	svc := newFixedExpenseService(store)
	exclusions, err := svc.Exclusions(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("Exclusions: %v", err)
	}
	if len(exclusions) != 1 || exclusions[0].BillingPeriodID != feb.ID {
		t.Errorf("exclusions = %+v, want the february pin", exclusions)
	}
}
