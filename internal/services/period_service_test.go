package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/kevindbotelho/fin-planner/internal/core"
	"github.com/kevindbotelho/fin-planner/internal/services"
	"github.com/kevindbotelho/fin-planner/internal/storage/memory"
)

func newPeriodService(store *memory.Store) *services.PeriodService {
	return services.NewPeriodService(store, services.NewMaterializer(store, nil))
}

func TestPeriodServiceCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("new period materializes active templates", func(t *testing.T) {
		store := memory.New()
		seedRentTemplate(t, store)
		svc := newPeriodService(store)

		created, inserted, err := svc.Create(ctx, core.BillingPeriod{
			Name:      "Gennaio",
			StartDate: date(2026, 1, 6),
			EndDate:   date(2026, 2, 6),
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if created.ID == 0 {
			t.Fatal("Create should assign an ID")
		}
		if len(inserted) != 1 || !inserted[0].PurchaseDate.Equal(date(2026, 1, 15)) {
			t.Fatalf("inserted = %d rows, want the rent instance on the 15th", len(inserted))
		}
	})

	t.Run("materialization failure keeps the period", func(t *testing.T) {
		store := memory.New()
		seedRentTemplate(t, store)
		svc := newPeriodService(store)

		boom := errors.New("disk full")
		store.FailNext("CreateExpense", boom)

		created, inserted, err := svc.Create(ctx, core.BillingPeriod{
			Name:      "Gennaio",
			StartDate: date(2026, 1, 6),
			EndDate:   date(2026, 2, 6),
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

		// The period itself is durable; a later pass fills in the instance.
		if _, err := store.GetPeriod(ctx, created.ID); err != nil {
			t.Fatalf("period should have been kept: %v", err)
		}
	})

	t.Run("invalid interval is rejected", func(t *testing.T) {
		svc := newPeriodService(memory.New())
		_, _, err := svc.Create(ctx, core.BillingPeriod{
			Name:      "Rotto",
			StartDate: date(2026, 2, 6),
			EndDate:   date(2026, 2, 6),
		})
		if !errors.Is(err, core.ErrInvalidInterval) {
			t.Fatalf("error = %v, want ErrInvalidInterval", err)
		}
	})

	t.Run("blank name is rejected", func(t *testing.T) {
		svc := newPeriodService(memory.New())
		_, _, err := svc.Create(ctx, core.BillingPeriod{
			Name:      "   ",
			StartDate: date(2026, 1, 6),
			EndDate:   date(2026, 2, 6),
		})
		if !errors.Is(err, core.ErrEmptyName) {
			t.Fatalf("error = %v, want ErrEmptyName", err)
		}
	})
}

func TestPeriodServiceFindForDate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	jan, _ := seedJanFeb(t, store)
	svc := newPeriodService(store)

	p, ok, err := svc.FindForDate(ctx, date(2026, 1, 20))
	if err != nil {
		t.Fatalf("FindForDate: %v", err)
	}
	if !ok || p.ID != jan.ID {
		t.Errorf("FindForDate = (%d, %v), want january", p.ID, ok)
	}

	_, ok, err = svc.FindForDate(ctx, date(2026, 5, 1))
	if err != nil {
		t.Fatalf("FindForDate: %v", err)
	}
	if ok {
		t.Error("date outside all periods should not match")
	}
}
