package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/kevindbotelho/fin-planner/internal/core"
	"github.com/kevindbotelho/fin-planner/internal/services"
	"github.com/kevindbotelho/fin-planner/internal/storage/memory"
)

func TestMaterializeTemplate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates one instance per due period", func(t *testing.T) {
		store := memory.New()
		seedJanFeb(t, store)
		tmpl := seedRentTemplate(t, store)

		rows := materialize(t, store, tmpl.ID)
		if len(rows) != 2 {
			t.Fatalf("inserted %d rows, want 2", len(rows))
		}

		janRow := expenseByDate(t, rows, date(2026, 1, 15))
		febRow := expenseByDate(t, rows, date(2026, 2, 15))
		for _, row := range []core.Expense{janRow, febRow} {
			if row.Type != core.TypeFixed {
				t.Errorf("row %d type = %q, want fixed", row.ID, row.Type)
			}
			if row.FixedTemplateID == nil || *row.FixedTemplateID != tmpl.ID {
				t.Errorf("row %d template = %v, want %d", row.ID, row.FixedTemplateID, tmpl.ID)
			}
			if row.Amount.Cents != 10000 || row.Description != "Affitto" {
				t.Errorf("row %d = %q %d cents, want template values", row.ID, row.Description, row.Amount.Cents)
			}
		}
	})

	t.Run("second run inserts nothing", func(t *testing.T) {
		store := memory.New()
		seedJanFeb(t, store)
		tmpl := seedRentTemplate(t, store)

		materialize(t, store, tmpl.ID)
		again := materialize(t, store, tmpl.ID)
		if len(again) != 0 {
			t.Errorf("re-run inserted %d rows, want 0", len(again))
		}
		if rows := listTemplateRows(t, store, tmpl.ID); len(rows) != 2 {
			t.Errorf("store holds %d rows, want 2", len(rows))
		}
	})

	t.Run("periods ending before the start date are skipped", func(t *testing.T) {
		store := memory.New()
		seedJanFeb(t, store)
		tmpl, err := store.CreateTemplate(ctx, core.FixedExpenseTemplate{
			Description: "Palestra",
			Amount:      core.Money{Cents: 4500},
			CategoryID:  5,
			StartDate:   date(2026, 2, 10),
			IsActive:    true,
		})
		if err != nil {
			t.Fatalf("CreateTemplate: %v", err)
		}

		rows := materialize(t, store, tmpl.ID)
		if len(rows) != 1 {
			t.Fatalf("inserted %d rows, want 1", len(rows))
		}
		if !rows[0].PurchaseDate.Equal(date(2026, 2, 10)) {
			t.Errorf("instance date = %s, want 2026-02-10", rows[0].PurchaseDate)
		}
	})

	t.Run("start date equal to a period end still materializes", func(t *testing.T) {
		store := memory.New()
		jan, _ := seedJanFeb(t, store)
		tmpl, err := store.CreateTemplate(ctx, core.FixedExpenseTemplate{
			Description: "Assicurazione",
			Amount:      core.Money{Cents: 12000},
			CategoryID:  6,
			StartDate:   jan.EndDate,
			IsActive:    true,
		})
		if err != nil {
			t.Fatalf("CreateTemplate: %v", err)
		}

		rows := materialize(t, store, tmpl.ID)
		if len(rows) != 2 {
			t.Fatalf("inserted %d rows, want 2", len(rows))
		}
		// Day 6 projects onto each period's own start.
		expenseByDate(t, rows, date(2026, 1, 6))
		expenseByDate(t, rows, date(2026, 2, 6))
	})

	t.Run("end date equal to a period start still materializes", func(t *testing.T) {
		store := memory.New()
		_, feb := seedJanFeb(t, store)
		end := feb.StartDate
		tmpl, err := store.CreateTemplate(ctx, core.FixedExpenseTemplate{
			Description: "Abbonamento",
			Amount:      core.Money{Cents: 999},
			CategoryID:  2,
			StartDate:   date(2026, 1, 15),
			EndDate:     &end,
			IsActive:    true,
		})
		if err != nil {
			t.Fatalf("CreateTemplate: %v", err)
		}

		rows := materialize(t, store, tmpl.ID)
		if len(rows) != 2 {
			t.Fatalf("inserted %d rows, want 2", len(rows))
		}
	})

	t.Run("end date before a period start skips it", func(t *testing.T) {
		store := memory.New()
		_, feb := seedJanFeb(t, store)
		end := feb.StartDate.AddDays(-1)
		tmpl, err := store.CreateTemplate(ctx, core.FixedExpenseTemplate{
			Description: "Abbonamento",
			Amount:      core.Money{Cents: 999},
			CategoryID:  2,
			StartDate:   date(2026, 1, 15),
			EndDate:     &end,
			IsActive:    true,
		})
		if err != nil {
			t.Fatalf("CreateTemplate: %v", err)
		}

		rows := materialize(t, store, tmpl.ID)
		if len(rows) != 1 {
			t.Fatalf("inserted %d rows, want 1", len(rows))
		}
		if !rows[0].PurchaseDate.Equal(date(2026, 1, 15)) {
			t.Errorf("instance date = %s, want 2026-01-15", rows[0].PurchaseDate)
		}
	})

	t.Run("excluded period is skipped", func(t *testing.T) {
		store := memory.New()
		_, feb := seedJanFeb(t, store)
		tmpl := seedRentTemplate(t, store)
		if _, err := store.CreateExclusion(ctx, tmpl.ID, feb.ID); err != nil {
			t.Fatalf("CreateExclusion: %v", err)
		}

		rows := materialize(t, store, tmpl.ID)
		if len(rows) != 1 {
			t.Fatalf("inserted %d rows, want 1", len(rows))
		}
		if !rows[0].PurchaseDate.Equal(date(2026, 1, 15)) {
			t.Errorf("instance date = %s, want the january one", rows[0].PurchaseDate)
		}
	})

	t.Run("missing template aborts without mutations", func(t *testing.T) {
		store := memory.New()
		seedJanFeb(t, store)

		m := services.NewMaterializer(store, nil)
		_, err := m.MaterializeTemplate(ctx, 999)
		if !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("error = %v, want ErrNotFound", err)
		}
		rows, err := store.ListExpenses(ctx, services.ExpenseFilter{})
		if err != nil {
			t.Fatalf("ListExpenses: %v", err)
		}
		if len(rows) != 0 {
			t.Errorf("store holds %d rows, want 0", len(rows))
		}
	})

	t.Run("failure after the first insert reports a partial error", func(t *testing.T) {
		store := memory.New()
		seedJanFeb(t, store)
		tmpl := seedRentTemplate(t, store)

		boom := errors.New("disk full")
		store.FailNext("CreateExpense", nil)
		store.FailNext("CreateExpense", boom)

		m := services.NewMaterializer(store, nil)
		inserted, err := m.MaterializeTemplate(ctx, tmpl.ID)

		var pe *services.PartialError
		if !errors.As(err, &pe) {
			t.Fatalf("error = %v, want *PartialError", err)
		}
		if !errors.Is(err, boom) {
			t.Errorf("partial error should wrap the cause, got %v", pe.Err)
		}
		if len(pe.Completed) != 1 {
			t.Errorf("Completed = %v, want one step", pe.Completed)
		}
		if len(inserted) != 1 || !inserted[0].PurchaseDate.Equal(date(2026, 1, 15)) {
			t.Fatalf("inserted = %d rows, want the january instance", len(inserted))
		}

		// A re-run finishes the job.
		rows := materialize(t, store, tmpl.ID)
		if len(rows) != 1 || !rows[0].PurchaseDate.Equal(date(2026, 2, 15)) {
			t.Fatalf("re-run inserted %d rows, want the february instance", len(rows))
		}
	})

	t.Run("failure on the first insert is a plain error", func(t *testing.T) {
		store := memory.New()
		seedJanFeb(t, store)
		tmpl := seedRentTemplate(t, store)

		boom := errors.New("disk full")
		store.FailNext("CreateExpense", boom)

		m := services.NewMaterializer(store, nil)
		_, err := m.MaterializeTemplate(ctx, tmpl.ID)
		if !errors.Is(err, boom) {
			t.Fatalf("error = %v, want wrapped cause", err)
		}
		var pe *services.PartialError
		if errors.As(err, &pe) {
			t.Errorf("first-step failure should not be a PartialError: %v", err)
		}
	})
}

func TestMaterializePeriod(t *testing.T) {
	ctx := context.Background()

	t.Run("new period picks up active templates", func(t *testing.T) {
		store := memory.New()
		seedJanFeb(t, store)
		tmpl := seedRentTemplate(t, store)
		materialize(t, store, tmpl.ID)

		mar := seedPeriod(t, store, "Marzo", date(2026, 3, 6), date(2026, 4, 6))
		rows, err := services.NewMaterializer(store, nil).MaterializePeriod(ctx, mar.ID)
		if err != nil {
			t.Fatalf("MaterializePeriod: %v", err)
		}
		if len(rows) != 1 {
			t.Fatalf("inserted %d rows, want 1", len(rows))
		}
		if !rows[0].PurchaseDate.Equal(date(2026, 3, 15)) {
			t.Errorf("instance date = %s, want 2026-03-15", rows[0].PurchaseDate)
		}
	})

	t.Run("inactive templates are ignored", func(t *testing.T) {
		store := memory.New()
		jan, _ := seedJanFeb(t, store)
		tmpl := seedRentTemplate(t, store)
		if err := store.DeactivateTemplate(ctx, tmpl.ID, date(2026, 2, 6)); err != nil {
			t.Fatalf("DeactivateTemplate: %v", err)
		}

		rows, err := services.NewMaterializer(store, nil).MaterializePeriod(ctx, jan.ID)
		if err != nil {
			t.Fatalf("MaterializePeriod: %v", err)
		}
		if len(rows) != 0 {
			t.Errorf("inserted %d rows, want 0", len(rows))
		}
	})

	t.Run("existing instance is not duplicated", func(t *testing.T) {
		store := memory.New()
		jan, _ := seedJanFeb(t, store)
		tmpl := seedRentTemplate(t, store)
		materialize(t, store, tmpl.ID)

		rows, err := services.NewMaterializer(store, nil).MaterializePeriod(ctx, jan.ID)
		if err != nil {
			t.Fatalf("MaterializePeriod: %v", err)
		}
		if len(rows) != 0 {
			t.Errorf("inserted %d rows, want 0", len(rows))
		}
	})

	t.Run("exclusion blocks the template", func(t *testing.T) {
		store := memory.New()
		jan, _ := seedJanFeb(t, store)
		tmpl := seedRentTemplate(t, store)
		if _, err := store.CreateExclusion(ctx, tmpl.ID, jan.ID); err != nil {
			t.Fatalf("CreateExclusion: %v", err)
		}

		rows, err := services.NewMaterializer(store, nil).MaterializePeriod(ctx, jan.ID)
		if err != nil {
			t.Fatalf("MaterializePeriod: %v", err)
		}
		if len(rows) != 0 {
			t.Errorf("inserted %d rows, want 0", len(rows))
		}
	})

	t.Run("missing period aborts", func(t *testing.T) {
		store := memory.New()
		_, err := services.NewMaterializer(store, nil).MaterializePeriod(ctx, 42)
		if !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("failure after the first insert reports a partial error", func(t *testing.T) {
		store := memory.New()
		jan, _ := seedJanFeb(t, store)
		seedRentTemplate(t, store)
		if _, err := store.CreateTemplate(ctx, core.FixedExpenseTemplate{
			Description: "Internet",
			Amount:      core.Money{Cents: 2999},
			CategoryID:  2,
			StartDate:   date(2026, 1, 1),
			IsActive:    true,
		}); err != nil {
			t.Fatalf("CreateTemplate: %v", err)
		}

		boom := errors.New("disk full")
		store.FailNext("CreateExpense", nil)
		store.FailNext("CreateExpense", boom)

		inserted, err := services.NewMaterializer(store, nil).MaterializePeriod(ctx, jan.ID)
		var pe *services.PartialError
		if !errors.As(err, &pe) {
			t.Fatalf("error = %v, want *PartialError", err)
		}
		if len(inserted) != 1 {
			t.Errorf("inserted = %d rows, want 1", len(inserted))
		}
	})
}
