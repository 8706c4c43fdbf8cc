package services_test

import (
	"context"
	"testing"

	"github.com/kevindbotelho/fin-planner/internal/core"
	"github.com/kevindbotelho/fin-planner/internal/services"
	"github.com/kevindbotelho/fin-planner/internal/storage/memory"
)

// Most tests share one scenario: two adjacent billing periods anchored on
// the 6th and a rent template that starts mid January.
//
//	Gennaio  [2026-01-06, 2026-02-06)
//	Febbraio [2026-02-06, 2026-03-06)

func date(y, m, d int) core.Date { return core.NewDate(y, m, d) }

func int64Ptr(v int64) *int64        { return &v }
func strPtr(v string) *string        { return &v }
func datePtr(d core.Date) *core.Date { return &d }

func seedPeriod(t *testing.T, store *memory.Store, name string, start, end core.Date) core.BillingPeriod {
	t.Helper()
	p, err := store.CreatePeriod(context.Background(), core.BillingPeriod{Name: name, StartDate: start, EndDate: end})
	if err != nil {
		t.Fatalf("CreatePeriod(%s): %v", name, err)
	}
	return p
}

func seedJanFeb(t *testing.T, store *memory.Store) (jan, feb core.BillingPeriod) {
	t.Helper()
	jan = seedPeriod(t, store, "Gennaio", date(2026, 1, 6), date(2026, 2, 6))
	feb = seedPeriod(t, store, "Febbraio", date(2026, 2, 6), date(2026, 3, 6))
	return jan, feb
}

// seedRentTemplate stores the canonical rent template: 100.00 starting on
// 2026-01-15, so instances land on the 15th of each period.
func seedRentTemplate(t *testing.T, store *memory.Store) core.FixedExpenseTemplate {
	t.Helper()
	tmpl, err := store.CreateTemplate(context.Background(), core.FixedExpenseTemplate{
		Description: "Affitto",
		Amount:      core.Money{Cents: 10000},
		CategoryID:  3,
		StartDate:   date(2026, 1, 15),
		IsActive:    true,
	})
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	return tmpl
}

func materialize(t *testing.T, store *memory.Store, templateID int64) []core.Expense {
	t.Helper()
	rows, err := services.NewMaterializer(store, nil).MaterializeTemplate(context.Background(), templateID)
	if err != nil {
		t.Fatalf("MaterializeTemplate: %v", err)
	}
	return rows
}

func listTemplateRows(t *testing.T, store *memory.Store, templateID int64) []core.Expense {
	t.Helper()
	rows, err := store.ListExpenses(context.Background(), services.ExpenseFilter{TemplateID: &templateID})
	if err != nil {
		t.Fatalf("ListExpenses: %v", err)
	}
	return rows
}

func expenseByDate(t *testing.T, rows []core.Expense, d core.Date) core.Expense {
	t.Helper()
	for _, e := range rows {
		if e.PurchaseDate.Equal(d) {
			return e
		}
	}
	t.Fatalf("no expense dated %s among %d rows", d, len(rows))
	return core.Expense{}
}
