package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/kevindbotelho/fin-planner/internal/core"
	"github.com/kevindbotelho/fin-planner/internal/services"
	"github.com/kevindbotelho/fin-planner/internal/storage/memory"
)

const testUserID = 1

func TestGoalServiceEffective(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	jan, feb := seedJanFeb(t, store)
	svc := services.NewGoalService(store)

	if _, err := store.UpsertCategoryGoal(ctx, core.CategoryGoal{UserID: testUserID, CategoryID: 1, Percent: 30}); err != nil {
		t.Fatalf("UpsertCategoryGoal: %v", err)
	}
	if _, err := store.UpsertGoalOverride(ctx, core.CategoryGoalOverride{
		UserID: testUserID, CategoryID: 1, BillingPeriodID: jan.ID, Percent: 0,
	}); err != nil {
		t.Fatalf("UpsertGoalOverride: %v", err)
	}

	t.Run("zero override shadows the default", func(t *testing.T) {
		pct, err := svc.Effective(ctx, testUserID, 1, jan.ID)
		if err != nil {
			t.Fatalf("Effective: %v", err)
		}
		if pct != 0 {
			t.Errorf("Effective = %d, want the zero override", pct)
		}
	})

	t.Run("default applies where no override exists", func(t *testing.T) {
		pct, err := svc.Effective(ctx, testUserID, 1, feb.ID)
		if err != nil {
			t.Fatalf("Effective: %v", err)
		}
		if pct != 30 {
			t.Errorf("Effective = %d, want 30", pct)
		}
	})

	t.Run("unknown category resolves to zero", func(t *testing.T) {
		pct, err := svc.Effective(ctx, testUserID, 42, jan.ID)
		if err != nil {
			t.Fatalf("Effective: %v", err)
		}
		if pct != 0 {
			t.Errorf("Effective = %d, want 0", pct)
		}
	})
}

func TestGoalServiceSetDefaults(t *testing.T) {
	ctx := context.Background()

	t.Run("rows are saved independently", func(t *testing.T) {
		store := memory.New()
		svc := services.NewGoalService(store)

		boom := errors.New("disk full")
		store.FailNext("UpsertCategoryGoal", boom)

		res, err := svc.SetDefaults(ctx, testUserID, []services.GoalUpsert{
			{CategoryID: 1, Percent: 30},  // store failure
			{CategoryID: 2, Percent: 150}, // invalid percent
			{CategoryID: 3, Percent: 40},
		})
		if err != nil {
			t.Fatalf("SetDefaults: %v", err)
		}
		if len(res.Saved) != 1 || res.Saved[0].CategoryID != 3 {
			t.Fatalf("Saved = %+v, want only category 3", res.Saved)
		}
		if len(res.Failed) != 2 {
			t.Fatalf("Failed = %+v, want two rows", res.Failed)
		}
		if res.Failed[0].CategoryID != 1 || !errors.Is(res.Failed[0].Err, boom) {
			t.Errorf("Failed[0] = %+v, want the store failure on category 1", res.Failed[0])
		}
		if res.Failed[1].CategoryID != 2 || !errors.Is(res.Failed[1].Err, core.ErrInvalidPercent) {
			t.Errorf("Failed[1] = %+v, want the percent validation on category 2", res.Failed[1])
		}

		goals, err := svc.ListDefaults(ctx, testUserID)
		if err != nil {
			t.Fatalf("ListDefaults: %v", err)
		}
		if len(goals) != 1 || goals[0].CategoryID != 3 || goals[0].Percent != 40 {
			t.Errorf("stored goals = %+v, want only category 3 at 40", goals)
		}
	})

	t.Run("repeat write updates in place", func(t *testing.T) {
		store := memory.New()
		svc := services.NewGoalService(store)

		first, err := svc.SetDefaults(ctx, testUserID, []services.GoalUpsert{{CategoryID: 1, Percent: 30}})
		if err != nil || len(first.Saved) != 1 {
			t.Fatalf("SetDefaults: %v (%+v)", err, first)
		}
		second, err := svc.SetDefaults(ctx, testUserID, []services.GoalUpsert{{CategoryID: 1, Percent: 25}})
		if err != nil || len(second.Saved) != 1 {
			t.Fatalf("SetDefaults: %v (%+v)", err, second)
		}
		if second.Saved[0].ID != first.Saved[0].ID {
			t.Errorf("second write created row %d, want update of %d", second.Saved[0].ID, first.Saved[0].ID)
		}
		if second.Saved[0].Percent != 25 {
			t.Errorf("Percent = %d, want 25", second.Saved[0].Percent)
		}
	})
}

func TestGoalServiceSetOverride(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	jan, _ := seedJanFeb(t, store)
	svc := services.NewGoalService(store)

	t.Run("zero percent is a valid override", func(t *testing.T) {
		o, err := svc.SetOverride(ctx, testUserID, 2, jan.ID, 0)
		if err != nil {
			t.Fatalf("SetOverride: %v", err)
		}
		if o.Percent != 0 || o.BillingPeriodID != jan.ID {
			t.Errorf("override = %+v", o)
		}
	})

	t.Run("percent out of range is rejected", func(t *testing.T) {
		if _, err := svc.SetOverride(ctx, testUserID, 2, jan.ID, 101); !errors.Is(err, core.ErrInvalidPercent) {
			t.Fatalf("error = %v, want ErrInvalidPercent", err)
		}
	})
}

func TestGoalServicePeriodSummary(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	jan, feb := seedJanFeb(t, store)
	svc := services.NewGoalService(store)

	seed := []core.Expense{
		{Description: "Supermercato", Amount: core.Money{Cents: 4550}, PurchaseDate: date(2026, 1, 10), CategoryID: 1, Type: core.TypeVariable},
		{Description: "Ristorante", Amount: core.Money{Cents: 3200}, PurchaseDate: date(2026, 1, 20), CategoryID: 1, Type: core.TypeVariable},
		{Description: "Affitto", Amount: core.Money{Cents: 10000}, PurchaseDate: date(2026, 1, 15), CategoryID: 2, Type: core.TypeVariable},
		// Outside january, must not count.
		{Description: "Benzina", Amount: core.Money{Cents: 9999}, PurchaseDate: date(2026, 2, 10), CategoryID: 5, Type: core.TypeVariable},
	}
	for _, e := range seed {
		if _, err := store.CreateExpense(ctx, e); err != nil {
			t.Fatalf("CreateExpense: %v", err)
		}
	}

	if _, err := store.UpsertCategoryGoal(ctx, core.CategoryGoal{UserID: testUserID, CategoryID: 1, Percent: 30}); err != nil {
		t.Fatalf("UpsertCategoryGoal: %v", err)
	}
	if _, err := store.UpsertCategoryGoal(ctx, core.CategoryGoal{UserID: testUserID, CategoryID: 3, Percent: 10}); err != nil {
		t.Fatalf("UpsertCategoryGoal: %v", err)
	}
	// Zero override silences the category 2 default-less goal, an override on
	// category 4 introduces a row with no spend, and a february override must
	// not leak into january.
	if _, err := store.UpsertGoalOverride(ctx, core.CategoryGoalOverride{UserID: testUserID, CategoryID: 2, BillingPeriodID: jan.ID, Percent: 0}); err != nil {
		t.Fatalf("UpsertGoalOverride: %v", err)
	}
	if _, err := store.UpsertGoalOverride(ctx, core.CategoryGoalOverride{UserID: testUserID, CategoryID: 4, BillingPeriodID: jan.ID, Percent: 15}); err != nil {
		t.Fatalf("UpsertGoalOverride: %v", err)
	}
	if _, err := store.UpsertGoalOverride(ctx, core.CategoryGoalOverride{UserID: testUserID, CategoryID: 1, BillingPeriodID: feb.ID, Percent: 50}); err != nil {
		t.Fatalf("UpsertGoalOverride: %v", err)
	}

	summary, err := svc.PeriodSummary(ctx, testUserID, jan.ID)
	if err != nil {
		t.Fatalf("PeriodSummary: %v", err)
	}

	if summary.Period.ID != jan.ID {
		t.Errorf("Period.ID = %d, want %d", summary.Period.ID, jan.ID)
	}
	if summary.Total.Cents != 17750 {
		t.Errorf("Total = %d, want 17750", summary.Total.Cents)
	}

	want := []core.CategorySpend{
		{CategoryID: 1, Spent: core.Money{Cents: 7750}, GoalPercent: 30},
		{CategoryID: 2, Spent: core.Money{Cents: 10000}, GoalPercent: 0},
		{CategoryID: 3, Spent: core.Money{Cents: 0}, GoalPercent: 10},
		{CategoryID: 4, Spent: core.Money{Cents: 0}, GoalPercent: 15},
	}
	if len(summary.Categories) != len(want) {
		t.Fatalf("Categories = %+v, want %d rows", summary.Categories, len(want))
	}
	for i, w := range want {
		got := summary.Categories[i]
		if got != w {
			t.Errorf("Categories[%d] = %+v, want %+v", i, got, w)
		}
	}
}
