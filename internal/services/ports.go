package services

import (
	"context"
	"time"

	"github.com/kevindbotelho/fin-planner/internal/core"
)

// Store ports consumed by the services. The SQLite repository and the
// in-memory backend both satisfy the composite Store. Mutations return the
// affected entity where one exists; callers merge results instead of
// re-reading the store.

type (
	PeriodStore interface {
		ListPeriods(ctx context.Context) ([]core.BillingPeriod, error)
		GetPeriod(ctx context.Context, id int64) (core.BillingPeriod, error)
		CreatePeriod(ctx context.Context, p core.BillingPeriod) (core.BillingPeriod, error)
		UpdatePeriod(ctx context.Context, id int64, p core.BillingPeriod) error
		DeletePeriod(ctx context.Context, id int64) error
	}

	ExpenseStore interface {
		GetExpense(ctx context.Context, id int64) (core.Expense, error)
		ListExpenses(ctx context.Context, f ExpenseFilter) ([]core.Expense, error)
		CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
		UpdateExpense(ctx context.Context, id int64, patch ExpensePatch) error
		DeleteExpense(ctx context.Context, id int64) error
	}

	TemplateStore interface {
		GetTemplate(ctx context.Context, id int64) (core.FixedExpenseTemplate, error)
		ListTemplates(ctx context.Context, onlyActive bool) ([]core.FixedExpenseTemplate, error)
		CreateTemplate(ctx context.Context, t core.FixedExpenseTemplate) (core.FixedExpenseTemplate, error)
		UpdateTemplate(ctx context.Context, id int64, patch TemplatePatch) error
		DeactivateTemplate(ctx context.Context, id int64, end core.Date) error
	}

	ExclusionStore interface {
		CreateExclusion(ctx context.Context, templateID, periodID int64) (core.FixedExpenseExclusion, error)
		ListExclusions(ctx context.Context) ([]core.FixedExpenseExclusion, error)
		ListTemplateExclusions(ctx context.Context, templateID int64) ([]core.FixedExpenseExclusion, error)
		ListPeriodExclusions(ctx context.Context, periodID int64) ([]core.FixedExpenseExclusion, error)
	}

	GoalStore interface {
		GetCategoryGoal(ctx context.Context, userID, categoryID int64) (*core.CategoryGoal, error)
		ListCategoryGoals(ctx context.Context, userID int64) ([]core.CategoryGoal, error)
		UpsertCategoryGoal(ctx context.Context, g core.CategoryGoal) (core.CategoryGoal, error)
		GetGoalOverride(ctx context.Context, userID, categoryID, periodID int64) (*core.CategoryGoalOverride, error)
		ListGoalOverrides(ctx context.Context, userID, periodID int64) ([]core.CategoryGoalOverride, error)
		UpsertGoalOverride(ctx context.Context, o core.CategoryGoalOverride) (core.CategoryGoalOverride, error)
	}

	// LedgerStore tracks which expenses still have to reach the external
	// ledger. Rows start pending, move to synced once exported, or to
	// error after too many failed attempts.
	LedgerStore interface {
		PendingLedgerExpenses(ctx context.Context, limit int) ([]core.Expense, error)
		LedgerSyncStatus(ctx context.Context, expenseID int64) (string, error)
		MarkLedgerSynced(ctx context.Context, expenseID int64) error
		MarkLedgerError(ctx context.Context, expenseID int64) error
		IncrementLedgerAttempts(ctx context.Context, expenseID int64) (int64, error)
	}

	// Store is the full persistence surface behind the planner.
	Store interface {
		PeriodStore
		ExpenseStore
		TemplateStore
		ExclusionStore
		GoalStore
		LedgerStore
	}
)

// Ledger sync states recorded per expense row.
const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncError   = "error"
)

// ExpenseFilter narrows expense listings. Date bounds are half-open: From
// inclusive, To exclusive. Nil fields are ignored.
type ExpenseFilter struct {
	TemplateID *int64
	From       *core.Date
	To         *core.Date
}

// ExpensePatch carries the mutable expense fields; nil leaves the field
// untouched.
type ExpensePatch struct {
	Description   *string
	AmountCents   *int64
	PurchaseDate  *core.Date
	CategoryID    *int64
	SubcategoryID *int64
	DisplayOrder  *int64
}

// IsZero reports whether the patch changes nothing.
func (p ExpensePatch) IsZero() bool {
	return p.Description == nil && p.AmountCents == nil && p.PurchaseDate == nil &&
		p.CategoryID == nil && p.SubcategoryID == nil && p.DisplayOrder == nil
}

// TemplatePatch carries the mutable template fields; nil leaves the field
// untouched.
type TemplatePatch struct {
	Description   *string
	AmountCents   *int64
	StartDate     *core.Date
	CategoryID    *int64
	SubcategoryID *int64
}

// IsZero reports whether the patch changes nothing.
func (p TemplatePatch) IsZero() bool {
	return p.Description == nil && p.AmountCents == nil && p.StartDate == nil &&
		p.CategoryID == nil && p.SubcategoryID == nil
}

// applyExpensePatch returns a copy of the expense with the patch applied.
// Used to build mutation results from the snapshot read at operation start.
func applyExpensePatch(e core.Expense, p ExpensePatch) core.Expense {
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.AmountCents != nil {
		e.Amount = core.Money{Cents: *p.AmountCents}
	}
	if p.PurchaseDate != nil {
		e.PurchaseDate = *p.PurchaseDate
	}
	if p.CategoryID != nil {
		e.CategoryID = *p.CategoryID
	}
	if p.SubcategoryID != nil {
		v := *p.SubcategoryID
		e.SubcategoryID = &v
	}
	if p.DisplayOrder != nil {
		e.DisplayOrder = *p.DisplayOrder
	}
	return e
}

// applyTemplatePatch returns a copy of the template with the patch applied.
func applyTemplatePatch(t core.FixedExpenseTemplate, p TemplatePatch) core.FixedExpenseTemplate {
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.AmountCents != nil {
		t.Amount = core.Money{Cents: *p.AmountCents}
	}
	if p.StartDate != nil {
		t.StartDate = *p.StartDate
	}
	if p.CategoryID != nil {
		t.CategoryID = *p.CategoryID
	}
	if p.SubcategoryID != nil {
		v := *p.SubcategoryID
		t.SubcategoryID = &v
	}
	return t
}

// timeNow is swapped in tests that pin CreatedAt values.
var timeNow = time.Now
