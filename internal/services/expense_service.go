package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kevindbotelho/fin-planner/internal/amqp"
	"github.com/kevindbotelho/fin-planner/internal/core"
)

// EditScope selects how far a change to a materialized fixed expense reaches.
// Expenses without a template ignore the scope entirely.
type EditScope string

const (
	// ScopeCurrent confines the change to the single expense row.
	ScopeCurrent EditScope = "current"
	// ScopeFuture also applies the change to the template and to sibling
	// rows in the owning period and later ones.
	ScopeFuture EditScope = "future"
)

func (s EditScope) Valid() bool { return s == ScopeCurrent || s == ScopeFuture }

// EditResult reports what an edit touched. Template and Siblings are set only
// for future-scoped edits of materialized expenses.
type EditResult struct {
	Updated  core.Expense
	Template *core.FixedExpenseTemplate
	Siblings []core.Expense
}

// DeleteResult reports what a delete touched. Excluded is set when a
// current-scoped delete pinned an exclusion; DeactivatedTemplate when a
// future-scoped delete retired the template.
type DeleteResult struct {
	Excluded            *core.FixedExpenseExclusion
	DeactivatedTemplate *core.FixedExpenseTemplate
	DeletedIDs          []int64
}

// ExpenseService orchestrates expense mutations across the store and the
// ledger event stream. The AMQP client may be nil; rows then stay pending
// until the sync processor picks them up.
type ExpenseService struct {
	store  Store
	events *amqp.Client
}

func NewExpenseService(store Store, events *amqp.Client) *ExpenseService {
	return &ExpenseService{store: store, events: events}
}

// Create saves a manually entered expense and requests its ledger export.
func (s *ExpenseService) Create(ctx context.Context, e core.Expense) (core.Expense, error) {
	if e.Type == "" {
		e.Type = core.TypeVariable
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = timeNow()
	}

	created, err := s.store.CreateExpense(ctx, e)
	if err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}

	publishLedgerSync(ctx, s.events, created.ID)
	return created, nil
}

func (s *ExpenseService) Get(ctx context.Context, id int64) (core.Expense, error) {
	e, err := s.store.GetExpense(ctx, id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense %d: %w", id, err)
	}
	return e, nil
}

func (s *ExpenseService) List(ctx context.Context, f ExpenseFilter) ([]core.Expense, error) {
	rows, err := s.store.ListExpenses(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return rows, nil
}

// Edit patches an expense. For a materialized fixed expense with ScopeFuture
// the patch propagates to the template and to sibling rows from the owning
// period onward; any other combination patches the single row.
func (s *ExpenseService) Edit(ctx context.Context, id int64, patch ExpensePatch, scope EditScope) (EditResult, error) {
	snap, err := s.store.GetExpense(ctx, id)
	if err != nil {
		return EditResult{}, fmt.Errorf("edit expense %d: %w", id, err)
	}
	patched := applyExpensePatch(snap, patch)
	if err := patched.Validate(); err != nil {
		return EditResult{}, fmt.Errorf("edit expense %d: %w", id, err)
	}

	if scope != ScopeFuture || !snap.IsMaterialized() {
		if err := s.store.UpdateExpense(ctx, id, patch); err != nil {
			return EditResult{}, fmt.Errorf("edit expense %d: %w", id, err)
		}
		publishLedgerSync(ctx, s.events, id)
		return EditResult{Updated: patched}, nil
	}

	return s.editFuture(ctx, snap, patch)
}

// editFuture propagates the patch from the snapshot row to its template and
// forward siblings. The edited row keeps the literal values from the patch;
// siblings in later periods get the new day of month re-projected into their
// own period. Ownership comes from the purchase dates read at entry, so a
// concurrent move does not change which rows are touched.
func (s *ExpenseService) editFuture(ctx context.Context, snap core.Expense, patch ExpensePatch) (EditResult, error) {
	templateID := *snap.FixedTemplateID

	var (
		tmpl     core.FixedExpenseTemplate
		periods  []core.BillingPeriod
		siblings []core.Expense
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tmpl, err = s.store.GetTemplate(gctx, templateID)
		return err
	})
	g.Go(func() error {
		var err error
		periods, err = s.store.ListPeriods(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		siblings, err = s.store.ListExpenses(gctx, ExpenseFilter{TemplateID: &templateID})
		return err
	})
	if err := g.Wait(); err != nil {
		return EditResult{}, fmt.Errorf("edit expense %d: %w", snap.ID, err)
	}

	tpatch := TemplatePatch{
		Description:   patch.Description,
		AmountCents:   patch.AmountCents,
		StartDate:     patch.PurchaseDate,
		CategoryID:    patch.CategoryID,
		SubcategoryID: patch.SubcategoryID,
	}

	owner, hasOwner := core.FindPeriodForDate(snap.PurchaseDate, periods)
	if !hasOwner {
		slog.WarnContext(ctx, "expense matches no billing period, edit limited to row and template",
			"expense_id", snap.ID, "purchase_date", snap.PurchaseDate.String())
	}

	steps := []step{
		{name: fmt.Sprintf("update template %d", templateID), run: func(ctx context.Context) error {
			return s.store.UpdateTemplate(ctx, templateID, tpatch)
		}},
		{name: fmt.Sprintf("update expense %d", snap.ID), run: func(ctx context.Context) error {
			if err := s.store.UpdateExpense(ctx, snap.ID, patch); err != nil {
				return err
			}
			publishLedgerSync(ctx, s.events, snap.ID)
			return nil
		}},
	}

	var patchedSiblings []core.Expense
	sortByPurchaseDate(siblings)
	for _, sib := range siblings {
		if sib.ID == snap.ID || !hasOwner {
			continue
		}
		sibPeriod, ok := core.FindPeriodForDate(sib.PurchaseDate, periods)
		if !ok {
			slog.WarnContext(ctx, "sibling expense matches no billing period, skipping",
				"expense_id", sib.ID, "purchase_date", sib.PurchaseDate.String())
			continue
		}
		if sibPeriod.StartDate.Before(owner.StartDate) {
			continue
		}

		sibPatch := ExpensePatch{
			Description:   patch.Description,
			AmountCents:   patch.AmountCents,
			CategoryID:    patch.CategoryID,
			SubcategoryID: patch.SubcategoryID,
		}
		if patch.PurchaseDate != nil {
			d := core.ProjectDate(sibPeriod, patch.PurchaseDate.Day())
			sibPatch.PurchaseDate = &d
		}

		sib := sib
		steps = append(steps, step{
			name: fmt.Sprintf("update expense %d", sib.ID),
			run: func(ctx context.Context) error {
				if err := s.store.UpdateExpense(ctx, sib.ID, sibPatch); err != nil {
					return err
				}
				publishLedgerSync(ctx, s.events, sib.ID)
				return nil
			},
		})
		patchedSiblings = append(patchedSiblings, applyExpensePatch(sib, sibPatch))
	}

	if err := runSteps(ctx, fmt.Sprintf("edit expense %d", snap.ID), steps); err != nil {
		return EditResult{}, err
	}

	updatedTmpl := applyTemplatePatch(tmpl, tpatch)
	return EditResult{
		Updated:  applyExpensePatch(snap, patch),
		Template: &updatedTmpl,
		Siblings: patchedSiblings,
	}, nil
}

// Delete removes an expense. For a materialized fixed expense ScopeCurrent
// pins an exclusion so the row is not re-materialized; ScopeFuture retires
// the template and removes the row together with its forward siblings.
func (s *ExpenseService) Delete(ctx context.Context, id int64, scope EditScope) (DeleteResult, error) {
	snap, err := s.store.GetExpense(ctx, id)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete expense %d: %w", id, err)
	}

	if !snap.IsMaterialized() {
		if err := s.store.DeleteExpense(ctx, id); err != nil {
			return DeleteResult{}, fmt.Errorf("delete expense %d: %w", id, err)
		}
		publishLedgerRemove(ctx, s.events, snap)
		return DeleteResult{DeletedIDs: []int64{id}}, nil
	}

	if scope == ScopeFuture {
		return s.deleteFuture(ctx, snap)
	}
	return s.deleteCurrent(ctx, snap)
}

// deleteCurrent removes one materialized row and records an exclusion for its
// owning period, keeping the materializer from putting the row back. The
// exclusion goes in first: re-running after a partial failure finds it
// already present and only the row delete remains.
func (s *ExpenseService) deleteCurrent(ctx context.Context, snap core.Expense) (DeleteResult, error) {
	templateID := *snap.FixedTemplateID

	periods, err := s.store.ListPeriods(ctx)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete expense %d: %w", snap.ID, err)
	}

	owner, hasOwner := core.FindPeriodForDate(snap.PurchaseDate, periods)
	if !hasOwner {
		slog.WarnContext(ctx, "expense matches no billing period, deleting without exclusion",
			"expense_id", snap.ID, "purchase_date", snap.PurchaseDate.String())
		if err := s.store.DeleteExpense(ctx, snap.ID); err != nil {
			return DeleteResult{}, fmt.Errorf("delete expense %d: %w", snap.ID, err)
		}
		publishLedgerRemove(ctx, s.events, snap)
		return DeleteResult{DeletedIDs: []int64{snap.ID}}, nil
	}

	var excl core.FixedExpenseExclusion
	steps := []step{
		{name: fmt.Sprintf("exclude template %d from period %d", templateID, owner.ID), run: func(ctx context.Context) error {
			var err error
			excl, err = s.store.CreateExclusion(ctx, templateID, owner.ID)
			return err
		}},
		{name: fmt.Sprintf("delete expense %d", snap.ID), run: func(ctx context.Context) error {
			if err := s.store.DeleteExpense(ctx, snap.ID); err != nil {
				return err
			}
			publishLedgerRemove(ctx, s.events, snap)
			return nil
		}},
	}
	if err := runSteps(ctx, fmt.Sprintf("delete expense %d", snap.ID), steps); err != nil {
		return DeleteResult{}, err
	}

	return DeleteResult{Excluded: &excl, DeletedIDs: []int64{snap.ID}}, nil
}

// deleteFuture retires the template and removes the snapshot row plus every
// sibling in the owning period or later. The template is deactivated first so
// new periods created mid-operation do not re-materialize it.
func (s *ExpenseService) deleteFuture(ctx context.Context, snap core.Expense) (DeleteResult, error) {
	templateID := *snap.FixedTemplateID

	var (
		tmpl     core.FixedExpenseTemplate
		periods  []core.BillingPeriod
		siblings []core.Expense
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tmpl, err = s.store.GetTemplate(gctx, templateID)
		return err
	})
	g.Go(func() error {
		var err error
		periods, err = s.store.ListPeriods(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		siblings, err = s.store.ListExpenses(gctx, ExpenseFilter{TemplateID: &templateID})
		return err
	})
	if err := g.Wait(); err != nil {
		return DeleteResult{}, fmt.Errorf("delete expense %d: %w", snap.ID, err)
	}

	owner, hasOwner := core.FindPeriodForDate(snap.PurchaseDate, periods)
	end := snap.PurchaseDate
	if hasOwner {
		end = owner.StartDate
	} else {
		slog.WarnContext(ctx, "expense matches no billing period, retiring template from purchase date",
			"expense_id", snap.ID, "purchase_date", snap.PurchaseDate.String())
	}

	var targets []core.Expense
	sortByPurchaseDate(siblings)
	for _, sib := range siblings {
		if sib.ID == snap.ID {
			targets = append(targets, sib)
			continue
		}
		if !hasOwner {
			continue
		}
		sibPeriod, ok := core.FindPeriodForDate(sib.PurchaseDate, periods)
		if !ok {
			slog.WarnContext(ctx, "sibling expense matches no billing period, skipping",
				"expense_id", sib.ID, "purchase_date", sib.PurchaseDate.String())
			continue
		}
		if sibPeriod.StartDate.Before(owner.StartDate) {
			continue
		}
		targets = append(targets, sib)
	}

	steps := []step{
		{name: fmt.Sprintf("deactivate template %d", templateID), run: func(ctx context.Context) error {
			return s.store.DeactivateTemplate(ctx, templateID, end)
		}},
	}
	deletedIDs := make([]int64, 0, len(targets))
	for _, t := range targets {
		t := t
		steps = append(steps, step{
			name: fmt.Sprintf("delete expense %d", t.ID),
			run: func(ctx context.Context) error {
				if err := s.store.DeleteExpense(ctx, t.ID); err != nil {
					return err
				}
				publishLedgerRemove(ctx, s.events, t)
				return nil
			},
		})
		deletedIDs = append(deletedIDs, t.ID)
	}

	if err := runSteps(ctx, fmt.Sprintf("delete expense %d", snap.ID), steps); err != nil {
		return DeleteResult{}, err
	}

	endDate := end
	deactivated := tmpl
	deactivated.IsActive = false
	deactivated.EndDate = &endDate
	return DeleteResult{DeactivatedTemplate: &deactivated, DeletedIDs: deletedIDs}, nil
}

func sortByPurchaseDate(rows []core.Expense) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].PurchaseDate.Equal(rows[j].PurchaseDate) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].PurchaseDate.Before(rows[j].PurchaseDate)
	})
}
