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

// Reconciler repairs the materialized state after partial propagation
// failures. It walks every template and period pair and restores the resting
// state: exactly one instance where the template is due and not excluded,
// none anywhere else.
type Reconciler struct {
	store  Store
	events *amqp.Client
}

func NewReconciler(store Store, events *amqp.Client) *Reconciler {
	return &Reconciler{store: store, events: events}
}

// ReconcileReport counts what one pass found. Kept counts pairs whose single
// instance was already correct, Skipped counts pairs correctly left empty.
type ReconcileReport struct {
	Inserted int
	Removed  int
	Kept     int
	Skipped  int
}

// Reconcile runs one repair pass over all templates and periods. Missing
// instances of active templates are inserted, instances of pairs that are
// excluded or out of the template's range are removed, duplicate instances
// are reduced to the oldest row. Returns the counts accumulated up to the
// first store error.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var (
		periods    []core.BillingPeriod
		templates  []core.FixedExpenseTemplate
		exclusions []core.FixedExpenseExclusion
		rows       []core.Expense
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		periods, err = r.store.ListPeriods(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		templates, err = r.store.ListTemplates(gctx, false)
		return err
	})
	g.Go(func() error {
		var err error
		exclusions, err = r.store.ListExclusions(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		rows, err = r.store.ListExpenses(gctx, ExpenseFilter{})
		return err
	})
	if err := g.Wait(); err != nil {
		return ReconcileReport{}, fmt.Errorf("reconcile: %w", err)
	}

	excluded := make(map[[2]int64]bool, len(exclusions))
	for _, ex := range exclusions {
		excluded[[2]int64{ex.TemplateID, ex.BillingPeriodID}] = true
	}

	// Group materialized rows by (template, period), ownership derived from
	// the purchase date. Rows matching no period are left untouched.
	instances := make(map[[2]int64][]core.Expense)
	for _, e := range rows {
		if !e.IsMaterialized() {
			continue
		}
		p, ok := core.FindPeriodForDate(e.PurchaseDate, periods)
		if !ok {
			continue
		}
		key := [2]int64{*e.FixedTemplateID, p.ID}
		instances[key] = append(instances[key], e)
	}

	var report ReconcileReport
	for _, tmpl := range templates {
		for _, p := range periods {
			key := [2]int64{tmpl.ID, p.ID}
			have := instances[key]
			wanted := templateDueIn(tmpl, p) && !excluded[key]

			switch {
			case len(have) == 0 && wanted && tmpl.IsActive:
				created, err := r.store.CreateExpense(ctx, buildInstance(tmpl, p))
				if err != nil {
					return report, fmt.Errorf("reconcile: insert template %d period %d: %w", tmpl.ID, p.ID, err)
				}
				publishLedgerSync(ctx, r.events, created.ID)
				report.Inserted++
			case len(have) == 0:
				report.Skipped++
			case !wanted:
				for _, e := range have {
					if err := r.removeRow(ctx, e); err != nil {
						return report, err
					}
					report.Removed++
				}
			default:
				// Keep the oldest row, remove duplicates.
				sort.Slice(have, func(i, j int) bool { return have[i].ID < have[j].ID })
				for _, e := range have[1:] {
					if err := r.removeRow(ctx, e); err != nil {
						return report, err
					}
					report.Removed++
				}
				report.Kept++
			}
		}
	}

	slog.InfoContext(ctx, "reconciliation pass complete",
		"inserted", report.Inserted,
		"removed", report.Removed,
		"kept", report.Kept,
		"skipped", report.Skipped)
	return report, nil
}

func (r *Reconciler) removeRow(ctx context.Context, e core.Expense) error {
	if err := r.store.DeleteExpense(ctx, e.ID); err != nil {
		return fmt.Errorf("reconcile: remove expense %d: %w", e.ID, err)
	}
	publishLedgerRemove(ctx, r.events, e)
	return nil
}
