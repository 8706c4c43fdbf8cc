package services

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kevindbotelho/fin-planner/internal/amqp"
	"github.com/kevindbotelho/fin-planner/internal/core"
)

// Materializer turns fixed expense templates into concrete expense rows, one
// per billing period the template is due in. Inserts are idempotent: a period
// that already holds an instance for the template, or carries an exclusion
// for it, is left alone.
type Materializer struct {
	store  Store
	events *amqp.Client
}

func NewMaterializer(store Store, events *amqp.Client) *Materializer {
	return &Materializer{store: store, events: events}
}

// MaterializeTemplate inserts the template's instances into every known
// period whose range the template touches. Returns the rows inserted by this
// call. Periods already covered are skipped, so re-running after a partial
// failure completes the remainder.
func (m *Materializer) MaterializeTemplate(ctx context.Context, templateID int64) ([]core.Expense, error) {
	tmpl, err := m.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("materialize template %d: %w", templateID, err)
	}

	var (
		periods    []core.BillingPeriod
		exclusions []core.FixedExpenseExclusion
		instances  []core.Expense
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		periods, err = m.store.ListPeriods(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		exclusions, err = m.store.ListTemplateExclusions(gctx, templateID)
		return err
	})
	g.Go(func() error {
		var err error
		instances, err = m.store.ListExpenses(gctx, ExpenseFilter{TemplateID: &templateID})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("materialize template %d: %w", templateID, err)
	}

	excluded := make(map[int64]bool, len(exclusions))
	for _, ex := range exclusions {
		excluded[ex.BillingPeriodID] = true
	}
	covered := make(map[int64]bool, len(instances))
	for _, inst := range instances {
		if p, ok := core.FindPeriodForDate(inst.PurchaseDate, periods); ok {
			covered[p.ID] = true
		}
	}

	var inserted []core.Expense
	for _, p := range periods {
		if !templateDueIn(tmpl, p) || excluded[p.ID] || covered[p.ID] {
			continue
		}
		row, err := m.insertInstance(ctx, tmpl, p)
		if err != nil {
			if len(inserted) == 0 {
				return nil, fmt.Errorf("materialize template %d: period %d: %w", templateID, p.ID, err)
			}
			return inserted, &PartialError{
				Op:        fmt.Sprintf("materialize template %d", templateID),
				Completed: periodStepNames(inserted, periods),
				Err:       fmt.Errorf("period %d: %w", p.ID, err),
			}
		}
		inserted = append(inserted, row)
	}

	slog.InfoContext(ctx, "materialized template into periods",
		"template_id", templateID, "inserted", len(inserted))
	return inserted, nil
}

// MaterializePeriod inserts an instance of every active template due in the
// period. Returns the rows inserted by this call.
func (m *Materializer) MaterializePeriod(ctx context.Context, periodID int64) ([]core.Expense, error) {
	period, err := m.store.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("materialize period %d: %w", periodID, err)
	}

	var (
		templates  []core.FixedExpenseTemplate
		exclusions []core.FixedExpenseExclusion
		existing   []core.Expense
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		templates, err = m.store.ListTemplates(gctx, true)
		return err
	})
	g.Go(func() error {
		var err error
		exclusions, err = m.store.ListPeriodExclusions(gctx, periodID)
		return err
	})
	g.Go(func() error {
		var err error
		existing, err = m.store.ListExpenses(gctx, ExpenseFilter{From: &period.StartDate, To: &period.EndDate})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("materialize period %d: %w", periodID, err)
	}

	excluded := make(map[int64]bool, len(exclusions))
	for _, ex := range exclusions {
		excluded[ex.TemplateID] = true
	}
	covered := make(map[int64]bool)
	for _, e := range existing {
		if e.IsMaterialized() {
			covered[*e.FixedTemplateID] = true
		}
	}

	var inserted []core.Expense
	for _, tmpl := range templates {
		if !templateDueIn(tmpl, period) || excluded[tmpl.ID] || covered[tmpl.ID] {
			continue
		}
		row, err := m.insertInstance(ctx, tmpl, period)
		if err != nil {
			if len(inserted) == 0 {
				return nil, fmt.Errorf("materialize period %d: template %d: %w", periodID, tmpl.ID, err)
			}
			return inserted, &PartialError{
				Op:        fmt.Sprintf("materialize period %d", periodID),
				Completed: templateStepNames(inserted),
				Err:       fmt.Errorf("template %d: %w", tmpl.ID, err),
			}
		}
		inserted = append(inserted, row)
	}

	slog.InfoContext(ctx, "materialized period from templates",
		"period_id", periodID, "inserted", len(inserted))
	return inserted, nil
}

func (m *Materializer) insertInstance(ctx context.Context, tmpl core.FixedExpenseTemplate, period core.BillingPeriod) (core.Expense, error) {
	row := buildInstance(tmpl, period)
	created, err := m.store.CreateExpense(ctx, row)
	if err != nil {
		return core.Expense{}, err
	}
	publishLedgerSync(ctx, m.events, created.ID)
	return created, nil
}

// templateDueIn reports whether the template's active range touches the
// period. The comparisons are strict on both ends: a template starting
// exactly on period.EndDate, or ending exactly on period.StartDate, still
// counts as due.
func templateDueIn(tmpl core.FixedExpenseTemplate, period core.BillingPeriod) bool {
	if tmpl.StartDate.After(period.EndDate) {
		return false
	}
	if tmpl.EndDate != nil && tmpl.EndDate.Before(period.StartDate) {
		return false
	}
	return true
}

// buildInstance constructs the expense row for one template in one period.
// The purchase date is the template's day of month projected into the period,
// so the row always satisfies the period matcher.
func buildInstance(tmpl core.FixedExpenseTemplate, period core.BillingPeriod) core.Expense {
	templateID := tmpl.ID
	row := core.Expense{
		Description:     tmpl.Description,
		Amount:          tmpl.Amount,
		PurchaseDate:    core.ProjectDate(period, tmpl.StartDate.Day()),
		CategoryID:      tmpl.CategoryID,
		Type:            core.TypeFixed,
		FixedTemplateID: &templateID,
		CreatedAt:       timeNow(),
	}
	if tmpl.SubcategoryID != nil {
		sub := *tmpl.SubcategoryID
		row.SubcategoryID = &sub
	}
	return row
}

func periodStepNames(inserted []core.Expense, periods []core.BillingPeriod) []string {
	names := make([]string, 0, len(inserted))
	for _, e := range inserted {
		if p, ok := core.FindPeriodForDate(e.PurchaseDate, periods); ok {
			names = append(names, fmt.Sprintf("period %d", p.ID))
		}
	}
	return names
}

func templateStepNames(inserted []core.Expense) []string {
	names := make([]string, 0, len(inserted))
	for _, e := range inserted {
		if e.FixedTemplateID != nil {
			names = append(names, fmt.Sprintf("template %d", *e.FixedTemplateID))
		}
	}
	return names
}
