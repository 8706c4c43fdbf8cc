package services

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kevindbotelho/fin-planner/internal/core"
)

// GoalService manages per-category budget goals and the per-period summary
// built from them.
type GoalService struct {
	store Store
}

func NewGoalService(store Store) *GoalService {
	return &GoalService{store: store}
}

// Effective resolves the goal percent for a category in a period. An
// override wins even when it is zero, then the category default applies,
// then zero.
func (s *GoalService) Effective(ctx context.Context, userID, categoryID, periodID int64) (int64, error) {
	o, err := s.store.GetGoalOverride(ctx, userID, categoryID, periodID)
	if err != nil {
		return 0, fmt.Errorf("effective goal for category %d: %w", categoryID, err)
	}
	if o != nil {
		return o.Percent, nil
	}

	g, err := s.store.GetCategoryGoal(ctx, userID, categoryID)
	if err != nil {
		return 0, fmt.Errorf("effective goal for category %d: %w", categoryID, err)
	}
	if g != nil {
		return g.Percent, nil
	}
	return 0, nil
}

// GoalUpsert is one row of a default-goal batch write.
type GoalUpsert struct {
	CategoryID int64
	Percent    int64
}

// GoalFailure records a batch row that could not be saved.
type GoalFailure struct {
	CategoryID int64
	Err        error
}

// GoalBatchResult reports the outcome of a batch write row by row.
type GoalBatchResult struct {
	Saved  []core.CategoryGoal
	Failed []GoalFailure
}

// SetDefaults upserts the default goal for each category. Rows are
// independent: a failed row is recorded and the rest still go through.
func (s *GoalService) SetDefaults(ctx context.Context, userID int64, upserts []GoalUpsert) (GoalBatchResult, error) {
	var result GoalBatchResult
	for _, u := range upserts {
		g := core.CategoryGoal{UserID: userID, CategoryID: u.CategoryID, Percent: u.Percent}
		if err := g.Validate(); err != nil {
			result.Failed = append(result.Failed, GoalFailure{CategoryID: u.CategoryID, Err: err})
			continue
		}
		saved, err := s.store.UpsertCategoryGoal(ctx, g)
		if err != nil {
			result.Failed = append(result.Failed, GoalFailure{CategoryID: u.CategoryID, Err: err})
			continue
		}
		result.Saved = append(result.Saved, saved)
	}
	return result, nil
}

// ListDefaults returns the user's default goals.
func (s *GoalService) ListDefaults(ctx context.Context, userID int64) ([]core.CategoryGoal, error) {
	goals, err := s.store.ListCategoryGoals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	return goals, nil
}

// SetOverride pins a goal percent for one category in one period. A zero
// percent is a valid override and shadows the default.
func (s *GoalService) SetOverride(ctx context.Context, userID, categoryID, periodID, percent int64) (core.CategoryGoalOverride, error) {
	o := core.CategoryGoalOverride{
		UserID:          userID,
		CategoryID:      categoryID,
		BillingPeriodID: periodID,
		Percent:         percent,
	}
	if err := o.Validate(); err != nil {
		return core.CategoryGoalOverride{}, fmt.Errorf("set goal override: %w", err)
	}
	saved, err := s.store.UpsertGoalOverride(ctx, o)
	if err != nil {
		return core.CategoryGoalOverride{}, fmt.Errorf("set goal override: %w", err)
	}
	return saved, nil
}

// PeriodSummary aggregates a period's spend per category and attaches the
// effective goal percent for every category that has either spend or a goal.
func (s *GoalService) PeriodSummary(ctx context.Context, userID, periodID int64) (core.PeriodSummary, error) {
	period, err := s.store.GetPeriod(ctx, periodID)
	if err != nil {
		return core.PeriodSummary{}, fmt.Errorf("period summary %d: %w", periodID, err)
	}

	var (
		expenses  []core.Expense
		defaults  []core.CategoryGoal
		overrides []core.CategoryGoalOverride
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		expenses, err = s.store.ListExpenses(gctx, ExpenseFilter{From: &period.StartDate, To: &period.EndDate})
		return err
	})
	g.Go(func() error {
		var err error
		defaults, err = s.store.ListCategoryGoals(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		overrides, err = s.store.ListGoalOverrides(gctx, userID, periodID)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.PeriodSummary{}, fmt.Errorf("period summary %d: %w", periodID, err)
	}

	spent := make(map[int64]int64)
	var total int64
	for _, e := range expenses {
		spent[e.CategoryID] += e.Amount.Cents
		total += e.Amount.Cents
	}
	defaultPct := make(map[int64]int64, len(defaults))
	for _, d := range defaults {
		defaultPct[d.CategoryID] = d.Percent
	}
	overridePct := make(map[int64]int64, len(overrides))
	for _, o := range overrides {
		overridePct[o.CategoryID] = o.Percent
	}

	seen := make(map[int64]bool)
	var ids []int64
	for id := range spent {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for id := range defaultPct {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for id := range overridePct {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	categories := make([]core.CategorySpend, 0, len(ids))
	for _, id := range ids {
		pct, ok := overridePct[id]
		if !ok {
			pct = defaultPct[id]
		}
		categories = append(categories, core.CategorySpend{
			CategoryID:  id,
			Spent:       core.Money{Cents: spent[id]},
			GoalPercent: pct,
		})
	}

	return core.PeriodSummary{
		Period:     period,
		Total:      core.Money{Cents: total},
		Categories: categories,
	}, nil
}
