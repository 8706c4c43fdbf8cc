package services

import (
	"context"
	"fmt"

	"github.com/kevindbotelho/fin-planner/internal/core"
)

// PeriodService manages billing periods. Creating a period immediately
// materializes every active template due in it.
type PeriodService struct {
	store        Store
	materializer *Materializer
}

func NewPeriodService(store Store, materializer *Materializer) *PeriodService {
	return &PeriodService{store: store, materializer: materializer}
}

// Create inserts the period and materializes active templates into it.
// Returns the stored period and the fixed expenses created alongside it. When
// materialization fails after the insert, the period stays and the error is a
// *PartialError.
func (s *PeriodService) Create(ctx context.Context, p core.BillingPeriod) (core.BillingPeriod, []core.Expense, error) {
	if err := p.Validate(); err != nil {
		return core.BillingPeriod{}, nil, fmt.Errorf("create period: %w", err)
	}

	created, err := s.store.CreatePeriod(ctx, p)
	if err != nil {
		return core.BillingPeriod{}, nil, fmt.Errorf("create period: %w", err)
	}

	inserted, err := s.materializer.MaterializePeriod(ctx, created.ID)
	if err != nil {
		return created, inserted, wrapTriggerError(fmt.Sprintf("create period %d", created.ID), err)
	}
	return created, inserted, nil
}

func (s *PeriodService) List(ctx context.Context) ([]core.BillingPeriod, error) {
	periods, err := s.store.ListPeriods(ctx)
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	return periods, nil
}

func (s *PeriodService) Get(ctx context.Context, id int64) (core.BillingPeriod, error) {
	p, err := s.store.GetPeriod(ctx, id)
	if err != nil {
		return core.BillingPeriod{}, fmt.Errorf("get period %d: %w", id, err)
	}
	return p, nil
}

// Update rewrites the period's name and range. Expense ownership is derived
// from purchase dates at read time, so moving a boundary needs no row
// rewrites here.
func (s *PeriodService) Update(ctx context.Context, id int64, p core.BillingPeriod) (core.BillingPeriod, error) {
	if err := p.Validate(); err != nil {
		return core.BillingPeriod{}, fmt.Errorf("update period %d: %w", id, err)
	}
	if err := s.store.UpdatePeriod(ctx, id, p); err != nil {
		return core.BillingPeriod{}, fmt.Errorf("update period %d: %w", id, err)
	}
	p.ID = id
	return p, nil
}

func (s *PeriodService) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeletePeriod(ctx, id); err != nil {
		return fmt.Errorf("delete period %d: %w", id, err)
	}
	return nil
}

// FindForDate resolves which known period a date belongs to.
func (s *PeriodService) FindForDate(ctx context.Context, d core.Date) (core.BillingPeriod, bool, error) {
	periods, err := s.store.ListPeriods(ctx)
	if err != nil {
		return core.BillingPeriod{}, false, fmt.Errorf("find period for date: %w", err)
	}
	p, ok := core.FindPeriodForDate(d, periods)
	return p, ok, nil
}
