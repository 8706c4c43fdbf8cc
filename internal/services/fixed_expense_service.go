package services

import (
	"context"
	"fmt"

	"github.com/kevindbotelho/fin-planner/internal/core"
)

// FixedExpenseService manages recurring expense templates. Creating a
// template immediately materializes it into every period it is due in.
type FixedExpenseService struct {
	store        Store
	materializer *Materializer
}

func NewFixedExpenseService(store Store, materializer *Materializer) *FixedExpenseService {
	return &FixedExpenseService{store: store, materializer: materializer}
}

// Create inserts the template and materializes its instances. Returns the
// stored template and the expenses created alongside it. When materialization
// fails after the insert, the template stays and the error is a
// *PartialError.
func (s *FixedExpenseService) Create(ctx context.Context, t core.FixedExpenseTemplate) (core.FixedExpenseTemplate, []core.Expense, error) {
	t.IsActive = true
	t.EndDate = nil
	if err := t.Validate(); err != nil {
		return core.FixedExpenseTemplate{}, nil, fmt.Errorf("create template: %w", err)
	}

	created, err := s.store.CreateTemplate(ctx, t)
	if err != nil {
		return core.FixedExpenseTemplate{}, nil, fmt.Errorf("create template: %w", err)
	}

	inserted, err := s.materializer.MaterializeTemplate(ctx, created.ID)
	if err != nil {
		return created, inserted, wrapTriggerError(fmt.Sprintf("create template %d", created.ID), err)
	}
	return created, inserted, nil
}

func (s *FixedExpenseService) List(ctx context.Context, onlyActive bool) ([]core.FixedExpenseTemplate, error) {
	templates, err := s.store.ListTemplates(ctx, onlyActive)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

func (s *FixedExpenseService) Get(ctx context.Context, id int64) (core.FixedExpenseTemplate, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return core.FixedExpenseTemplate{}, fmt.Errorf("get template %d: %w", id, err)
	}
	return t, nil
}

// Exclusions lists the periods the template is pinned out of.
func (s *FixedExpenseService) Exclusions(ctx context.Context, templateID int64) ([]core.FixedExpenseExclusion, error) {
	exclusions, err := s.store.ListTemplateExclusions(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("list template %d exclusions: %w", templateID, err)
	}
	return exclusions, nil
}
