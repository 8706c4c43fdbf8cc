package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kevindbotelho/fin-planner/internal/core"
	"github.com/kevindbotelho/fin-planner/internal/services"
)

// Store is an in-memory implementation of services.Store. It backs the
// memory data backend and the service tests. Safe for concurrent use.
type Store struct {
	mu sync.Mutex

	periods    map[int64]core.BillingPeriod
	expenses   map[int64]core.Expense
	templates  map[int64]core.FixedExpenseTemplate
	exclusions map[int64]core.FixedExpenseExclusion
	goals      map[int64]core.CategoryGoal
	overrides  map[int64]core.CategoryGoalOverride
	syncState  map[int64]*ledgerState

	nextID   int64
	failures map[string][]error
}

type ledgerState struct {
	status   string
	attempts int64
}

var _ services.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		periods:    make(map[int64]core.BillingPeriod),
		expenses:   make(map[int64]core.Expense),
		templates:  make(map[int64]core.FixedExpenseTemplate),
		exclusions: make(map[int64]core.FixedExpenseExclusion),
		goals:      make(map[int64]core.CategoryGoal),
		overrides:  make(map[int64]core.CategoryGoalOverride),
		syncState:  make(map[int64]*ledgerState),
		failures:   make(map[string][]error),
	}
}

// FailNext arranges for the next call to the named store method to return
// err. Queued entries are consumed in order, one per call; queueing a nil
// lets that call succeed so a later entry lands on a later call. Used by
// tests to exercise partial failure paths.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

// takeFailure must be called with the lock held.
func (s *Store) takeFailure(op string) error {
	queue := s.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	s.failures[op] = queue[1:]
	return err
}

func (s *Store) newID() int64 {
	s.nextID++
	return s.nextID
}

// --- billing periods ---

func (s *Store) ListPeriods(ctx context.Context) ([]core.BillingPeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("ListPeriods"); err != nil {
		return nil, err
	}

	periods := make([]core.BillingPeriod, 0, len(s.periods))
	for _, p := range s.periods {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool {
		if periods[i].StartDate.Equal(periods[j].StartDate) {
			return periods[i].ID < periods[j].ID
		}
		return periods[i].StartDate.Before(periods[j].StartDate)
	})
	return periods, nil
}

func (s *Store) GetPeriod(ctx context.Context, id int64) (core.BillingPeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("GetPeriod"); err != nil {
		return core.BillingPeriod{}, err
	}

	p, ok := s.periods[id]
	if !ok {
		return core.BillingPeriod{}, fmt.Errorf("billing period %d: %w", id, core.ErrNotFound)
	}
	return p, nil
}

func (s *Store) CreatePeriod(ctx context.Context, p core.BillingPeriod) (core.BillingPeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("CreatePeriod"); err != nil {
		return core.BillingPeriod{}, err
	}

	p.ID = s.newID()
	s.periods[p.ID] = p
	return p, nil
}

func (s *Store) UpdatePeriod(ctx context.Context, id int64, p core.BillingPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("UpdatePeriod"); err != nil {
		return err
	}

	if _, ok := s.periods[id]; !ok {
		return fmt.Errorf("billing period %d: %w", id, core.ErrNotFound)
	}
	p.ID = id
	s.periods[id] = p
	return nil
}

func (s *Store) DeletePeriod(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("DeletePeriod"); err != nil {
		return err
	}

	if _, ok := s.periods[id]; !ok {
		return fmt.Errorf("billing period %d: %w", id, core.ErrNotFound)
	}
	delete(s.periods, id)
	for exID, ex := range s.exclusions {
		if ex.BillingPeriodID == id {
			delete(s.exclusions, exID)
		}
	}
	for oID, o := range s.overrides {
		if o.BillingPeriodID == id {
			delete(s.overrides, oID)
		}
	}
	return nil
}

// --- expenses ---

func (s *Store) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("GetExpense"); err != nil {
		return core.Expense{}, err
	}

	e, ok := s.expenses[id]
	if !ok {
		return core.Expense{}, fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
	}
	return copyExpense(e), nil
}

func (s *Store) ListExpenses(ctx context.Context, f services.ExpenseFilter) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("ListExpenses"); err != nil {
		return nil, err
	}

	var expenses []core.Expense
	for _, e := range s.expenses {
		if f.TemplateID != nil && (e.FixedTemplateID == nil || *e.FixedTemplateID != *f.TemplateID) {
			continue
		}
		if f.From != nil && e.PurchaseDate.Before(*f.From) {
			continue
		}
		if f.To != nil && !e.PurchaseDate.Before(*f.To) {
			continue
		}
		expenses = append(expenses, copyExpense(e))
	}
	sort.Slice(expenses, func(i, j int) bool {
		if expenses[i].PurchaseDate.Equal(expenses[j].PurchaseDate) {
			return expenses[i].ID < expenses[j].ID
		}
		return expenses[i].PurchaseDate.Before(expenses[j].PurchaseDate)
	})
	return expenses, nil
}

func (s *Store) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("CreateExpense"); err != nil {
		return core.Expense{}, err
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.ID = s.newID()
	s.expenses[e.ID] = copyExpense(e)
	s.syncState[e.ID] = &ledgerState{status: services.SyncPending}
	return copyExpense(e), nil
}

func (s *Store) UpdateExpense(ctx context.Context, id int64, patch services.ExpensePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("UpdateExpense"); err != nil {
		return err
	}

	e, ok := s.expenses[id]
	if !ok {
		return fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
	}
	if patch.Description != nil {
		e.Description = *patch.Description
	}
	if patch.AmountCents != nil {
		e.Amount = core.Money{Cents: *patch.AmountCents}
	}
	if patch.PurchaseDate != nil {
		e.PurchaseDate = *patch.PurchaseDate
	}
	if patch.CategoryID != nil {
		e.CategoryID = *patch.CategoryID
	}
	if patch.SubcategoryID != nil {
		v := *patch.SubcategoryID
		e.SubcategoryID = &v
	}
	if patch.DisplayOrder != nil {
		e.DisplayOrder = *patch.DisplayOrder
	}
	s.expenses[id] = e
	s.syncState[id] = &ledgerState{status: services.SyncPending}
	return nil
}

func (s *Store) DeleteExpense(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("DeleteExpense"); err != nil {
		return err
	}

	if _, ok := s.expenses[id]; !ok {
		return fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
	}
	delete(s.expenses, id)
	delete(s.syncState, id)
	return nil
}

// --- fixed expense templates ---

func (s *Store) GetTemplate(ctx context.Context, id int64) (core.FixedExpenseTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("GetTemplate"); err != nil {
		return core.FixedExpenseTemplate{}, err
	}

	t, ok := s.templates[id]
	if !ok {
		return core.FixedExpenseTemplate{}, fmt.Errorf("fixed expense template %d: %w", id, core.ErrNotFound)
	}
	return copyTemplate(t), nil
}

func (s *Store) ListTemplates(ctx context.Context, onlyActive bool) ([]core.FixedExpenseTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("ListTemplates"); err != nil {
		return nil, err
	}

	var templates []core.FixedExpenseTemplate
	for _, t := range s.templates {
		if onlyActive && !t.IsActive {
			continue
		}
		templates = append(templates, copyTemplate(t))
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })
	return templates, nil
}

func (s *Store) CreateTemplate(ctx context.Context, t core.FixedExpenseTemplate) (core.FixedExpenseTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("CreateTemplate"); err != nil {
		return core.FixedExpenseTemplate{}, err
	}

	t.ID = s.newID()
	s.templates[t.ID] = copyTemplate(t)
	return copyTemplate(t), nil
}

func (s *Store) UpdateTemplate(ctx context.Context, id int64, patch services.TemplatePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("UpdateTemplate"); err != nil {
		return err
	}

	t, ok := s.templates[id]
	if !ok {
		return fmt.Errorf("fixed expense template %d: %w", id, core.ErrNotFound)
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.AmountCents != nil {
		t.Amount = core.Money{Cents: *patch.AmountCents}
	}
	if patch.StartDate != nil {
		t.StartDate = *patch.StartDate
	}
	if patch.CategoryID != nil {
		t.CategoryID = *patch.CategoryID
	}
	if patch.SubcategoryID != nil {
		v := *patch.SubcategoryID
		t.SubcategoryID = &v
	}
	s.templates[id] = t
	return nil
}

func (s *Store) DeactivateTemplate(ctx context.Context, id int64, end core.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("DeactivateTemplate"); err != nil {
		return err
	}

	t, ok := s.templates[id]
	if !ok {
		return fmt.Errorf("fixed expense template %d: %w", id, core.ErrNotFound)
	}
	t.IsActive = false
	t.EndDate = &end
	s.templates[id] = t
	return nil
}

// --- exclusions ---

func (s *Store) CreateExclusion(ctx context.Context, templateID, periodID int64) (core.FixedExpenseExclusion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("CreateExclusion"); err != nil {
		return core.FixedExpenseExclusion{}, err
	}

	for _, ex := range s.exclusions {
		if ex.TemplateID == templateID && ex.BillingPeriodID == periodID {
			return ex, nil
		}
	}
	ex := core.FixedExpenseExclusion{
		ID:              s.newID(),
		TemplateID:      templateID,
		BillingPeriodID: periodID,
	}
	s.exclusions[ex.ID] = ex
	return ex, nil
}

func (s *Store) ListExclusions(ctx context.Context) ([]core.FixedExpenseExclusion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("ListExclusions"); err != nil {
		return nil, err
	}
	return s.filterExclusions(func(core.FixedExpenseExclusion) bool { return true }), nil
}

func (s *Store) ListTemplateExclusions(ctx context.Context, templateID int64) ([]core.FixedExpenseExclusion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("ListTemplateExclusions"); err != nil {
		return nil, err
	}
	return s.filterExclusions(func(ex core.FixedExpenseExclusion) bool {
		return ex.TemplateID == templateID
	}), nil
}

func (s *Store) ListPeriodExclusions(ctx context.Context, periodID int64) ([]core.FixedExpenseExclusion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("ListPeriodExclusions"); err != nil {
		return nil, err
	}
	return s.filterExclusions(func(ex core.FixedExpenseExclusion) bool {
		return ex.BillingPeriodID == periodID
	}), nil
}

func (s *Store) filterExclusions(keep func(core.FixedExpenseExclusion) bool) []core.FixedExpenseExclusion {
	var exclusions []core.FixedExpenseExclusion
	for _, ex := range s.exclusions {
		if keep(ex) {
			exclusions = append(exclusions, ex)
		}
	}
	sort.Slice(exclusions, func(i, j int) bool { return exclusions[i].ID < exclusions[j].ID })
	return exclusions
}

// --- category goals ---

func (s *Store) GetCategoryGoal(ctx context.Context, userID, categoryID int64) (*core.CategoryGoal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("GetCategoryGoal"); err != nil {
		return nil, err
	}

	for _, g := range s.goals {
		if g.UserID == userID && g.CategoryID == categoryID {
			goal := g
			return &goal, nil
		}
	}
	return nil, nil
}

func (s *Store) ListCategoryGoals(ctx context.Context, userID int64) ([]core.CategoryGoal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("ListCategoryGoals"); err != nil {
		return nil, err
	}

	var goals []core.CategoryGoal
	for _, g := range s.goals {
		if g.UserID == userID {
			goals = append(goals, g)
		}
	}
	sort.Slice(goals, func(i, j int) bool { return goals[i].CategoryID < goals[j].CategoryID })
	return goals, nil
}

func (s *Store) UpsertCategoryGoal(ctx context.Context, g core.CategoryGoal) (core.CategoryGoal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("UpsertCategoryGoal"); err != nil {
		return core.CategoryGoal{}, err
	}

	for id, existing := range s.goals {
		if existing.UserID == g.UserID && existing.CategoryID == g.CategoryID {
			existing.Percent = g.Percent
			s.goals[id] = existing
			return existing, nil
		}
	}
	g.ID = s.newID()
	s.goals[g.ID] = g
	return g, nil
}

func (s *Store) GetGoalOverride(ctx context.Context, userID, categoryID, periodID int64) (*core.CategoryGoalOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("GetGoalOverride"); err != nil {
		return nil, err
	}

	for _, o := range s.overrides {
		if o.UserID == userID && o.CategoryID == categoryID && o.BillingPeriodID == periodID {
			override := o
			return &override, nil
		}
	}
	return nil, nil
}

func (s *Store) ListGoalOverrides(ctx context.Context, userID, periodID int64) ([]core.CategoryGoalOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("ListGoalOverrides"); err != nil {
		return nil, err
	}

	var overrides []core.CategoryGoalOverride
	for _, o := range s.overrides {
		if o.UserID == userID && o.BillingPeriodID == periodID {
			overrides = append(overrides, o)
		}
	}
	sort.Slice(overrides, func(i, j int) bool { return overrides[i].CategoryID < overrides[j].CategoryID })
	return overrides, nil
}

func (s *Store) UpsertGoalOverride(ctx context.Context, o core.CategoryGoalOverride) (core.CategoryGoalOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("UpsertGoalOverride"); err != nil {
		return core.CategoryGoalOverride{}, err
	}

	for id, existing := range s.overrides {
		if existing.UserID == o.UserID && existing.CategoryID == o.CategoryID && existing.BillingPeriodID == o.BillingPeriodID {
			existing.Percent = o.Percent
			s.overrides[id] = existing
			return existing, nil
		}
	}
	o.ID = s.newID()
	s.overrides[o.ID] = o
	return o, nil
}

// --- ledger sync state ---

func (s *Store) PendingLedgerExpenses(ctx context.Context, limit int) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("PendingLedgerExpenses"); err != nil {
		return nil, err
	}

	var pending []core.Expense
	for id, state := range s.syncState {
		if state.status != services.SyncPending {
			continue
		}
		if e, ok := s.expenses[id]; ok {
			pending = append(pending, copyExpense(e))
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *Store) LedgerSyncStatus(ctx context.Context, expenseID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("LedgerSyncStatus"); err != nil {
		return "", err
	}

	state, ok := s.syncState[expenseID]
	if !ok {
		return "", fmt.Errorf("expense %d: %w", expenseID, core.ErrNotFound)
	}
	return state.status, nil
}

func (s *Store) MarkLedgerSynced(ctx context.Context, expenseID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("MarkLedgerSynced"); err != nil {
		return err
	}

	state, ok := s.syncState[expenseID]
	if !ok {
		return fmt.Errorf("expense %d: %w", expenseID, core.ErrNotFound)
	}
	state.status = services.SyncSynced
	state.attempts = 0
	return nil
}

func (s *Store) MarkLedgerError(ctx context.Context, expenseID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("MarkLedgerError"); err != nil {
		return err
	}

	state, ok := s.syncState[expenseID]
	if !ok {
		return fmt.Errorf("expense %d: %w", expenseID, core.ErrNotFound)
	}
	state.status = services.SyncError
	return nil
}

func (s *Store) IncrementLedgerAttempts(ctx context.Context, expenseID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("IncrementLedgerAttempts"); err != nil {
		return 0, err
	}

	state, ok := s.syncState[expenseID]
	if !ok {
		return 0, fmt.Errorf("expense %d: %w", expenseID, core.ErrNotFound)
	}
	state.attempts++
	return state.attempts, nil
}

// --- helpers ---

func copyExpense(e core.Expense) core.Expense {
	if e.SubcategoryID != nil {
		v := *e.SubcategoryID
		e.SubcategoryID = &v
	}
	if e.FixedTemplateID != nil {
		v := *e.FixedTemplateID
		e.FixedTemplateID = &v
	}
	return e
}

func copyTemplate(t core.FixedExpenseTemplate) core.FixedExpenseTemplate {
	if t.SubcategoryID != nil {
		v := *t.SubcategoryID
		t.SubcategoryID = &v
	}
	if t.EndDate != nil {
		v := *t.EndDate
		t.EndDate = &v
	}
	return t
}
