package http

import (
	"net/http"
	"sync/atomic"

	"github.com/kevindbotelho/fin-planner/internal/core"
	"github.com/kevindbotelho/fin-planner/internal/log"
	"github.com/kevindbotelho/fin-planner/internal/services"
)

// expenseCreateRequest is the create payload. Amount is a decimal string,
// "12.34" or "12,34"; type defaults to variable when omitted.
type expenseCreateRequest struct {
	Description   string    `json:"description"`
	Amount        string    `json:"amount"`
	PurchaseDate  core.Date `json:"purchase_date"`
	CategoryID    int64     `json:"category_id"`
	SubcategoryID *int64    `json:"subcategory_id"`
	Type          string    `json:"type"`
}

// expenseUpdateRequest patches an expense. Absent fields stay untouched.
type expenseUpdateRequest struct {
	Description   *string    `json:"description"`
	Amount        *string    `json:"amount"`
	PurchaseDate  *core.Date `json:"purchase_date"`
	CategoryID    *int64     `json:"category_id"`
	SubcategoryID *int64     `json:"subcategory_id"`
	DisplayOrder  *int64     `json:"display_order"`
}

func (req expenseUpdateRequest) toPatch() (services.ExpensePatch, error) {
	patch := services.ExpensePatch{
		Description:   req.Description,
		PurchaseDate:  req.PurchaseDate,
		CategoryID:    req.CategoryID,
		SubcategoryID: req.SubcategoryID,
		DisplayOrder:  req.DisplayOrder,
	}
	if req.Amount != nil {
		cents, err := core.ParseDecimalToCents(*req.Amount)
		if err != nil {
			return patch, err
		}
		patch.AmountCents = &cents
	}
	return patch, nil
}

// handleExpenseList lists expenses, filtered by template_id, an explicit
// [from, to) window, or period_id which expands to the period's interval.
func (s *Server) handleExpenseList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseExpenseFilter(r)
	if err != nil {
		s.respondBadRequest(w, r, err)
		return
	}
	periodID, err := queryID(r, "period_id")
	if err != nil {
		s.respondBadRequest(w, r, err)
		return
	}
	if periodID != 0 {
		period, err := s.periods.Get(r.Context(), periodID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		filter.From = &period.StartDate
		filter.To = &period.EndDate
	}

	rows, err := s.expenses.List(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseListJSON(rows))
}

func (s *Server) handleExpenseGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondBadRequest(w, r, err)
		return
	}
	expense, err := s.expenses.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseJSON(expense))
}

func (s *Server) handleExpenseCreate(w http.ResponseWriter, r *http.Request) {
	var req expenseCreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondBadRequest(w, r, err)
		return
	}
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	expenseType := core.ExpenseType(req.Type)
	if req.Type == "" {
		expenseType = core.TypeVariable
	}

	expense, err := s.expenses.Create(r.Context(), core.Expense{
		Description:   req.Description,
		Amount:        core.Money{Cents: cents},
		PurchaseDate:  req.PurchaseDate,
		CategoryID:    req.CategoryID,
		SubcategoryID: req.SubcategoryID,
		Type:          expenseType,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	atomic.AddInt64(&s.metrics.expensesCreated, 1)
	s.invalidateSummaries()

	fields := log.NewFields().
		WithOperation(log.OpCreate).
		WithExpense(expense.ID, expense.Amount.Cents, expense.CategoryID)
	log.FromContext(r.Context()).Info("expense created", fields.ToSlice()...)

	writeJSON(w, http.StatusCreated, toExpenseJSON(expense))
}

// handleExpenseEdit applies a scoped edit. scope=current touches only the
// addressed row; scope=future also rewrites the template and the instances
// in the current and later periods.
func (s *Server) handleExpenseEdit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondBadRequest(w, r, err)
		return
	}
	scope, err := parseScope(r)
	if err != nil {
		s.respondBadRequest(w, r, err)
		return
	}
	var req expenseUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondBadRequest(w, r, err)
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	result, err := s.expenses.Edit(r.Context(), id, patch, scope)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.invalidateSummaries()

	fields := log.NewFields().WithOperation(log.OpUpdate)
	fields[log.FieldExpenseID] = id
	fields["scope"] = string(scope)
	fields[log.FieldCount] = len(result.Siblings)
	log.FromContext(r.Context()).Info("expense updated", fields.ToSlice()...)

	writeJSON(w, http.StatusOK, toEditResultJSON(result))
}

// handleExpenseDelete applies a scoped delete. For materialized instances,
// scope=current pins an exclusion so the row never comes back; scope=future
// also retires the template.
func (s *Server) handleExpenseDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondBadRequest(w, r, err)
		return
	}
	scope, err := parseScope(r)
	if err != nil {
		s.respondBadRequest(w, r, err)
		return
	}

	result, err := s.expenses.Delete(r.Context(), id, scope)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.invalidateSummaries()

	fields := log.NewFields().WithOperation(log.OpDelete)
	fields[log.FieldExpenseID] = id
	fields["scope"] = string(scope)
	fields[log.FieldCount] = len(result.DeletedIDs)
	log.FromContext(r.Context()).Info("expense deleted", fields.ToSlice()...)

	writeJSON(w, http.StatusOK, toDeleteResultJSON(result))
}
