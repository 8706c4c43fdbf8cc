package http

// Wire shapes and the error-to-status mapping. Handlers hand every service
// error to respondError; keeping the mapping in one place keeps transport
// concerns out of the services.

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kevindbotelho/fin-planner/internal/core"
	"github.com/kevindbotelho/fin-planner/internal/log"
	"github.com/kevindbotelho/fin-planner/internal/middleware/trace"
	"github.com/kevindbotelho/fin-planner/internal/services"
)

// writeJSON encodes v with the given status. Encode errors are dropped: the
// status line is already on the wire by then.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the uniform error payload. Completed lists the durable steps
// of a partially applied mutation so the client knows what already stuck.
type errorBody struct {
	Error     string   `json:"error"`
	RequestID string   `json:"request_id,omitempty"`
	Completed []string `json:"completed,omitempty"`
}

// validationErrs map to 422: the request was well-formed but the values
// break a domain rule.
var validationErrs = []error{
	core.ErrInvalidAmount,
	core.ErrEmptyDescription,
	core.ErrDescriptionTooLong,
	core.ErrEmptyName,
	core.ErrInvalidCategory,
	core.ErrInvalidType,
	core.ErrInvalidInterval,
	core.ErrInvalidPercent,
	core.ErrInvalidDate,
	core.ErrMissingPeriod,
}

func isValidationError(err error) bool {
	for _, sentinel := range validationErrs {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// respondError maps a service error onto a status code and writes the error
// body. Partial failures come back as 502 so callers treat them as "some
// steps stuck, reconcile before retrying" rather than as a plain server bug.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Error: err.Error(), RequestID: trace.GetRequestID(r.Context())}

	var pe *services.PartialError
	switch {
	case errors.As(err, &pe):
		status = http.StatusBadGateway
		body.Completed = pe.Completed
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case isValidationError(err):
		status = http.StatusUnprocessableEntity
	}

	if status >= http.StatusInternalServerError {
		fields := log.NewFields().
			WithError(err).
			WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.UserAgent(), r.Referer())
		log.FromContext(r.Context()).Error("request failed", fields.ToSlice()...)
	}
	writeJSON(w, status, body)
}

// respondBadRequest reports a malformed request (unreadable body, bad path
// or query parameter) without consulting the services.
func (s *Server) respondBadRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, http.StatusBadRequest, errorBody{
		Error:     err.Error(),
		RequestID: trace.GetRequestID(r.Context()),
	})
}

// Response bodies. Dates render as YYYY-MM-DD; money renders as integer
// cents. Collections are allocated non-nil so empty ones encode as [].

type periodJSON struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	StartDate core.Date `json:"start_date"`
	EndDate   core.Date `json:"end_date"`
}

type expenseJSON struct {
	ID              int64     `json:"id"`
	Description     string    `json:"description"`
	AmountCents     int64     `json:"amount_cents"`
	PurchaseDate    core.Date `json:"purchase_date"`
	CategoryID      int64     `json:"category_id"`
	SubcategoryID   *int64    `json:"subcategory_id,omitempty"`
	Type            string    `json:"type"`
	FixedTemplateID *int64    `json:"fixed_template_id,omitempty"`
	DisplayOrder    int64     `json:"display_order"`
	CreatedAt       time.Time `json:"created_at"`
}

type templateJSON struct {
	ID            int64      `json:"id"`
	Description   string     `json:"description"`
	AmountCents   int64      `json:"amount_cents"`
	CategoryID    int64      `json:"category_id"`
	SubcategoryID *int64     `json:"subcategory_id,omitempty"`
	StartDate     core.Date  `json:"start_date"`
	EndDate       *core.Date `json:"end_date,omitempty"`
	IsActive      bool       `json:"is_active"`
}

type exclusionJSON struct {
	ID              int64 `json:"id"`
	TemplateID      int64 `json:"template_id"`
	BillingPeriodID int64 `json:"billing_period_id"`
}

type goalJSON struct {
	ID         int64 `json:"id"`
	UserID     int64 `json:"user_id"`
	CategoryID int64 `json:"category_id"`
	Percent    int64 `json:"percent"`
}

type overrideJSON struct {
	ID              int64 `json:"id"`
	UserID          int64 `json:"user_id"`
	CategoryID      int64 `json:"category_id"`
	BillingPeriodID int64 `json:"billing_period_id"`
	Percent         int64 `json:"percent"`
}

type categorySpendJSON struct {
	CategoryID  int64 `json:"category_id"`
	SpentCents  int64 `json:"spent_cents"`
	GoalPercent int64 `json:"goal_percent"`
}

type summaryJSON struct {
	Period     periodJSON          `json:"period"`
	TotalCents int64               `json:"total_cents"`
	Categories []categorySpendJSON `json:"categories"`
}

type editResultJSON struct {
	Updated  expenseJSON   `json:"updated"`
	Template *templateJSON `json:"template,omitempty"`
	Siblings []expenseJSON `json:"siblings,omitempty"`
}

type deleteResultJSON struct {
	DeletedIDs          []int64        `json:"deleted_ids"`
	Excluded            *exclusionJSON `json:"excluded,omitempty"`
	DeactivatedTemplate *templateJSON  `json:"deactivated_template,omitempty"`
}

type goalFailureJSON struct {
	CategoryID int64  `json:"category_id"`
	Error      string `json:"error"`
}

type goalBatchJSON struct {
	Saved  []goalJSON        `json:"saved"`
	Failed []goalFailureJSON `json:"failed,omitempty"`
}

func toPeriodJSON(p core.BillingPeriod) periodJSON {
	return periodJSON{ID: p.ID, Name: p.Name, StartDate: p.StartDate, EndDate: p.EndDate}
}

func toPeriodListJSON(rows []core.BillingPeriod) []periodJSON {
	out := make([]periodJSON, 0, len(rows))
	for _, p := range rows {
		out = append(out, toPeriodJSON(p))
	}
	return out
}

func toExpenseJSON(e core.Expense) expenseJSON {
	return expenseJSON{
		ID:              e.ID,
		Description:     e.Description,
		AmountCents:     e.Amount.Cents,
		PurchaseDate:    e.PurchaseDate,
		CategoryID:      e.CategoryID,
		SubcategoryID:   e.SubcategoryID,
		Type:            string(e.Type),
		FixedTemplateID: e.FixedTemplateID,
		DisplayOrder:    e.DisplayOrder,
		CreatedAt:       e.CreatedAt,
	}
}

func toExpenseListJSON(rows []core.Expense) []expenseJSON {
	out := make([]expenseJSON, 0, len(rows))
	for _, e := range rows {
		out = append(out, toExpenseJSON(e))
	}
	return out
}

func toTemplateJSON(t core.FixedExpenseTemplate) templateJSON {
	return templateJSON{
		ID:            t.ID,
		Description:   t.Description,
		AmountCents:   t.Amount.Cents,
		CategoryID:    t.CategoryID,
		SubcategoryID: t.SubcategoryID,
		StartDate:     t.StartDate,
		EndDate:       t.EndDate,
		IsActive:      t.IsActive,
	}
}

func toTemplateListJSON(rows []core.FixedExpenseTemplate) []templateJSON {
	out := make([]templateJSON, 0, len(rows))
	for _, t := range rows {
		out = append(out, toTemplateJSON(t))
	}
	return out
}

func toExclusionJSON(x core.FixedExpenseExclusion) exclusionJSON {
	return exclusionJSON{ID: x.ID, TemplateID: x.TemplateID, BillingPeriodID: x.BillingPeriodID}
}

func toExclusionListJSON(rows []core.FixedExpenseExclusion) []exclusionJSON {
	out := make([]exclusionJSON, 0, len(rows))
	for _, x := range rows {
		out = append(out, toExclusionJSON(x))
	}
	return out
}

func toGoalJSON(g core.CategoryGoal) goalJSON {
	return goalJSON{ID: g.ID, UserID: g.UserID, CategoryID: g.CategoryID, Percent: g.Percent}
}

func toGoalListJSON(rows []core.CategoryGoal) []goalJSON {
	out := make([]goalJSON, 0, len(rows))
	for _, g := range rows {
		out = append(out, toGoalJSON(g))
	}
	return out
}

func toOverrideJSON(o core.CategoryGoalOverride) overrideJSON {
	return overrideJSON{
		ID:              o.ID,
		UserID:          o.UserID,
		CategoryID:      o.CategoryID,
		BillingPeriodID: o.BillingPeriodID,
		Percent:         o.Percent,
	}
}

func toSummaryJSON(s core.PeriodSummary) summaryJSON {
	categories := make([]categorySpendJSON, 0, len(s.Categories))
	for _, c := range s.Categories {
		categories = append(categories, categorySpendJSON{
			CategoryID:  c.CategoryID,
			SpentCents:  c.Spent.Cents,
			GoalPercent: c.GoalPercent,
		})
	}
	return summaryJSON{
		Period:     toPeriodJSON(s.Period),
		TotalCents: s.Total.Cents,
		Categories: categories,
	}
}

func toEditResultJSON(res services.EditResult) editResultJSON {
	out := editResultJSON{Updated: toExpenseJSON(res.Updated)}
	if res.Template != nil {
		t := toTemplateJSON(*res.Template)
		out.Template = &t
	}
	if len(res.Siblings) > 0 {
		out.Siblings = toExpenseListJSON(res.Siblings)
	}
	return out
}

func toDeleteResultJSON(res services.DeleteResult) deleteResultJSON {
	out := deleteResultJSON{DeletedIDs: res.DeletedIDs}
	if out.DeletedIDs == nil {
		out.DeletedIDs = []int64{}
	}
	if res.Excluded != nil {
		x := toExclusionJSON(*res.Excluded)
		out.Excluded = &x
	}
	if res.DeactivatedTemplate != nil {
		t := toTemplateJSON(*res.DeactivatedTemplate)
		out.DeactivatedTemplate = &t
	}
	return out
}

func toGoalBatchJSON(res services.GoalBatchResult) goalBatchJSON {
	out := goalBatchJSON{Saved: toGoalListJSON(res.Saved)}
	for _, f := range res.Failed {
		out.Failed = append(out.Failed, goalFailureJSON{CategoryID: f.CategoryID, Error: f.Err.Error()})
	}
	return out
}
