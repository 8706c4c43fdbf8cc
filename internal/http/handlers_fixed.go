package http

import (
	"net/http"

	"github.com/kevindbotelho/fin-planner/internal/core"
	"github.com/kevindbotelho/fin-planner/internal/log"
)

// templateRequest is the create payload for fixed-expense templates.
// start_date is both the first applicable date and the source of the
// desired day-of-month for later periods.
type templateRequest struct {
	Description   string    `json:"description"`
	Amount        string    `json:"amount"`
	CategoryID    int64     `json:"category_id"`
	SubcategoryID *int64    `json:"subcategory_id"`
	StartDate     core.Date `json:"start_date"`
}

// handleTemplateList lists templates. active=false includes retired ones.
func (s *Server) handleTemplateList(w http.ResponseWriter, r *http.Request) {
	onlyActive, err := queryBool(r, "active", true)
	if err != nil {
		s.respondBadRequest(w, r, err)
		return
	}
	templates, err := s.fixed.List(r.Context(), onlyActive)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateListJSON(templates))
}

// handleTemplateCreate inserts the template and reports the instances
// materialized into existing periods alongside.
func (s *Server) handleTemplateCreate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondBadRequest(w, r, err)
		return
	}
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	template, materialized, err := s.fixed.Create(r.Context(), core.FixedExpenseTemplate{
		Description:   req.Description,
		Amount:        core.Money{Cents: cents},
		CategoryID:    req.CategoryID,
		SubcategoryID: req.SubcategoryID,
		StartDate:     req.StartDate,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.invalidateSummaries()

	fields := log.NewFields().WithOperation(log.OpCreate)
	fields[log.FieldTemplateID] = template.ID
	fields[log.FieldAmountCents] = template.Amount.Cents
	fields[log.FieldCount] = len(materialized)
	log.FromContext(r.Context()).Info("fixed expense template created", fields.ToSlice()...)

	writeJSON(w, http.StatusCreated, map[string]any{
		"template":     toTemplateJSON(template),
		"materialized": toExpenseListJSON(materialized),
	})
}

func (s *Server) handleTemplateGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondBadRequest(w, r, err)
		return
	}
	template, err := s.fixed.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateJSON(template))
}

// handleTemplateExclusions lists the periods the template is pinned out of.
func (s *Server) handleTemplateExclusions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondBadRequest(w, r, err)
		return
	}
	exclusions, err := s.fixed.Exclusions(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExclusionListJSON(exclusions))
}
