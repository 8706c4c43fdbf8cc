package http

import (
	"net/http"
	"sync/atomic"

	"github.com/kevindbotelho/fin-planner/internal/core"
	"github.com/kevindbotelho/fin-planner/internal/log"
)

// periodRequest is the create/update payload for billing periods. The
// interval is half-open: start_date belongs to the period, end_date does not.
type periodRequest struct {
	Name      string    `json:"name"`
	StartDate core.Date `json:"start_date"`
	EndDate   core.Date `json:"end_date"`
}

func (req periodRequest) toPeriod() core.BillingPeriod {
	return core.BillingPeriod{Name: req.Name, StartDate: req.StartDate, EndDate: req.EndDate}
}

func (s *Server) handlePeriodList(w http.ResponseWriter, r *http.Request) {
	periods, err := s.periods.List(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodListJSON(periods))
}

// handlePeriodCreate inserts the period and reports the fixed expenses
// materialized into it alongside.
func (s *Server) handlePeriodCreate(w http.ResponseWriter, r *http.Request) {
	var req periodRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondBadRequest(w, r, err)
		return
	}

	period, materialized, err := s.periods.Create(r.Context(), req.toPeriod())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	atomic.AddInt64(&s.metrics.periodsCreated, 1)
	s.invalidateSummaries()

	fields := log.NewFields().WithOperation(log.OpCreate).WithPeriod(period.ID)
	fields[log.FieldCount] = len(materialized)
	log.FromContext(r.Context()).Info("billing period created", fields.ToSlice()...)

	writeJSON(w, http.StatusCreated, map[string]any{
		"period":       toPeriodJSON(period),
		"materialized": toExpenseListJSON(materialized),
	})
}

func (s *Server) handlePeriodGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondBadRequest(w, r, err)
		return
	}
	period, err := s.periods.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodJSON(period))
}

func (s *Server) handlePeriodUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondBadRequest(w, r, err)
		return
	}
	var req periodRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondBadRequest(w, r, err)
		return
	}

	period, err := s.periods.Update(r.Context(), id, req.toPeriod())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.invalidateSummaries()

	fields := log.NewFields().WithOperation(log.OpUpdate).WithPeriod(id)
	log.FromContext(r.Context()).Info("billing period updated", fields.ToSlice()...)

	writeJSON(w, http.StatusOK, toPeriodJSON(period))
}

func (s *Server) handlePeriodDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondBadRequest(w, r, err)
		return
	}
	if err := s.periods.Delete(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.invalidateSummaries()

	fields := log.NewFields().WithOperation(log.OpDelete).WithPeriod(id)
	log.FromContext(r.Context()).Info("billing period deleted", fields.ToSlice()...)

	w.WriteHeader(http.StatusNoContent)
}

// handlePeriodSummary serves the spending-vs-goals view of one period,
// cached because it fans out into several store reads.
func (s *Server) handlePeriodSummary(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondBadRequest(w, r, err)
		return
	}

	key := summaryCacheKey(defaultUserID, id)
	if cached, ok := s.summaryCache.Get(key); ok {
		atomic.AddInt64(&s.metrics.cacheHits, 1)
		writeJSON(w, http.StatusOK, toSummaryJSON(cached))
		return
	}
	atomic.AddInt64(&s.metrics.cacheMisses, 1)

	summary, err := s.goals.PeriodSummary(r.Context(), defaultUserID, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.summaryCache.Set(key, summary)
	writeJSON(w, http.StatusOK, toSummaryJSON(summary))
}
