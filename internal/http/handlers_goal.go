package http

import (
	"errors"
	"net/http"

	"github.com/kevindbotelho/fin-planner/internal/log"
	"github.com/kevindbotelho/fin-planner/internal/services"
)

// goalUpsertRequest is one row of the defaults batch.
type goalUpsertRequest struct {
	CategoryID int64 `json:"category_id"`
	Percent    int64 `json:"percent"`
}

// goalOverrideRequest pins a category goal for one period. Percent 0 is a
// real override, distinct from having no override at all.
type goalOverrideRequest struct {
	CategoryID int64 `json:"category_id"`
	PeriodID   int64 `json:"period_id"`
	Percent    int64 `json:"percent"`
}

func (s *Server) handleGoalList(w http.ResponseWriter, r *http.Request) {
	goals, err := s.goals.ListDefaults(r.Context(), defaultUserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGoalListJSON(goals))
}

// handleGoalSetDefaults upserts default goals in batch. Rows fail
// independently; the response reports both sides and the call stays 200
// as long as the batch itself could be processed.
func (s *Server) handleGoalSetDefaults(w http.ResponseWriter, r *http.Request) {
	var reqs []goalUpsertRequest
	if err := decodeJSON(w, r, &reqs); err != nil {
		s.respondBadRequest(w, r, err)
		return
	}
	if len(reqs) == 0 {
		s.respondBadRequest(w, r, errors.New("empty goals batch"))
		return
	}

	upserts := make([]services.GoalUpsert, 0, len(reqs))
	for _, g := range reqs {
		upserts = append(upserts, services.GoalUpsert{CategoryID: g.CategoryID, Percent: g.Percent})
	}

	result, err := s.goals.SetDefaults(r.Context(), defaultUserID, upserts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.invalidateSummaries()

	fields := log.NewFields().WithOperation(log.OpUpdate)
	fields["saved"] = len(result.Saved)
	fields["failed"] = len(result.Failed)
	log.FromContext(r.Context()).Info("category goals saved", fields.ToSlice()...)

	writeJSON(w, http.StatusOK, toGoalBatchJSON(result))
}

// handleGoalEffective resolves the goal percent that applies to a category
// in a period: the override when one exists, else the default, else zero.
func (s *Server) handleGoalEffective(w http.ResponseWriter, r *http.Request) {
	categoryID, err := queryID(r, "category_id")
	if err != nil {
		s.respondBadRequest(w, r, err)
		return
	}
	periodID, err := queryID(r, "period_id")
	if err != nil {
		s.respondBadRequest(w, r, err)
		return
	}
	if categoryID == 0 || periodID == 0 {
		s.respondBadRequest(w, r, errors.New("category_id and period_id are required"))
		return
	}

	percent, err := s.goals.Effective(r.Context(), defaultUserID, categoryID, periodID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category_id": categoryID,
		"period_id":   periodID,
		"percent":     percent,
	})
}

func (s *Server) handleGoalSetOverride(w http.ResponseWriter, r *http.Request) {
	var req goalOverrideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondBadRequest(w, r, err)
		return
	}

	override, err := s.goals.SetOverride(r.Context(), defaultUserID, req.CategoryID, req.PeriodID, req.Percent)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.invalidateSummaries()

	fields := log.NewFields().WithOperation(log.OpUpdate).WithPeriod(req.PeriodID)
	fields[log.FieldCategoryID] = req.CategoryID
	fields["percent"] = req.Percent
	log.FromContext(r.Context()).Info("goal override saved", fields.ToSlice()...)

	writeJSON(w, http.StatusOK, toOverrideJSON(override))
}
