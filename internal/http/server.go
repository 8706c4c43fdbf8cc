// Package http serves the planner's JSON API: billing periods, expenses,
// fixed-expense templates and category goals, plus the usual health and
// metrics endpoints.
package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kevindbotelho/fin-planner/internal/cache"
	"github.com/kevindbotelho/fin-planner/internal/core"
	"github.com/kevindbotelho/fin-planner/internal/log"
	"github.com/kevindbotelho/fin-planner/internal/middleware/ratelimit"
	"github.com/kevindbotelho/fin-planner/internal/middleware/security"
	"github.com/kevindbotelho/fin-planner/internal/middleware/trace"
	"github.com/kevindbotelho/fin-planner/internal/services"
)

// defaultUserID scopes goal reads and writes. The schema carries a user ID
// on every goal row; the API currently serves a single user.
const defaultUserID int64 = 1

const (
	summaryCacheSize = 128
	summaryCacheTTL  = 5 * time.Minute
)

// Server is the JSON API over the planner services. It owns the listener,
// the middleware chain and a small cache for period summaries.
type Server struct {
	http.Server

	periods  *services.PeriodService
	expenses *services.ExpenseService
	fixed    *services.FixedExpenseService
	goals    *services.GoalService

	summaryCache *cache.LRUCache[core.PeriodSummary]
	cacheManager *cache.Manager

	traceMW     *trace.Middleware
	rateLimiter *ratelimit.Limiter
	detector    *security.Detector

	logger  *log.Logger
	metrics appMetrics

	shutdownOnce sync.Once
}

// appMetrics carries the process-level counters surfaced on /metrics.
// Counter fields are touched through the atomic package only.
type appMetrics struct {
	startTime       time.Time
	periodsCreated  int64
	expensesCreated int64
	cacheHits       int64
	cacheMisses     int64
}

// NewServer wires the services behind the API routes. A nil logger falls
// back to the default configuration.
func NewServer(addr string, logger *log.Logger, periods *services.PeriodService, expenses *services.ExpenseService, fixed *services.FixedExpenseService, goals *services.GoalService) *Server {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		periods:      periods,
		expenses:     expenses,
		fixed:        fixed,
		goals:        goals,
		summaryCache: cache.NewLRUCache[core.PeriodSummary](summaryCacheSize, summaryCacheTTL),
		cacheManager: cache.NewManager(),
		rateLimiter:  ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		detector:     security.NewDetector(),
		logger:       logger,
		metrics:      appMetrics{startTime: time.Now()},
	}
	s.traceMW = trace.NewMiddleware(s.detector.ExtractClientIP)
	s.cacheManager.Register(s.summaryCache)
	s.cacheManager.Start(10 * time.Minute)

	s.Server = http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// routes assembles the handler tree. The rate limiter guards only /api/;
// probes and metrics stay reachable when a client has burned its budget.
func (s *Server) routes() http.Handler {
	api := http.NewServeMux()

	api.HandleFunc("GET /api/periods", s.handlePeriodList)
	api.HandleFunc("POST /api/periods", s.handlePeriodCreate)
	api.HandleFunc("GET /api/periods/{id}", s.handlePeriodGet)
	api.HandleFunc("PUT /api/periods/{id}", s.handlePeriodUpdate)
	api.HandleFunc("DELETE /api/periods/{id}", s.handlePeriodDelete)
	api.HandleFunc("GET /api/periods/{id}/summary", s.handlePeriodSummary)

	api.HandleFunc("GET /api/expenses", s.handleExpenseList)
	api.HandleFunc("POST /api/expenses", s.handleExpenseCreate)
	api.HandleFunc("GET /api/expenses/{id}", s.handleExpenseGet)
	api.HandleFunc("PUT /api/expenses/{id}", s.handleExpenseEdit)
	api.HandleFunc("DELETE /api/expenses/{id}", s.handleExpenseDelete)

	api.HandleFunc("GET /api/fixed-expenses", s.handleTemplateList)
	api.HandleFunc("POST /api/fixed-expenses", s.handleTemplateCreate)
	api.HandleFunc("GET /api/fixed-expenses/{id}", s.handleTemplateGet)
	api.HandleFunc("GET /api/fixed-expenses/{id}/exclusions", s.handleTemplateExclusions)

	api.HandleFunc("GET /api/goals", s.handleGoalList)
	api.HandleFunc("PUT /api/goals", s.handleGoalSetDefaults)
	api.HandleFunc("GET /api/goals/effective", s.handleGoalEffective)
	api.HandleFunc("PUT /api/goals/overrides", s.handleGoalSetOverride)

	limited := s.rateLimiter.Middleware(s.detector.ExtractClientIP, s.handleRateLimited)(api)

	root := http.NewServeMux()
	root.Handle("/api/", limited)
	root.HandleFunc("GET /healthz", s.handleHealth)
	root.HandleFunc("GET /readyz", s.handleReady)
	root.HandleFunc("GET /metrics", s.handleMetrics)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	requestID := func(r *http.Request) string { return trace.GetRequestID(r.Context()) }

	handler := s.watchSuspicious(root)
	handler = log.RequestIDMiddleware(requestID)(handler)
	handler = log.Middleware(s.logger)(handler)
	handler = headers.Middleware(handler)
	return s.traceMW.Middleware(handler)
}

// handleRateLimited answers for clients over budget.
func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", "60")
	writeJSON(w, http.StatusTooManyRequests, errorBody{
		Error:     "rate limit exceeded, retry later",
		RequestID: trace.GetRequestID(r.Context()),
	})
}

// watchSuspicious logs requests the detector flags. Flagged traffic still
// goes through; the counter feeds /metrics and the log line feeds alerting.
func (s *Server) watchSuspicious(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.DetectSuspiciousRequest(r) {
			fields := log.NewFields().
				WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.UserAgent(), r.Referer()).
				WithClientIP(s.detector.ExtractClientIP(r))
			log.FromContext(r.Context()).Warn("suspicious request", fields.ToSlice()...)
		}
		next.ServeHTTP(w, r)
	})
}

func summaryCacheKey(userID, periodID int64) string {
	return fmt.Sprintf("summary:%d:%d", userID, periodID)
}

// invalidateSummaries drops every cached summary. Scoped edits can move
// instances between periods, so after a mutation the safe move is to drop
// the lot rather than re-derive which periods were touched.
func (s *Server) invalidateSummaries() {
	if n := s.summaryCache.Clear(); n > 0 {
		s.logger.Debug("summary cache cleared", log.FieldCount, n)
	}
}

// Shutdown drains in-flight requests and stops the background janitors.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.Stop()
	})
	return s.Server.Shutdown(ctx)
}
