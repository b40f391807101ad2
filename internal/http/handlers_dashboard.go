package http

import (
	"net/http"

	"mintmind/internal/analytics"
	applog "mintmind/internal/log"
)

// Aggregate endpoints never leak internal errors: a failed computation
// answers 500 with a zeroed payload and analytics.ComputationErrorMessage.

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := s.now()

	ov, err := s.analytics.Overview(ctx, OwnerFromContext(ctx), now)
	if err != nil {
		logComputationError(ctx, "summary", err)
		zero := analytics.Overview{
			Month:     analytics.MonthlySummary(nil, now.Year(), now.Month()),
			Breakdown: analytics.MonthlyBreakdown(nil),
		}
		body := toOverviewJSON(zero)
		body.Error = analytics.ComputationErrorMessage
		NewResponse().Status(http.StatusInternalServerError).Body(body).Write(w)
		return
	}
	NewResponse().Body(toOverviewJSON(ov)).Write(w)
}

func (s *Server) handleGamblingSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := s.now()
	owner := OwnerFromContext(ctx)
	key := s.cacheKey(owner, "gambling", now)

	if view, ok := s.gamblingCache.Get(key); ok {
		applog.FromContext(ctx).DebugContext(ctx, "Gambling summary cache hit")
		NewResponse().Body(toGamblingJSON(view)).Write(w)
		return
	}

	view, err := s.analytics.Gambling(ctx, owner, now)
	if err != nil {
		logComputationError(ctx, "gambling_summary", err)
		body := toGamblingJSON(analytics.GamblingSummary(nil, now, nil))
		body.Error = analytics.ComputationErrorMessage
		NewResponse().Status(http.StatusInternalServerError).Body(body).Write(w)
		return
	}
	s.gamblingCache.Set(key, view)
	NewResponse().Body(toGamblingJSON(view)).Write(w)
}

func (s *Server) handleGamblingAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	alerts, in, err := s.analytics.AlertsFor(ctx, OwnerFromContext(ctx), s.now())
	if err != nil {
		logComputationError(ctx, "gambling_alerts", err)
		body := toAlertsJSON(nil, analytics.AlertInput{})
		body.Error = analytics.ComputationErrorMessage
		NewResponse().Status(http.StatusInternalServerError).Body(body).Write(w)
		return
	}
	NewResponse().Body(toAlertsJSON(alerts, in)).Write(w)
}

// handleGamblingDashboard always answers 200; failed parts are zeroed and
// listed under "errors".
func (s *Server) handleGamblingDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dash := s.analytics.Dashboard(ctx, OwnerFromContext(ctx), s.now())
	NewResponse().Body(toDashboardJSON(dash)).Write(w)
}

func (s *Server) handleSpendingChart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := s.now()
	owner := OwnerFromContext(ctx)
	key := s.cacheKey(owner, "chart", now)

	if chart, ok := s.chartCache.Get(key); ok {
		NewResponse().Body(toChartJSON(chart)).Write(w)
		return
	}

	chart, err := s.analytics.SpendingChart(ctx, owner, now)
	if err != nil {
		logComputationError(ctx, "spending_chart", err)
		body := toChartJSON(analytics.Chart{
			Series: analytics.DailySeries(nil, now, analytics.SeriesDays, nil),
		})
		body.Error = analytics.ComputationErrorMessage
		NewResponse().Status(http.StatusInternalServerError).Body(body).Write(w)
		return
	}
	s.chartCache.Set(key, chart)
	NewResponse().Body(toChartJSON(chart)).Write(w)
}
