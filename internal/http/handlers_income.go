package http

import (
	"net/http"

	"mintmind/internal/analytics"
)

const (
	defaultIncomeMonths = 3
	maxIncomeMonths     = 24
)

// handleMonthlyIncome averages income over the complete months before the
// current one. ?months= widens the window.
func (s *Server) handleMonthlyIncome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	months, err := ParseMonths(r.URL.Query(), defaultIncomeMonths, maxIncomeMonths)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	income, err := s.analytics.MonthlyIncome(ctx, OwnerFromContext(ctx), s.now(), months)
	if err != nil {
		logComputationError(ctx, "monthly_income", err)
		body := toIncomeJSON(analytics.Income{MonthsWindow: months})
		body.Error = analytics.ComputationErrorMessage
		NewResponse().Status(http.StatusInternalServerError).Body(body).Write(w)
		return
	}
	NewResponse().Body(toIncomeJSON(income)).Write(w)
}
