package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"mintmind/internal/core"
	applog "mintmind/internal/log"
	"mintmind/internal/storage"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponse().Body(map[string]any{
		"status":    "ok",
		"timestamp": s.now().Format(time.RFC3339),
	}).Write(w)
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if s.ready == nil {
		checks["store"] = "ok"
	} else if err := s.ready.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "Readiness check failed", applog.FieldError, err)
		checks["store"] = "failed"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	checks["cache"] = map[string]any{
		"gambling_entries": s.gamblingCache.Size(),
		"chart_entries":    s.chartCache.Size(),
	}
	lm := s.limiter.GetMetrics()
	checks["rate_limiter"] = map[string]any{
		"active_owners": lm.ClientCount,
		"total_hits":    lm.TotalHits,
	}
	tm := s.tracer.GetMetrics()
	checks["requests"] = map[string]any{
		"total":           tm.TotalRequests,
		"avg_response_us": tm.AverageResponseTime,
	}

	NewResponse().Status(httpStatus).Body(map[string]any{
		"status":    status,
		"timestamp": s.now().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// writeServiceError maps domain errors to HTTP statuses. Anything unexpected
// is logged and reported as a generic internal error.
func (s *Server) writeServiceError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		NotFoundError("transaction not found").Write(w)
	case errors.Is(err, core.ErrEmptyCategory), errors.Is(err, core.ErrNotesTooLong):
		ValidationError(err.Error()).Write(w)
	case errors.Is(err, core.ErrEmptyOwner):
		UnauthorizedError().Write(w)
	case errors.Is(err, context.DeadlineExceeded):
		ServiceUnavailableError("request timed out").Write(w)
	default:
		applog.FromContext(ctx).ErrorContext(ctx, "Request failed",
			applog.FieldOperation, op,
			applog.FieldError, err)
		InternalError().Write(w)
	}
}

// logComputationError records a failed aggregate. The client only sees
// analytics.ComputationErrorMessage.
func logComputationError(ctx context.Context, view string, err error) {
	applog.FromContext(ctx).ErrorContext(ctx, "Aggregate computation failed",
		"view", view,
		applog.FieldError, err)
}
