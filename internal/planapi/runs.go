package planapi

import (
	"context"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/aware/internal/decision"
)

func (a *API) handleRun(trigger string, run func(context.Context) (*decision.Plan, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		span := trace.SpanFromContext(r.Context())
		span.SetAttributes(attribute.String("aware.trigger", trigger))

		plan, err := run(r.Context())
		switch {
		case errors.Is(err, decision.ErrRunCancelled):
			writeError(w, http.StatusServiceUnavailable, "run cancelled")
			return
		case errors.Is(err, decision.ErrSnapshot):
			a.logger.Error(r.Context(), err, "coordination run failed", "trigger", trigger)
			writeError(w, http.StatusBadGateway, "sensor snapshot unavailable")
			return
		case err != nil:
			a.logger.Error(r.Context(), err, "coordination run failed", "trigger", trigger)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		span.SetAttributes(
			attribute.String("aware.run_id", plan.RunID),
			attribute.String("aware.plan.status", string(plan.Status)),
		)
		writeJSON(w, http.StatusOK, plan)
	}
}
