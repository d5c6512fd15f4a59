package planapi

import (
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/aware/internal/decision"
)

func (a *API) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if a.analytics == nil {
		writeError(w, http.StatusNotImplemented, "analytics not configured")
		return
	}

	rep, err := a.analytics.Report(r.Context())
	switch {
	case errors.Is(err, decision.ErrSnapshot):
		a.logger.Error(r.Context(), err, "analytics report failed")
		writeError(w, http.StatusBadGateway, "sensor snapshot unavailable")
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "analytics report failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.Int("aware.analytics.failed_sections", len(rep.Errors)),
	)
	writeJSON(w, http.StatusOK, rep)
}
